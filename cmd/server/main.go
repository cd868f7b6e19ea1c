package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kushgupta-hiver/doodlecorpse/internal/config"
	"github.com/kushgupta-hiver/doodlecorpse/internal/engine"
	"github.com/kushgupta-hiver/doodlecorpse/internal/gallery"
	"github.com/kushgupta-hiver/doodlecorpse/internal/logging"
	"github.com/kushgupta-hiver/doodlecorpse/internal/match"
	"github.com/kushgupta-hiver/doodlecorpse/internal/transport/httpapi"
	"github.com/kushgupta-hiver/doodlecorpse/internal/transport/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(os.Stderr, logging.FormatConsole, "info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	eng, err := engine.NewEngine(cfg.TerminalRound)
	if err != nil {
		log.Fatal().Err(err).Msg("create engine")
	}

	var (
		archiver match.Archiver
		pictures httpapi.Gallery
	)
	if cfg.GalleryPath != "" {
		store, err := gallery.Open(cfg.GalleryPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.GalleryPath).Msg("open gallery")
		}
		defer store.Close()
		archiver, pictures = store, store
	}

	hub := ws.NewHub(logging.Component(log, "ws"))
	reg := match.NewRegistry(match.Deps{
		Engine:   eng,
		Sender:   hub,
		Archiver: archiver,
		Ticker:   match.RealTicker,
		Options:  cfg.MatchOptions(),
		Log:      logging.Component(log, "match"),
	})
	defer reg.Close()

	socket := ws.NewServer(ws.Config{
		MaxMessageBytes: int64(cfg.MaxMessageBytes),
		SendQueue:       cfg.SendQueue,
		WriteTimeout:    cfg.WriteTimeout,
		InboundRate:     cfg.InboundLimit(),
		InboundBurst:    cfg.InboundBurst,
		OriginPatterns:  cfg.OriginPatterns(),
	}, reg, hub, logging.Component(log, "ws"))

	api := httpapi.NewHandler(reg, pictures, logging.Component(log, "http"))
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.NewRouter(api, socket, cfg.AllowedOrigins),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Int("terminal_round", cfg.TerminalRound).Msg("listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("serve")
		}
		return
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	hub.CloseAll("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
}
