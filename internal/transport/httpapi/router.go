// Package httpapi exposes rooms, the gallery and the WebSocket endpoint over
// HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kushgupta-hiver/doodlecorpse/internal/gallery"
	"github.com/kushgupta-hiver/doodlecorpse/internal/match"
)

// Gallery serves archived games. A nil Gallery disables the route.
type Gallery interface {
	Latest(ctx context.Context, code string) (gallery.Record, error)
}

type Handler struct {
	reg     match.Registry
	gallery Gallery
	log     zerolog.Logger
}

func NewHandler(reg match.Registry, g Gallery, log zerolog.Logger) *Handler {
	return &Handler{reg: reg, gallery: g, log: log}
}

// NewRouter wires every route. ws is mounted at GET /ws/:code.
func NewRouter(h *Handler, ws http.Handler, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", h.Health)
	api := r.Group("/api")
	{
		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms/:code", h.RoomStatus)
		api.GET("/rooms/:code/gallery", h.Gallery)
	}
	if ws != nil {
		r.GET("/ws/:code", gin.WrapH(ws))
	}
	return r
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": h.reg.Len()})
}

func (h *Handler) CreateRoom(c *gin.Context) {
	room, err := h.reg.Create(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("create room")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "cannot-create-room"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": room.Code()})
}

func (h *Handler) RoomStatus(c *gin.Context) {
	room, err := h.reg.Lookup(c.Param("code"))
	if err != nil {
		abortLookup(c, err)
		return
	}
	c.JSON(http.StatusOK, room.Status())
}

func (h *Handler) Gallery(c *gin.Context) {
	if h.gallery == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "gallery-disabled"})
		return
	}
	code := match.NormalizeCode(c.Param("code"))
	if len(code) < match.CodeLength {
		abortLookup(c, match.ErrBadCode)
		return
	}
	rec, err := h.gallery.Latest(c.Request.Context(), code)
	switch {
	case errors.Is(err, gallery.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not-found"})
		return
	case err != nil:
		h.log.Error().Err(err).Str("room", code).Msg("load gallery")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unknown-error"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func abortLookup(c *gin.Context, err error) {
	if errors.Is(err, match.ErrBadCode) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": match.ErrorCode(err)})
		return
	}
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": match.ErrorCode(err)})
}
