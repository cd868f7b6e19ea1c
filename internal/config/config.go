// Package config loads server settings from DOODLE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/time/rate"

	"github.com/kushgupta-hiver/doodlecorpse/internal/match"
	"github.com/kushgupta-hiver/doodlecorpse/internal/proto"
)

const Prefix = "DOODLE_"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Addr      string `env:"ADDR" envDefault:":8000"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	// GalleryPath is the SQLite file for finished games; empty disables the
	// gallery.
	GalleryPath string `env:"GALLERY_PATH" envDefault:"doodlecorpse.db"`

	MaxPlayers    int `env:"MAX_PLAYERS" envDefault:"8"`
	MinPlayers    int `env:"MIN_PLAYERS" envDefault:"2"`
	TerminalRound int `env:"TERMINAL_ROUND" envDefault:"6"`
	// CreaturePrompts is the size of the mystery creature prompt set. A
	// creature game needs one per player.
	CreaturePrompts int `env:"CREATURE_PROMPTS" envDefault:"20"`

	MaxPointsPerChunk    int `env:"MAX_POINTS_PER_CHUNK" envDefault:"200"`
	MaxStrokesPerSurface int `env:"MAX_STROKES_PER_SURFACE" envDefault:"1024"`
	MaxMessageBytes      int `env:"MAX_MESSAGE_BYTES" envDefault:"32768"`

	TickInterval      time.Duration `env:"TICK_INTERVAL" envDefault:"16ms"`
	FramesPerTick     int           `env:"FRAMES_PER_TICK" envDefault:"1"`
	FrameRate         float64       `env:"FRAME_RATE" envDefault:"0"` // frames/s, 0 = unlimited
	FrameBurst        int           `env:"FRAME_BURST" envDefault:"1"`
	SubmissionTimeout time.Duration `env:"SUBMISSION_TIMEOUT" envDefault:"2m"`

	InboundRate  float64       `env:"INBOUND_RATE" envDefault:"200"`
	InboundBurst int           `env:"INBOUND_BURST" envDefault:"400"`
	SendQueue    int           `env:"SEND_QUEUE" envDefault:"512"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`

	// AllowedOrigins are browser origins such as https://draw.example.com.
	// Empty allows any origin.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom is Load over an explicit environment instead of the process one.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.MinPlayers < 2:
		return fmt.Errorf("%w: MIN_PLAYERS must be at least 2", ErrInvalid)
	case c.MaxPlayers < c.MinPlayers:
		return fmt.Errorf("%w: MAX_PLAYERS below MIN_PLAYERS", ErrInvalid)
	case c.TerminalRound < 2:
		return fmt.Errorf("%w: TERMINAL_ROUND must be at least 2", ErrInvalid)
	case c.MaxPointsPerChunk <= 0:
		return fmt.Errorf("%w: MAX_POINTS_PER_CHUNK must be positive", ErrInvalid)
	case c.MaxStrokesPerSurface <= 0:
		return fmt.Errorf("%w: MAX_STROKES_PER_SURFACE must be positive", ErrInvalid)
	case c.CreaturePrompts <= 0:
		return fmt.Errorf("%w: CREATURE_PROMPTS must be positive", ErrInvalid)
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: TICK_INTERVAL must be positive", ErrInvalid)
	case c.FramesPerTick <= 0:
		return fmt.Errorf("%w: FRAMES_PER_TICK must be positive", ErrInvalid)
	case c.FrameRate < 0 || c.InboundRate < 0:
		return fmt.Errorf("%w: rates cannot be negative", ErrInvalid)
	case c.SendQueue <= 0:
		return fmt.Errorf("%w: SEND_QUEUE must be positive", ErrInvalid)
	}
	if need := proto.MaxFrameSize(c.MaxPointsPerChunk, c.MaxStrokesPerSurface); need > c.MaxMessageBytes {
		return fmt.Errorf("%w: %w: %d points and %d strokes need %d bytes, limit is %d",
			ErrInvalid, proto.ErrFrameTooLarge, c.MaxPointsPerChunk, c.MaxStrokesPerSurface, need, c.MaxMessageBytes)
	}
	return nil
}

// MatchOptions maps the settings onto session options.
func (c Config) MatchOptions() match.Options {
	frameRate := rate.Inf
	if c.FrameRate > 0 {
		frameRate = rate.Limit(c.FrameRate)
	}
	return match.Options{
		MaxPlayers:        c.MaxPlayers,
		MinPlayers:        c.MinPlayers,
		TerminalRound:     c.TerminalRound,
		MaxPointsPerChunk: c.MaxPointsPerChunk,
		MaxStrokes:        c.MaxStrokesPerSurface,
		CreaturePrompts:   c.CreaturePrompts,
		TickInterval:      c.TickInterval,
		FramesPerTick:     c.FramesPerTick,
		FrameRate:         frameRate,
		FrameBurst:        c.FrameBurst,
		SubmissionTimeout: c.SubmissionTimeout,
	}
}

// InboundLimit is the per-connection inbound message rate.
func (c Config) InboundLimit() rate.Limit {
	if c.InboundRate == 0 {
		return rate.Inf
	}
	return rate.Limit(c.InboundRate)
}

// OriginPatterns converts AllowedOrigins into the host patterns checked on
// WebSocket upgrade.
func (c Config) OriginPatterns() []string {
	if len(c.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		o = strings.TrimSpace(o)
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
