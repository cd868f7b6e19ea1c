// Package gallery archives finished games: every surface with each round's
// part and the participant who drew it.
package gallery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/kushgupta-hiver/doodlecorpse/internal/drawing"
	"github.com/kushgupta-hiver/doodlecorpse/internal/gallery/migrations"
	"github.com/kushgupta-hiver/doodlecorpse/internal/proto"
)

var (
	ErrNotFound        = errors.New("gallery entry not found")
	ErrAlreadyArchived = errors.New("game already archived")
)

// Record is one finished game.
type Record struct {
	Code         string    `json:"code"`
	FinishedAt   time.Time `json:"finishedAt"`
	Rounds       int       `json:"rounds"`
	Participants []string  `json:"participants"` // by seat
	Surfaces     []Surface `json:"surfaces"`
}

type Surface struct {
	Index int `json:"index"`
	// Prompt is the mystery creature drawn on this surface, if any.
	Prompt *int   `json:"prompt,omitempty"`
	Parts  []Part `json:"parts"`
}

// Part is what one participant drew on a surface in one round.
type Part struct {
	Round   int                   `json:"round"`
	Seat    int                   `json:"seat"`
	Artist  string                `json:"artist"`
	Drawing drawing.MultiLineData `json:"drawing"`
}

// Store persists finished games in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite gallery and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Archive stores rec in a single transaction.
func (s *Store) Archive(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	code := strings.TrimSpace(rec.Code)
	if code == "" {
		return fmt.Errorf("room code is required")
	}
	finished := rec.FinishedAt.UTC()
	if finished.IsZero() {
		finished = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO games (code, finished_at, rounds) VALUES (?, ?, ?)`,
		code, finished.UnixMilli(), rec.Rounds,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyArchived
		}
		return fmt.Errorf("insert game: %w", err)
	}
	gameID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("game id: %w", err)
	}

	for seat, name := range rec.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO game_players (game_id, seat, name) VALUES (?, ?, ?)`,
			gameID, seat, name,
		); err != nil {
			return fmt.Errorf("insert player %d: %w", seat, err)
		}
	}

	for _, surface := range rec.Surfaces {
		if surface.Prompt != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO surface_prompts (game_id, surface, prompt) VALUES (?, ?, ?)`,
				gameID, surface.Index, *surface.Prompt,
			); err != nil {
				return fmt.Errorf("insert prompt for surface %d: %w", surface.Index, err)
			}
		}
		for _, part := range surface.Parts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO surface_parts (game_id, surface, round, seat, artist, drawing)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				gameID, surface.Index, part.Round, part.Seat, part.Artist, proto.MarshalDrawing(part.Drawing),
			); err != nil {
				return fmt.Errorf("insert surface %d round %d: %w", surface.Index, part.Round, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

// Latest returns the most recently finished game played under code.
func (s *Store) Latest(ctx context.Context, code string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	var (
		gameID   int64
		finished int64
		rec      = Record{Code: code}
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, finished_at, rounds FROM games WHERE code = ? ORDER BY finished_at DESC, id DESC LIMIT 1`,
		code,
	).Scan(&gameID, &finished, &rec.Rounds)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get game: %w", err)
	}
	rec.FinishedAt = time.UnixMilli(finished).UTC()

	if rec.Participants, err = s.players(ctx, gameID); err != nil {
		return Record{}, err
	}
	if rec.Surfaces, err = s.surfaces(ctx, gameID); err != nil {
		return Record{}, err
	}
	if err := s.attachPrompts(ctx, gameID, rec.Surfaces); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) players(ctx context.Context, gameID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM game_players WHERE game_id = ? ORDER BY seat`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) surfaces(ctx context.Context, gameID int64) ([]Surface, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT surface, round, seat, artist, drawing FROM surface_parts WHERE game_id = ? ORDER BY surface, round`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer rows.Close()

	bySurface := make(map[int]*Surface)
	for rows.Next() {
		var (
			index int
			part  Part
			blob  []byte
		)
		if err := rows.Scan(&index, &part.Round, &part.Seat, &part.Artist, &blob); err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		if part.Drawing, err = proto.UnmarshalDrawing(blob); err != nil {
			return nil, fmt.Errorf("decode surface %d round %d: %w", index, part.Round, err)
		}
		sf, ok := bySurface[index]
		if !ok {
			sf = &Surface{Index: index}
			bySurface[index] = sf
		}
		sf.Parts = append(sf.Parts, part)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Surface, 0, len(bySurface))
	for _, sf := range bySurface {
		out = append(out, *sf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *Store) attachPrompts(ctx context.Context, gameID int64, surfaces []Surface) error {
	rows, err := s.db.QueryContext(ctx, `SELECT surface, prompt FROM surface_prompts WHERE game_id = ?`, gameID)
	if err != nil {
		return fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var index, prompt int
		if err := rows.Scan(&index, &prompt); err != nil {
			return fmt.Errorf("scan prompt: %w", err)
		}
		for i := range surfaces {
			if surfaces[i].Index == index {
				surfaces[i].Prompt = &prompt
			}
		}
	}
	return rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
