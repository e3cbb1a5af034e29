// Package settings persists user-adjustable API settings in a
// singleton SQLite row, separate from the process configuration so
// they survive restarts and config file changes.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// rowID keys the singleton row.
const rowID = "main"

// DefaultModel is used when the user has never picked one.
const DefaultModel = "googleai/gemini-2.5-flash"

// Settings are the user's stored provider credentials and model
// choice. Keys are stored as entered; masking is the API layer's job.
type Settings struct {
	OpenAIKey    string    `json:"openaiKey"`
	GoogleKey    string    `json:"googleKey"`
	DefaultModel string    `json:"defaultModel"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store reads and writes the singleton settings row.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Get returns the stored settings, or defaults when none were saved.
func (s *Store) Get(ctx context.Context) (*Settings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT openai_key, google_key, default_model, updated_at FROM settings WHERE id = ?`, rowID)

	var out Settings
	err := row.Scan(&out.OpenAIKey, &out.GoogleKey, &out.DefaultModel, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &Settings{DefaultModel: DefaultModel}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if out.DefaultModel == "" {
		out.DefaultModel = DefaultModel
	}
	return &out, nil
}

// Save overwrites the settings row. Last write wins; there is no
// merge of individual fields.
func (s *Store) Save(ctx context.Context, in Settings) (*Settings, error) {
	in.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, openai_key, google_key, default_model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			openai_key = excluded.openai_key,
			google_key = excluded.google_key,
			default_model = excluded.default_model,
			updated_at = excluded.updated_at`,
		rowID, in.OpenAIKey, in.GoogleKey, in.DefaultModel, in.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("saving settings: %w", err)
	}

	s.logger.Debug("settings saved", "default_model", in.DefaultModel)
	return &in, nil
}
