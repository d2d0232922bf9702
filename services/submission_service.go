package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"gent/models"
)

var ErrInvalidSubmission = errors.New("invalid submission")

const submissionsSchema = `
CREATE TABLE IF NOT EXISTS submissions (
    id         UUID PRIMARY KEY,
    name       TEXT NOT NULL,
    email      TEXT NOT NULL,
    rating     TEXT NOT NULL,
    feedback   TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`

// SubmissionStore persists feedback form submissions in Postgres.
type SubmissionStore struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// postgresConnString disables TLS unless the URI already chooses an sslmode.
func postgresConnString(uri string) string {
	if strings.Contains(uri, "sslmode=") {
		return uri
	}
	if strings.Contains(uri, "?") {
		return uri + "&sslmode=disable"
	}
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		return uri + "?sslmode=disable"
	}
	// key=value 形式
	return uri + " sslmode=disable"
}

func NewSubmissionStore(ctx context.Context, uri string, log zerolog.Logger) (*SubmissionStore, error) {
	db, err := sql.Open("postgres", postgresConnString(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	// 接続テスト
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &SubmissionStore{db: db, now: time.Now, log: log.With().Str("component", "submissions").Logger()}, nil
}

func (s *SubmissionStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, submissionsSchema); err != nil {
		return fmt.Errorf("create submissions table: %w", err)
	}
	return nil
}

// ValidateSubmission checks the fields a submission must carry.
func ValidateSubmission(sub models.Submission) error {
	if strings.TrimSpace(sub.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSubmission)
	}
	if _, err := mail.ParseAddress(sub.Email); err != nil {
		return fmt.Errorf("%w: email %q is not valid", ErrInvalidSubmission, sub.Email)
	}
	if r, err := strconv.Atoi(sub.Rating); err != nil || r < 1 || r > 5 {
		return fmt.Errorf("%w: rating must be 1-5", ErrInvalidSubmission)
	}
	return nil
}

// Save validates and stores sub, assigning its ID and timestamp.
func (s *SubmissionStore) Save(ctx context.Context, sub models.Submission) (models.Submission, error) {
	if err := ValidateSubmission(sub); err != nil {
		return models.Submission{}, err
	}
	sub.ID = uuid.New().String()
	sub.Timestamp = s.now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, name, email, rating, feedback, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.Name, sub.Email, sub.Rating, sub.Feedback, sub.Timestamp)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			s.log.Error().Str("code", string(pqErr.Code)).Str("condition", pqErr.Code.Name()).Msg("insert submission failed")
		}
		return models.Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	s.log.Info().Str("id", sub.ID).Str("rating", sub.Rating).Msg("submission saved")
	return sub, nil
}

// Recent returns the newest submissions first.
func (s *SubmissionStore) Recent(ctx context.Context, limit int) ([]models.Submission, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, rating, feedback, created_at FROM submissions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		var sub models.Submission
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Email, &sub.Rating, &sub.Feedback, &sub.Timestamp); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SubmissionStore) Close() error {
	return s.db.Close()
}
