package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/scraper-service/internal/domain"
)

// PostgresStore is the external sink for scraped documents and job records.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// SaveRaw upserts one scraped sub-resource document for a match. The latest
// document per (match, kind) wins.
func (s *PostgresStore) SaveRaw(ctx context.Context, matchID string, kind domain.ResourceKind, doc json.RawMessage) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO raw_documents (match_id, resource_kind, document, scraped_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (match_id, resource_kind) DO UPDATE SET
		   document = EXCLUDED.document, scraped_at = NOW()`,
		matchID, string(kind), doc,
	)
	if err != nil {
		return fmt.Errorf("save raw %s/%s: %w", matchID, kind, err)
	}
	return nil
}

// SaveJob inserts a new scrape job record.
func (s *PostgresStore) SaveJob(ctx context.Context, job *domain.ScrapeJob) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO scrape_jobs (id, match_id, kind, status, started_at, succeeded, failed, error_detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.MatchID, job.Kind, string(job.Status), job.StartedAt, job.Succeeded, job.Failed, job.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob writes the final state of a scrape job.
func (s *PostgresStore) UpdateJob(ctx context.Context, job *domain.ScrapeJob) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scrape_jobs SET
		   status = $2, completed_at = $3, succeeded = $4, failed = $5, error_detail = $6
		 WHERE id = $1`,
		job.ID, string(job.Status), job.CompletedAt, job.Succeeded, job.Failed, job.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}
