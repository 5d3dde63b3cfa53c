package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/lookbook/internal/pipeline"
)

// DBTX is the subset of pgx shared by pools, connections and transactions
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StatusStore implements pipeline.StatusStore on the request_statuses table.
// The whole status is stored as JSONB; the indexed columns mirror it for
// filtering and ordering.
type StatusStore struct {
	db     DBTX
	logger *slog.Logger
}

var _ pipeline.StatusStore = (*StatusStore)(nil)

// NewStatusStore creates a StatusStore
func NewStatusStore(db DBTX, logger *slog.Logger) *StatusStore {
	return &StatusStore{db: db, logger: logger.With("component", "status_store")}
}

// Get implements pipeline.StatusStore
func (s *StatusStore) Get(ctx context.Context, id string) (pipeline.RequestStatus, error) {
	var payload []byte
	err := s.db.QueryRow(ctx,
		`SELECT payload FROM request_statuses WHERE request_id = $1`, id).Scan(&payload)
	if err != nil {
		return pipeline.RequestStatus{}, MapError(err)
	}

	var st pipeline.RequestStatus
	if err := json.Unmarshal(payload, &st); err != nil {
		return pipeline.RequestStatus{}, fmt.Errorf("failed to decode status %s: %w", id, err)
	}
	return st, nil
}

// Set implements pipeline.StatusStore
func (s *StatusStore) Set(ctx context.Context, st pipeline.RequestStatus) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode status %s: %w", st.RequestID, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO request_statuses (request_id, status, stage, progress, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id) DO UPDATE SET
			status = EXCLUDED.status,
			stage = EXCLUDED.stage,
			progress = EXCLUDED.progress,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at`,
		st.RequestID,
		string(st.Status),
		string(st.Stage),
		st.Progress,
		payload,
		st.CreatedAt.UTC(),
		st.UpdatedAt.UTC(),
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to save request status",
			"request_id", st.RequestID,
			"status", st.Status,
			"error", err)
		return fmt.Errorf("failed to save request status: %w", MapError(err))
	}
	return nil
}

// Delete implements pipeline.StatusStore
func (s *StatusStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM request_statuses WHERE request_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete request status: %w", MapError(err))
	}
	return nil
}

// Scan implements pipeline.StatusStore, oldest first
func (s *StatusStore) Scan(ctx context.Context, fn func(pipeline.RequestStatus) bool) error {
	rows, err := s.db.Query(ctx,
		`SELECT payload FROM request_statuses ORDER BY created_at, request_id`)
	if err != nil {
		return fmt.Errorf("failed to list request statuses: %w", MapError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("failed to scan request status: %w", err)
		}
		var st pipeline.RequestStatus
		if err := json.Unmarshal(payload, &st); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable request status", "error", err)
			continue
		}
		if !fn(st) {
			return nil
		}
	}
	return rows.Err()
}
