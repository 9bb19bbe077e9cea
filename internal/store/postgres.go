package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore is the document-store adapter for the two doorbell collections,
// gate_keepers and visits.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertGateKeeper(ctx context.Context, gk GateKeeper) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gate_keepers (id, first_name, last_name, device_token, status)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`, gk.ID, gk.FirstName, gk.LastName, gk.DeviceToken, gk.Status)
	if err != nil {
		return fmt.Errorf("insert gatekeeper: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGateKeeper(ctx context.Context, id string) (GateKeeper, error) {
	var gk GateKeeper
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, device_token, status, created_at
		FROM gate_keepers
		WHERE id=$1
	`, id).Scan(&gk.ID, &gk.FirstName, &gk.LastName, &token, &gk.Status, &gk.CreatedAt)
	if err != nil {
		return GateKeeper{}, err
	}
	gk.DeviceToken = token.String
	return gk, nil
}

// SetGateKeeperStatus overwrites status unconditionally; any status can follow any
// other. Returns false when no gatekeeper exists for id.
func (s *PostgresStore) SetGateKeeperStatus(ctx context.Context, id, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE gate_keepers SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return false, fmt.Errorf("set gatekeeper status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set gatekeeper status result: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListGateKeepers(ctx context.Context) ([]GateKeeper, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, device_token, status, created_at
		FROM gate_keepers
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list gatekeepers: %w", err)
	}
	defer rows.Close()

	items := make([]GateKeeper, 0)
	for rows.Next() {
		var gk GateKeeper
		var token sql.NullString
		if err := rows.Scan(&gk.ID, &gk.FirstName, &gk.LastName, &token, &gk.Status, &gk.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan gatekeeper: %w", err)
		}
		gk.DeviceToken = token.String
		items = append(items, gk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gatekeepers: %w", err)
	}
	return items, nil
}

// ListDeviceTokens returns every non-empty device token. Status is deliberately not
// filtered; the ring fan-out goes to all registered devices.
func (s *PostgresStore) ListDeviceTokens(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_token FROM gate_keepers WHERE device_token IS NOT NULL AND device_token <> ''
	`)
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device tokens: %w", err)
	}
	return tokens, nil
}

func (s *PostgresStore) InsertVisit(ctx context.Context, visit Visit) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO visits (id) VALUES ($1)`, visit.ID)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// LatestVisit returns the single most recent visit. Callers see sql.ErrNoRows when
// the collection is empty.
func (s *PostgresStore) LatestVisit(ctx context.Context) (Visit, error) {
	var visit Visit
	err := s.db.QueryRowContext(ctx, `
		SELECT id, answered_by, created_at
		FROM visits
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&visit.ID, &visit.AnsweredBy, &visit.CreatedAt)
	if err != nil {
		return Visit{}, err
	}
	return visit, nil
}

func (s *PostgresStore) RecentVisits(ctx context.Context, limit int) ([]Visit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, answered_by, created_at
		FROM visits
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	items := make([]Visit, 0)
	for rows.Next() {
		var visit Visit
		if err := rows.Scan(&visit.ID, &visit.AnsweredBy, &visit.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		items = append(items, visit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visits: %w", err)
	}
	return items, nil
}

// AnswerVisit assigns answered_by only while it is still NULL. The WHERE clause is
// the serialization point for concurrent answers: exactly one caller sees a row
// affected, every other caller gets false.
func (s *PostgresStore) AnswerVisit(ctx context.Context, visitID, gateKeeperID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE visits SET answered_by=$2 WHERE id=$1 AND answered_by IS NULL
	`, visitID, gateKeeperID)
	if err != nil {
		return false, fmt.Errorf("answer visit: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("answer visit result: %w", err)
	}
	return affected > 0, nil
}
