package registrar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/telemetry-soak/internal/infrastructure/database"
)

// Ledger records successful registrations in SQLite so a restarted
// simulator can skip devices the registry already knows about.
//
// Ledger wraps another Registrar: every call is forwarded, and only
// successful ones are recorded. Re-registrations triggered by a 401 always
// reach the registry regardless of what the ledger says.
type Ledger struct {
	next   Registrar
	db     *database.DB
	tenant string
	now    func() time.Time
}

// NewLedger wraps next with a registration ledger stored in db.
// The database must already be migrated.
func NewLedger(next Registrar, db *database.DB, tenant string) *Ledger {
	return &Ledger{
		next:   next,
		db:     db,
		tenant: tenant,
		now:    time.Now,
	}
}

// Register implements Registrar.
func (l *Ledger) Register(ctx context.Context, deviceID, user, password string) error {
	if err := l.next.Register(ctx, deviceID, user, password); err != nil {
		return err
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO registrations (tenant, device_id, auth_id, registered_at, attempts)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (tenant, device_id) DO UPDATE SET
			auth_id = excluded.auth_id,
			registered_at = excluded.registered_at,
			attempts = registrations.attempts + 1`,
		l.tenant, deviceID, user, l.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording registration of %s: %w", deviceID, err)
	}
	return nil
}

// IsRegistered reports whether deviceID has a recorded registration for user.
// A changed auth-id counts as not registered.
func (l *Ledger) IsRegistered(ctx context.Context, deviceID, user string) (bool, error) {
	var authID string
	err := l.db.QueryRowContext(ctx,
		"SELECT auth_id FROM registrations WHERE tenant = ? AND device_id = ?",
		l.tenant, deviceID,
	).Scan(&authID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up registration of %s: %w", deviceID, err)
	}
	return authID == user, nil
}

// Attempts returns how many successful registrations were recorded for deviceID.
func (l *Ledger) Attempts(ctx context.Context, deviceID string) (int, error) {
	var attempts int
	err := l.db.QueryRowContext(ctx,
		"SELECT attempts FROM registrations WHERE tenant = ? AND device_id = ?",
		l.tenant, deviceID,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counting registrations of %s: %w", deviceID, err)
	}
	return attempts, nil
}
