package chatlock

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// LockSchema creates the lease table used by DBLocker.
const LockSchema = `
CREATE TABLE IF NOT EXISTS chat_locks (
	chat_id     TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
`

// DBLockerConfig configures lease behaviour.
type DBLockerConfig struct {
	OwnerID         string
	TTL             time.Duration
	RefreshInterval time.Duration
	PollInterval    time.Duration
}

// DefaultDBLockerConfig returns the default lease settings.
func DefaultDBLockerConfig(ownerID string) DBLockerConfig {
	return DBLockerConfig{
		OwnerID:         ownerID,
		TTL:             time.Minute,
		RefreshInterval: 20 * time.Second,
		PollInterval:    100 * time.Millisecond,
	}
}

// DBLocker holds a per-chat lease row in PostgreSQL so that turns for one
// chat serialize across processes. Goroutines of the same process first
// serialize on an in-process lock, since they share one owner id.
type DBLocker struct {
	db     *sql.DB
	config DBLockerConfig
	local  *LocalLocker

	mu    sync.Mutex
	renew map[string]context.CancelFunc
}

// NewDBLocker creates a lease-based locker.
func NewDBLocker(db *sql.DB, cfg DBLockerConfig) (*DBLocker, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if cfg.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	defaults := DefaultDBLockerConfig(cfg.OwnerID)
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	return &DBLocker{
		db:     db,
		config: cfg,
		local:  NewLocalLocker(),
		renew:  make(map[string]context.CancelFunc),
	}, nil
}

// EnsureSchema creates the lease table.
func (l *DBLocker) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, LockSchema)
	return err
}

// Lock acquires the chat's lease, polling until it is free or ctx is done.
func (l *DBLocker) Lock(ctx context.Context, chatID string) error {
	if err := l.local.Lock(ctx, chatID); err != nil {
		return err
	}

	for {
		ok, err := l.tryAcquire(ctx, chatID)
		if err != nil {
			l.local.Unlock(chatID)
			return err
		}
		if ok {
			l.startRenew(chatID)
			return nil
		}

		select {
		case <-ctx.Done():
			l.local.Unlock(chatID)
			return ctx.Err()
		case <-time.After(l.config.PollInterval):
		}
	}
}

// Unlock releases the chat's lease.
func (l *DBLocker) Unlock(chatID string) {
	l.stopRenew(chatID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// A failed delete leaves the lease to expire via its TTL.
	_, _ = l.db.ExecContext(ctx,
		`DELETE FROM chat_locks WHERE chat_id = $1 AND owner_id = $2`,
		chatID, l.config.OwnerID)

	l.local.Unlock(chatID)
}

// Close stops all lease renewals.
func (l *DBLocker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, cancel := range l.renew {
		cancel()
		delete(l.renew, id)
	}
	return nil
}

func (l *DBLocker) tryAcquire(ctx context.Context, chatID string) (bool, error) {
	now := time.Now()
	var owner string
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO chat_locks (chat_id, owner_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE chat_locks.expires_at < $3 OR chat_locks.owner_id = EXCLUDED.owner_id
		RETURNING owner_id
	`, chatID, l.config.OwnerID, now, now.Add(l.config.TTL)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == l.config.OwnerID, nil
}

func (l *DBLocker) startRenew(chatID string) {
	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.renew[chatID] = cancel
	l.mu.Unlock()

	go l.renewLoop(ctx, chatID)
}

func (l *DBLocker) stopRenew(chatID string) {
	l.mu.Lock()
	cancel, ok := l.renew[chatID]
	delete(l.renew, chatID)
	l.mu.Unlock()
	if ok {
		cancel()
	}
}

func (l *DBLocker) renewLoop(ctx context.Context, chatID string) {
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := l.db.ExecContext(ctx,
				`UPDATE chat_locks SET expires_at = $1 WHERE chat_id = $2 AND owner_id = $3`,
				time.Now().Add(l.config.TTL), chatID, l.config.OwnerID)
			if err != nil {
				continue
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return
			}
		}
	}
}
