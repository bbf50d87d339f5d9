// Package postgres is the durable store: the send log, chat registry,
// subscriptions, restrictions, and aliases. Everything here survives a
// restart; anything that doesn't need to (dedup fingerprints, rate-limit
// buckets, cooldown timers) lives in internal/store/rediscache instead.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/relaybot/engine/internal/config"
	"github.com/relaybot/engine/internal/model"
	"github.com/relaybot/engine/internal/pkg/logs"
)

// Store wraps a connection pool to the durable PostgreSQL database.
type Store struct {
	db *sql.DB
}

// Open opens a connection pool per cfg and verifies connectivity with a
// bounded number of retries, tolerating the database still coming up
// alongside the engine in a fresh deployment.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
		db.SetConnMaxLifetime(lifetime)
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = db.PingContext(pingCtx)
		cancel()
		if lastErr == nil {
			break
		}
		logs.Warn("store: ping attempt %d/3 failed: %v", attempt, lastErr)
		if attempt < 3 {
			time.Sleep(2 * time.Second)
		}
	}
	if lastErr != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect after 3 attempts: %w", lastErr)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the durable store is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// MigrateSchema applies the schema. Statements are idempotent so it is safe
// to call on every startup.
func (s *Store) MigrateSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		id                  TEXT PRIMARY KEY,
		kind                TEXT NOT NULL,
		active              BOOLEAN NOT NULL DEFAULT TRUE,
		is_source           BOOLEAN NOT NULL DEFAULT FALSE,
		is_destination      BOOLEAN NOT NULL DEFAULT FALSE,
		self_send_enabled   BOOLEAN NOT NULL DEFAULT FALSE,
		in_paused           BOOLEAN NOT NULL DEFAULT FALSE,
		out_paused          BOOLEAN NOT NULL DEFAULT FALSE,
		edit_mode           TEXT NOT NULL DEFAULT 'off',
		registered_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		trial_until         TIMESTAMPTZ,
		paid_until          TIMESTAMPTZ,
		subscription_stack  BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS send_log (
		source_chat_id    TEXT NOT NULL,
		source_message_id TEXT NOT NULL,
		dest_chat_id      TEXT NOT NULL,
		dest_message_id   TEXT NOT NULL,
		source_user_id    TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (dest_chat_id, dest_message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS send_log_source_idx
		ON send_log (source_chat_id, source_message_id)`,
	`CREATE INDEX IF NOT EXISTS send_log_created_idx ON send_log (created_at)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		chat_id     TEXT PRIMARY KEY,
		plan        TEXT NOT NULL,
		paid_until  TIMESTAMPTZ NOT NULL,
		stacking    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS restrictions (
		user_id     TEXT NOT NULL,
		kind        TEXT NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		issuer      TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS aliases (
		user_id TEXT PRIMARY KEY,
		token   TEXT UNIQUE NOT NULL
	)`,
}

// --- chat registry ---

func (s *Store) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, active, is_source, is_destination, self_send_enabled,
		       in_paused, out_paused, edit_mode, registered_at,
		       COALESCE(trial_until, 'epoch'), COALESCE(paid_until, 'epoch'),
		       subscription_stack
		FROM chats WHERE id = $1`, id)

	var c model.Chat
	var kind, editMode string
	if err := row.Scan(&c.ID, &kind, &c.Active, &c.IsSource, &c.IsDestination,
		&c.SelfSendEnabled, &c.InPaused, &c.OutPaused, &editMode, &c.RegisteredAt,
		&c.TrialUntil, &c.PaidUntil, &c.SubscriptionStack); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get chat: %w", err)
	}
	c.Kind = model.ChatKind(kind)
	c.EditMode = model.EditMode(editMode)
	return &c, nil
}

func (s *Store) UpsertChat(ctx context.Context, c model.Chat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, kind, active, is_source, is_destination,
			self_send_enabled, in_paused, out_paused, edit_mode, registered_at,
			trial_until, paid_until, subscription_stack)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, active = EXCLUDED.active,
			is_source = EXCLUDED.is_source, is_destination = EXCLUDED.is_destination,
			self_send_enabled = EXCLUDED.self_send_enabled,
			in_paused = EXCLUDED.in_paused, out_paused = EXCLUDED.out_paused,
			edit_mode = EXCLUDED.edit_mode, trial_until = EXCLUDED.trial_until,
			paid_until = EXCLUDED.paid_until, subscription_stack = EXCLUDED.subscription_stack`,
		c.ID, string(c.Kind), c.Active, c.IsSource, c.IsDestination, c.SelfSendEnabled,
		c.InPaused, c.OutPaused, string(c.EditMode), c.RegisteredAt,
		c.TrialUntil, c.PaidUntil, c.SubscriptionStack)
	if err != nil {
		return fmt.Errorf("store: upsert chat: %w", err)
	}
	return nil
}

func (s *Store) ListActiveDestinations(ctx context.Context) ([]model.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, active, is_source, is_destination, self_send_enabled,
		       in_paused, out_paused, edit_mode, registered_at,
		       COALESCE(trial_until, 'epoch'), COALESCE(paid_until, 'epoch'),
		       subscription_stack
		FROM chats WHERE active AND is_destination`)
	if err != nil {
		return nil, fmt.Errorf("store: list destinations: %w", err)
	}
	defer rows.Close()

	var out []model.Chat
	for rows.Next() {
		var c model.Chat
		var kind, editMode string
		if err := rows.Scan(&c.ID, &kind, &c.Active, &c.IsSource, &c.IsDestination,
			&c.SelfSendEnabled, &c.InPaused, &c.OutPaused, &editMode, &c.RegisteredAt,
			&c.TrialUntil, &c.PaidUntil, &c.SubscriptionStack); err != nil {
			return nil, fmt.Errorf("store: scan chat: %w", err)
		}
		c.Kind = model.ChatKind(kind)
		c.EditMode = model.EditMode(editMode)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Migrate reassigns a chat's id in place (e.g. a group upgraded to a
// supergroup). Send log rows keep the old id; reply resolution still
// works since lookups are keyed by the id in effect at send time.
func (s *Store) Migrate(ctx context.Context, oldID, newID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chats SET id = $1 WHERE id = $2`, newID, oldID)
	if err != nil {
		return fmt.Errorf("store: migrate chat: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a chat after a permanent send failure.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chats SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: deactivate chat: %w", err)
	}
	return nil
}

// --- send log ---

func (s *Store) RecordSend(ctx context.Context, e model.SendLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO send_log (source_chat_id, source_message_id, dest_chat_id,
			dest_message_id, source_user_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (dest_chat_id, dest_message_id) DO NOTHING`,
		e.SourceChatID, e.SourceMessageID, e.DestChatID, e.DestMessageID,
		e.SourceUserID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: record send: %w", err)
	}
	return nil
}

// ForwardLookup returns every copy the engine produced of
// (sourceChatID, sourceMessageID), one row per destination.
func (s *Store) ForwardLookup(ctx context.Context, sourceChatID, sourceMessageID string) ([]model.SendLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_chat_id, source_message_id, dest_chat_id, dest_message_id,
		       source_user_id, created_at
		FROM send_log WHERE source_chat_id = $1 AND source_message_id = $2`,
		sourceChatID, sourceMessageID)
	if err != nil {
		return nil, fmt.Errorf("store: forward lookup: %w", err)
	}
	defer rows.Close()
	return scanSendLog(rows)
}

// ReverseLookup finds the source row a given destination copy was derived
// from, used by the Reply Resolver to map a reply-to-bot-message back to
// the originating source message.
func (s *Store) ReverseLookup(ctx context.Context, destChatID, destMessageID string) (*model.SendLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_chat_id, source_message_id, dest_chat_id, dest_message_id,
		       source_user_id, created_at
		FROM send_log WHERE dest_chat_id = $1 AND dest_message_id = $2`,
		destChatID, destMessageID)

	var e model.SendLogEntry
	if err := row.Scan(&e.SourceChatID, &e.SourceMessageID, &e.DestChatID,
		&e.DestMessageID, &e.SourceUserID, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: reverse lookup: %w", err)
	}
	return &e, nil
}

// PruneSendLogBefore deletes send-log rows older than cutoff in batches of
// at most limit rows, returning the number deleted. The retention sweeper
// calls this repeatedly until it returns 0.
func (s *Store) PruneSendLogBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM send_log WHERE ctid IN (
			SELECT ctid FROM send_log WHERE created_at < $1 LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("store: prune send log: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanSendLog(rows *sql.Rows) ([]model.SendLogEntry, error) {
	var out []model.SendLogEntry
	for rows.Next() {
		var e model.SendLogEntry
		if err := rows.Scan(&e.SourceChatID, &e.SourceMessageID, &e.DestChatID,
			&e.DestMessageID, &e.SourceUserID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan send log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- subscriptions, restrictions, aliases ---

func (s *Store) GetSubscription(ctx context.Context, chatID string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chat_id, plan, paid_until, stacking FROM subscriptions WHERE chat_id = $1`, chatID)
	var sub model.Subscription
	var plan string
	if err := row.Scan(&sub.ChatID, &plan, &sub.PaidUntil, &sub.Stacking); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get subscription: %w", err)
	}
	sub.Plan = model.Plan(plan)
	return &sub, nil
}

func (s *Store) ActiveRestriction(ctx context.Context, userID string, now time.Time) (*model.Restriction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, kind, expires_at, issuer FROM restrictions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY kind = 'ban' DESC LIMIT 1`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("store: active restriction: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, ErrNotFound
	}
	var r model.Restriction
	var kind string
	if err := rows.Scan(&r.UserID, &kind, &r.ExpiresAt, &r.Issuer); err != nil {
		return nil, fmt.Errorf("store: scan restriction: %w", err)
	}
	r.Kind = model.RestrictionKind(kind)
	return &r, rows.Err()
}

func (s *Store) GetAlias(ctx context.Context, userID string) (*model.Alias, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, token FROM aliases WHERE user_id = $1`, userID)
	var a model.Alias
	if err := row.Scan(&a.UserID, &a.Token); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get alias: %w", err)
	}
	return &a, nil
}

// InsertAliasIfAbsent stores a freshly minted alias token, failing with
// ErrConflict if the token collided with an existing one so the caller can
// mint another and retry.
func (s *Store) InsertAliasIfAbsent(ctx context.Context, a model.Alias) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO aliases (user_id, token) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, a.UserID, a.Token)
	if err != nil {
		return fmt.Errorf("store: insert alias: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

var (
	ErrNotFound = fmt.Errorf("store: not found")
	ErrConflict = fmt.Errorf("store: conflict")
)
