// Package postgres implements lolo.Store on PostgreSQL via pgx. Drop-in
// alternative to the sqlite store for multi-instance deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/lolo"
)

// StoreOption configures a postgres Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements lolo.Store backed by a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ lolo.Store = (*Store)(nil)

// New connects to the database at dsn.
func New(ctx context.Context, dsn string, opts ...StoreOption) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Store{pool: pool, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			channel TEXT NOT NULL,
			nick TEXT NOT NULL,
			content TEXT NOT NULL,
			is_bot BOOLEAN NOT NULL DEFAULT FALSE,
			event_type TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel, ts)`,
		`CREATE TABLE IF NOT EXISTS usage_log (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			request_id TEXT NOT NULL,
			nick TEXT NOT NULL,
			channel TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens BIGINT NOT NULL,
			cached_tokens BIGINT NOT NULL,
			output_tokens BIGINT NOT NULL,
			cost_usd DOUBLE PRECISION NOT NULL,
			tool_calls INT NOT NULL,
			web_search_calls INT NOT NULL,
			code_interpreter_calls INT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_nick_ts ON usage_log(nick, ts)`,
		`CREATE TABLE IF NOT EXISTS bugs (
			id BIGSERIAL PRIMARY KEY,
			reporter TEXT NOT NULL,
			channel TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			resolved_by TEXT NOT NULL DEFAULT '',
			resolution_note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id BIGSERIAL PRIMARY KEY,
			creator_nick TEXT NOT NULL,
			target_nick TEXT NOT NULL,
			channel TEXT NOT NULL,
			message TEXT NOT NULL,
			type TEXT NOT NULL,
			deliver_at TIMESTAMPTZ,
			recurrence TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			delivered_at TIMESTAMPTZ,
			delivery_attempts INT NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_status_deliver ON reminders(status, deliver_at)`,
	}
	for _, ddl := range tables {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- messages ---

func (s *Store) StoreMessage(ctx context.Context, msg lolo.Message) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (ts, channel, nick, content, is_bot, event_type)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		msg.Timestamp, msg.Channel, msg.Nick, msg.Content, msg.IsBot, msg.EventType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store message: %w", err)
	}
	return id, nil
}

func (s *Store) MessagesAfter(ctx context.Context, afterID int64, limit int) ([]lolo.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type
		 FROM messages WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("messages after: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) SearchMessagesKeyword(ctx context.Context, channel, keyword string, from, to time.Time, limit int) ([]lolo.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type
		 FROM messages
		 WHERE channel = $1 AND ts >= $2 AND ts <= $3 AND content ILIKE '%' || $4 || '%'
		 ORDER BY ts DESC LIMIT $5`,
		channel, from, to, keyword, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) MessagesBetween(ctx context.Context, channel string, from, to time.Time, limit int) ([]lolo.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type
		 FROM messages WHERE channel = $1 AND ts >= $2 AND ts <= $3
		 ORDER BY ts DESC LIMIT $4`,
		channel, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("messages between: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]lolo.Message, error) {
	var msgs []lolo.Message
	for rows.Next() {
		var m lolo.Message
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.Channel, &m.Nick, &m.Content, &m.IsBot, &m.EventType); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- usage ledger ---

func (s *Store) LogUsage(ctx context.Context, rec lolo.UsageRecord) error {
	rec.Clamp()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_log (ts, request_id, nick, channel, model, input_tokens, cached_tokens,
			output_tokens, cost_usd, tool_calls, web_search_calls, code_interpreter_calls)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.Timestamp, rec.RequestID, rec.Nick, rec.Channel, rec.Model,
		rec.InputTokens, rec.CachedTokens, rec.OutputTokens, rec.CostUSD,
		rec.ToolCalls, rec.WebSearchCalls, rec.CodeInterpreterCalls)
	if err != nil {
		return fmt.Errorf("log usage: %w", err)
	}
	return nil
}

func (s *Store) UsageSince(ctx context.Context, nick string, since time.Time) (lolo.UsageSummary, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(input_tokens),0), COALESCE(SUM(cached_tokens),0),
			COALESCE(SUM(output_tokens),0), COALESCE(SUM(cost_usd),0), COALESCE(SUM(tool_calls),0),
			COALESCE(SUM(web_search_calls),0), COALESCE(SUM(code_interpreter_calls),0)
		 FROM usage_log WHERE ts >= $1`
	args := []any{since}
	if nick != "" {
		query += ` AND nick = $2`
		args = append(args, nick)
	}
	var sum lolo.UsageSummary
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&sum.Requests, &sum.InputTokens, &sum.CachedTokens, &sum.OutputTokens,
		&sum.CostUSD, &sum.ToolCalls, &sum.WebSearchCalls, &sum.CodeInterpreterCalls)
	if err != nil {
		return lolo.UsageSummary{}, fmt.Errorf("usage since: %w", err)
	}
	return sum, nil
}

// --- bug reports ---

func (s *Store) CreateBug(ctx context.Context, b lolo.BugReport) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO bugs (reporter, channel, description, status, priority, created_at, updated_at, resolved_by, resolution_note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		b.Reporter, b.Channel, b.Description, b.Status, b.Priority,
		b.CreatedAt, b.UpdatedAt, b.ResolvedBy, b.ResolutionNote).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create bug: %w", err)
	}
	return id, nil
}

func (s *Store) GetBug(ctx context.Context, id int64) (lolo.BugReport, error) {
	row := s.pool.QueryRow(ctx, bugSelect+` WHERE id = $1`, id)
	return scanBug(row)
}

const bugSelect = `SELECT id, reporter, channel, description, status, priority, created_at, updated_at, resolved_by, resolution_note FROM bugs`

func (s *Store) ListBugs(ctx context.Context, status string, limit int) ([]lolo.BugReport, error) {
	query := bugSelect
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY id DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY id DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	defer rows.Close()
	var bugs []lolo.BugReport
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			return nil, err
		}
		bugs = append(bugs, b)
	}
	return bugs, rows.Err()
}

func (s *Store) UpdateBug(ctx context.Context, b lolo.BugReport) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bugs SET description = $1, status = $2, priority = $3, updated_at = $4, resolved_by = $5, resolution_note = $6
		 WHERE id = $7`,
		b.Description, b.Status, b.Priority, b.UpdatedAt, b.ResolvedBy, b.ResolutionNote, b.ID)
	if err != nil {
		return fmt.Errorf("update bug: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bug %d: %w", b.ID, pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) DeleteBug(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bugs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete bug: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bug %d: %w", id, pgx.ErrNoRows)
	}
	return nil
}

func scanBug(row pgx.Row) (lolo.BugReport, error) {
	var b lolo.BugReport
	err := row.Scan(&b.ID, &b.Reporter, &b.Channel, &b.Description, &b.Status, &b.Priority,
		&b.CreatedAt, &b.UpdatedAt, &b.ResolvedBy, &b.ResolutionNote)
	if err != nil {
		return lolo.BugReport{}, fmt.Errorf("scan bug: %w", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

// --- reminders ---

const reminderSelect = `SELECT id, creator_nick, target_nick, channel, message, type, deliver_at,
	recurrence, status, created_at, delivered_at, delivery_attempts, expires_at FROM reminders`

func (s *Store) CreateReminder(ctx context.Context, r lolo.Reminder) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO reminders (creator_nick, target_nick, channel, message, type, deliver_at,
			recurrence, status, created_at, delivered_at, delivery_attempts, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		r.CreatorNick, r.TargetNick, r.Channel, r.Message, r.Type, r.DeliverAt,
		r.Recurrence, r.Status, r.CreatedAt, r.DeliveredAt, r.DeliveryAttempts, r.ExpiresAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create reminder: %w", err)
	}
	return id, nil
}

func (s *Store) GetReminder(ctx context.Context, id int64) (lolo.Reminder, error) {
	return scanReminder(s.pool.QueryRow(ctx, reminderSelect+` WHERE id = $1`, id))
}

func (s *Store) DueTimeReminders(ctx context.Context, now time.Time, limit int) ([]lolo.Reminder, error) {
	rows, err := s.pool.Query(ctx,
		reminderSelect+` WHERE status = $1 AND type = $2 AND deliver_at IS NOT NULL AND deliver_at <= $3
		 ORDER BY deliver_at ASC LIMIT $4`,
		lolo.ReminderPending, lolo.ReminderTime, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (s *Store) TakeJoinReminders(ctx context.Context, nick, channel string, now time.Time) ([]lolo.Reminder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("join reminders: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		reminderSelect+` WHERE status = $1 AND type = $2 AND channel = $3 AND LOWER(target_nick) = LOWER($4) FOR UPDATE`,
		lolo.ReminderPending, lolo.ReminderJoin, channel, nick)
	if err != nil {
		return nil, fmt.Errorf("join reminders: %w", err)
	}
	reminders, err := scanReminders(rows)
	if err != nil {
		return nil, err
	}

	var delivered []lolo.Reminder
	for _, r := range reminders {
		if r.ExpiresAt != nil && r.ExpiresAt.Before(now) {
			if _, err := tx.Exec(ctx, `UPDATE reminders SET status = $1 WHERE id = $2`, lolo.ReminderFailed, r.ID); err != nil {
				return nil, fmt.Errorf("expire reminder: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE reminders SET status = $1, delivered_at = $2 WHERE id = $3`,
			lolo.ReminderDelivered, now, r.ID); err != nil {
			return nil, fmt.Errorf("deliver join reminder: %w", err)
		}
		at := now
		r.Status = lolo.ReminderDelivered
		r.DeliveredAt = &at
		delivered = append(delivered, r)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("join reminders: %w", err)
	}
	return delivered, nil
}

func (s *Store) ListPendingReminders(ctx context.Context, nick string, all bool, limit int) ([]lolo.Reminder, error) {
	query := reminderSelect + ` WHERE status = $1`
	args := []any{lolo.ReminderPending}
	if !all {
		query += ` AND (LOWER(creator_nick) = LOWER($2) OR LOWER(target_nick) = LOWER($2))`
		args = append(args, nick)
	}
	query += fmt.Sprintf(` ORDER BY COALESCE(deliver_at, created_at) ASC LIMIT $%d`, len(args)+1)
	args = append(args, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (s *Store) CountPendingByCreator(ctx context.Context, creator string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reminders WHERE status = $1 AND LOWER(creator_nick) = LOWER($2)`,
		lolo.ReminderPending, creator).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reminders: %w", err)
	}
	return n, nil
}

func (s *Store) MarkReminderDelivered(ctx context.Context, id int64, at time.Time) error {
	return s.updateReminder(ctx, id,
		`UPDATE reminders SET status = $1, delivered_at = $2 WHERE id = $3`,
		lolo.ReminderDelivered, at, id)
}

func (s *Store) RescheduleReminder(ctx context.Context, id int64, next, deliveredAt time.Time) error {
	return s.updateReminder(ctx, id,
		`UPDATE reminders SET deliver_at = $1, delivered_at = $2, delivery_attempts = 0 WHERE id = $3`,
		next, deliveredAt, id)
}

func (s *Store) IncrementDeliveryAttempts(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`UPDATE reminders SET delivery_attempts = delivery_attempts + 1 WHERE id = $1 RETURNING delivery_attempts`,
		id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return n, nil
}

func (s *Store) SetReminderStatus(ctx context.Context, id int64, status string) error {
	return s.updateReminder(ctx, id, `UPDATE reminders SET status = $1 WHERE id = $2`, status, id)
}

func (s *Store) updateReminder(ctx context.Context, id int64, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminder %d: %w", id, pgx.ErrNoRows)
	}
	return nil
}

func scanReminders(rows pgx.Rows) ([]lolo.Reminder, error) {
	var out []lolo.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReminder(row pgx.Row) (lolo.Reminder, error) {
	var r lolo.Reminder
	err := row.Scan(&r.ID, &r.CreatorNick, &r.TargetNick, &r.Channel, &r.Message, &r.Type,
		&r.DeliverAt, &r.Recurrence, &r.Status, &r.CreatedAt, &r.DeliveredAt, &r.DeliveryAttempts, &r.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lolo.Reminder{}, err
		}
		return lolo.Reminder{}, fmt.Errorf("scan reminder: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}
