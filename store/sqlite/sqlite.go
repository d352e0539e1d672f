// Package sqlite implements lolo.Store using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/lolo"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements lolo.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ lolo.Store = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so
// that all goroutines serialize through one connection, eliminating
// SQLITE_BUSY errors caused by concurrent writers.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			channel TEXT NOT NULL,
			nick TEXT NOT NULL,
			content TEXT NOT NULL,
			is_bot INTEGER NOT NULL DEFAULT 0,
			event_type TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel, ts)`,
		`CREATE TABLE IF NOT EXISTS usage_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			request_id TEXT NOT NULL,
			nick TEXT NOT NULL,
			channel TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			cached_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost_usd REAL NOT NULL,
			tool_calls INTEGER NOT NULL,
			web_search_calls INTEGER NOT NULL,
			code_interpreter_calls INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_nick_ts ON usage_log(nick, ts)`,
		`CREATE TABLE IF NOT EXISTS bugs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reporter TEXT NOT NULL,
			channel TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			resolved_by TEXT NOT NULL DEFAULT '',
			resolution_note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			creator_nick TEXT NOT NULL,
			target_nick TEXT NOT NULL,
			channel TEXT NOT NULL,
			message TEXT NOT NULL,
			type TEXT NOT NULL,
			deliver_at INTEGER,
			recurrence TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			delivered_at INTEGER,
			delivery_attempts INTEGER NOT NULL DEFAULT 0,
			expires_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_status_deliver ON reminders(status, deliver_at)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// --- messages ---

func (s *Store) StoreMessage(ctx context.Context, msg lolo.Message) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (ts, channel, nick, content, is_bot, event_type) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.Timestamp.Unix(), msg.Channel, msg.Nick, msg.Content, boolInt(msg.IsBot), msg.EventType)
	if err != nil {
		return 0, fmt.Errorf("store message: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) MessagesAfter(ctx context.Context, afterID int64, limit int) ([]lolo.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type
		 FROM messages WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("messages after: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) SearchMessagesKeyword(ctx context.Context, channel, keyword string, from, to time.Time, limit int) ([]lolo.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type
		 FROM messages
		 WHERE channel = ? AND ts >= ? AND ts <= ? AND content LIKE ? ESCAPE '\'
		 ORDER BY ts DESC LIMIT ?`,
		channel, from.Unix(), to.Unix(), "%"+escapeLike(keyword)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) MessagesBetween(ctx context.Context, channel string, from, to time.Time, limit int) ([]lolo.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type
		 FROM messages
		 WHERE channel = ? AND ts >= ? AND ts <= ?
		 ORDER BY ts DESC LIMIT ?`,
		channel, from.Unix(), to.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("messages between: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]lolo.Message, error) {
	var msgs []lolo.Message
	for rows.Next() {
		var m lolo.Message
		var ts int64
		var isBot int
		if err := rows.Scan(&m.ID, &ts, &m.Channel, &m.Nick, &m.Content, &isBot, &m.EventType); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0).UTC()
		m.IsBot = isBot != 0
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- usage ledger ---

func (s *Store) LogUsage(ctx context.Context, rec lolo.UsageRecord) error {
	rec.Clamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log (ts, request_id, nick, channel, model, input_tokens, cached_tokens,
			output_tokens, cost_usd, tool_calls, web_search_calls, code_interpreter_calls)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.Unix(), rec.RequestID, rec.Nick, rec.Channel, rec.Model,
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
		 FROM usage_log WHERE ts >= ?`
	args := []any{since.Unix()}
	if nick != "" {
		query += ` AND nick = ?`
		args = append(args, nick)
	}
	var sum lolo.UsageSummary
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&sum.Requests, &sum.InputTokens, &sum.CachedTokens, &sum.OutputTokens,
		&sum.CostUSD, &sum.ToolCalls, &sum.WebSearchCalls, &sum.CodeInterpreterCalls)
	if err != nil {
		return lolo.UsageSummary{}, fmt.Errorf("usage since: %w", err)
	}
	return sum, nil
}

// --- bug reports ---

func (s *Store) CreateBug(ctx context.Context, b lolo.BugReport) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bugs (reporter, channel, description, status, priority, created_at, updated_at, resolved_by, resolution_note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Reporter, b.Channel, b.Description, b.Status, b.Priority,
		b.CreatedAt.Unix(), b.UpdatedAt.Unix(), b.ResolvedBy, b.ResolutionNote)
	if err != nil {
		return 0, fmt.Errorf("create bug: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetBug(ctx context.Context, id int64) (lolo.BugReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, reporter, channel, description, status, priority, created_at, updated_at, resolved_by, resolution_note
		 FROM bugs WHERE id = ?`, id)
	return scanBug(row)
}

func (s *Store) ListBugs(ctx context.Context, status string, limit int) ([]lolo.BugReport, error) {
	query := `SELECT id, reporter, channel, description, status, priority, created_at, updated_at, resolved_by, resolution_note FROM bugs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE bugs SET description = ?, status = ?, priority = ?, updated_at = ?, resolved_by = ?, resolution_note = ?
		 WHERE id = ?`,
		b.Description, b.Status, b.Priority, b.UpdatedAt.Unix(), b.ResolvedBy, b.ResolutionNote, b.ID)
	if err != nil {
		return fmt.Errorf("update bug: %w", err)
	}
	return requireRow(res, b.ID)
}

func (s *Store) DeleteBug(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bugs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete bug: %w", err)
	}
	return requireRow(res, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBug(row rowScanner) (lolo.BugReport, error) {
	var b lolo.BugReport
	var created, updated int64
	err := row.Scan(&b.ID, &b.Reporter, &b.Channel, &b.Description, &b.Status, &b.Priority,
		&created, &updated, &b.ResolvedBy, &b.ResolutionNote)
	if err != nil {
		return lolo.BugReport{}, fmt.Errorf("scan bug: %w", err)
	}
	b.CreatedAt = time.Unix(created, 0).UTC()
	b.UpdatedAt = time.Unix(updated, 0).UTC()
	return b, nil
}

// --- reminders ---

func (s *Store) CreateReminder(ctx context.Context, r lolo.Reminder) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (creator_nick, target_nick, channel, message, type, deliver_at,
			recurrence, status, created_at, delivered_at, delivery_attempts, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CreatorNick, r.TargetNick, r.Channel, r.Message, r.Type, unixPtr(r.DeliverAt),
		r.Recurrence, r.Status, r.CreatedAt.Unix(), unixPtr(r.DeliveredAt),
		r.DeliveryAttempts, unixPtr(r.ExpiresAt))
	if err != nil {
		return 0, fmt.Errorf("create reminder: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetReminder(ctx context.Context, id int64) (lolo.Reminder, error) {
	row := s.db.QueryRowContext(ctx, reminderSelect+` WHERE id = ?`, id)
	return scanReminder(row)
}

const reminderSelect = `SELECT id, creator_nick, target_nick, channel, message, type, deliver_at,
	recurrence, status, created_at, delivered_at, delivery_attempts, expires_at FROM reminders`

func (s *Store) DueTimeReminders(ctx context.Context, now time.Time, limit int) ([]lolo.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		reminderSelect+` WHERE status = ? AND type = ? AND deliver_at IS NOT NULL AND deliver_at <= ?
		 ORDER BY deliver_at ASC LIMIT ?`,
		lolo.ReminderPending, lolo.ReminderTime, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// TakeJoinReminders marks matching pending join reminders delivered and
// returns them, all inside one transaction so a crash cannot deliver a
// reminder twice.
func (s *Store) TakeJoinReminders(ctx context.Context, nick, channel string, now time.Time) ([]lolo.Reminder, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("join reminders: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		reminderSelect+` WHERE status = ? AND type = ? AND channel = ? AND target_nick = ? COLLATE NOCASE`,
		lolo.ReminderPending, lolo.ReminderJoin, channel, nick)
	if err != nil {
		return nil, fmt.Errorf("join reminders: %w", err)
	}
	reminders, err := scanReminders(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var delivered []lolo.Reminder
	for _, r := range reminders {
		if r.ExpiresAt != nil && r.ExpiresAt.Before(now) {
			if _, err := tx.ExecContext(ctx, `UPDATE reminders SET status = ? WHERE id = ?`, lolo.ReminderFailed, r.ID); err != nil {
				return nil, fmt.Errorf("expire reminder: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE reminders SET status = ?, delivered_at = ? WHERE id = ?`,
			lolo.ReminderDelivered, now.Unix(), r.ID); err != nil {
			return nil, fmt.Errorf("deliver join reminder: %w", err)
		}
		at := now
		r.Status = lolo.ReminderDelivered
		r.DeliveredAt = &at
		delivered = append(delivered, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("join reminders: %w", err)
	}
	return delivered, nil
}

func (s *Store) ListPendingReminders(ctx context.Context, nick string, all bool, limit int) ([]lolo.Reminder, error) {
	query := reminderSelect + ` WHERE status = ?`
	args := []any{lolo.ReminderPending}
	if !all {
		query += ` AND (creator_nick = ? COLLATE NOCASE OR target_nick = ? COLLATE NOCASE)`
		args = append(args, nick, nick)
	}
	query += ` ORDER BY COALESCE(deliver_at, created_at) ASC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (s *Store) CountPendingByCreator(ctx context.Context, creator string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminders WHERE status = ? AND creator_nick = ? COLLATE NOCASE`,
		lolo.ReminderPending, creator).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reminders: %w", err)
	}
	return n, nil
}

func (s *Store) MarkReminderDelivered(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, delivered_at = ? WHERE id = ?`,
		lolo.ReminderDelivered, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return requireRow(res, id)
}

func (s *Store) RescheduleReminder(ctx context.Context, id int64, next, deliveredAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET deliver_at = ?, delivered_at = ?, delivery_attempts = 0 WHERE id = ?`,
		next.Unix(), deliveredAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("reschedule reminder: %w", err)
	}
	return requireRow(res, id)
}

func (s *Store) IncrementDeliveryAttempts(ctx context.Context, id int64) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET delivery_attempts = delivery_attempts + 1 WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT delivery_attempts FROM reminders WHERE id = ?`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return n, nil
}

func (s *Store) SetReminderStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set reminder status: %w", err)
	}
	return requireRow(res, id)
}

func scanReminders(rows *sql.Rows) ([]lolo.Reminder, error) {
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

func scanReminder(row rowScanner) (lolo.Reminder, error) {
	var r lolo.Reminder
	var created int64
	var deliverAt, deliveredAt, expiresAt sql.NullInt64
	err := row.Scan(&r.ID, &r.CreatorNick, &r.TargetNick, &r.Channel, &r.Message, &r.Type,
		&deliverAt, &r.Recurrence, &r.Status, &created, &deliveredAt, &r.DeliveryAttempts, &expiresAt)
	if err != nil {
		return lolo.Reminder{}, fmt.Errorf("scan reminder: %w", err)
	}
	r.CreatedAt = time.Unix(created, 0).UTC()
	r.DeliverAt = timePtr(deliverAt)
	r.DeliveredAt = timePtr(deliveredAt)
	r.ExpiresAt = timePtr(expiresAt)
	return r, nil
}

// --- helpers ---

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("id %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
