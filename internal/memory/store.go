package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"companion/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.MessageStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	// mu is held from timestamp assignment through the insert, so ids and
	// timestamps grow in the same order.
	mu     sync.Mutex
	lastTS int64
}

// StoreOption customizes a SQLiteStore.
type StoreOption func(*SQLiteStore)

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *SQLiteStore) { s.now = now }
}

func NewSQLiteStore(dbPath string, logger *slog.Logger, opts ...StoreOption) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway, and the unique
	// index does the dedup work inside one statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}

	if err := Migrate(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

// nextTimestamp returns a timestamp that never goes backwards. Callers hold s.mu.
func (s *SQLiteStore) nextTimestamp(ts time.Time) int64 {
	n := ts.UnixNano()
	if n < s.lastTS {
		n = s.lastTS
	}
	s.lastTS = n
	return n
}

func (s *SQLiteStore) Append(ctx context.Context, msg domain.Message) (bool, error) {
	if msg.Direction != domain.DirectionIn && msg.Direction != domain.DirectionOut {
		return false, fmt.Errorf("invalid direction %q", msg.Direction)
	}
	if msg.Channel == "" {
		msg.Channel = domain.ChannelWhatsApp
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	var deliveryID sql.NullString
	if msg.DeliveryID != "" {
		deliveryID = sql.NullString{String: msg.DeliveryID, Valid: true}
	}

	s.mu.Lock()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (user_id, channel, direction, delivery_id, text, ts)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.UserID, msg.Channel, string(msg.Direction), deliveryID, msg.Text, s.nextTimestamp(ts),
	)
	s.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, userID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, channel, direction, delivery_id, text, ts
		 FROM messages WHERE user_id = ?
		 ORDER BY ts DESC, id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m          domain.Message
			direction  string
			deliveryID sql.NullString
			ts         int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Channel, &direction, &deliveryID, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		m.Direction = domain.Direction(direction)
		m.DeliveryID = deliveryID.String
		m.Timestamp = time.Unix(0, ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) HasDelivery(ctx context.Context, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE delivery_id = ? AND direction = 'IN' LIMIT 1`, deliveryID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup delivery: %w", err)
	}
	return true, nil
}

// Count returns the number of stored messages for a user.
func (s *SQLiteStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
