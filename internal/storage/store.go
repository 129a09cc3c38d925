package storage

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// CachedEstimate is a model response that previously passed validation.
type CachedEstimate struct {
	Response  string
	Model     string
	CreatedAt time.Time
}

// Store defines the persistence used by the estimate cache and the
// notification relay.
type Store interface {
	// Estimate cache methods
	GetEstimateCache(key string) (*CachedEstimate, error)
	SetEstimateCache(key string, entry *CachedEstimate) error
	PruneEstimateCache(olderThan time.Time) (int64, error)

	// Notification log methods
	LogNotification(n *Notification) error
	GetNotification(id string) (*Notification, error)
	RecentNotifications(limit int) ([]Notification, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the SQLite database at dbPath.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Configure SQLite with WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		db.Close()
		return nil, fmt.Errorf("failed to set database permissions: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	cacheQuery := `
	CREATE TABLE IF NOT EXISTS estimate_cache (
		cache_key TEXT PRIMARY KEY,
		response TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(cacheQuery); err != nil {
		return fmt.Errorf("failed to create estimate_cache table: %w", err)
	}

	notificationsQuery := `
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		message TEXT NOT NULL,
		priority TEXT NOT NULL,
		follow_up_id TEXT NOT NULL DEFAULT '',
		telegram_message_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at);
	`
	if _, err := s.db.Exec(notificationsQuery); err != nil {
		return fmt.Errorf("failed to create notifications table: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetEstimateCache retrieves a cached model response by key.
// Returns nil, nil if no cache entry exists.
func (s *SQLiteStore) GetEstimateCache(key string) (*CachedEstimate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entry CachedEstimate
	err := s.db.QueryRow(
		"SELECT response, model, created_at FROM estimate_cache WHERE cache_key = ?",
		key,
	).Scan(&entry.Response, &entry.Model, &entry.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query estimate cache: %w", err)
	}

	return &entry, nil
}

// SetEstimateCache stores a model response in the cache, replacing any
// previous entry for the key.
func (s *SQLiteStore) SetEstimateCache(key string, entry *CachedEstimate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO estimate_cache (cache_key, response, model, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			response = excluded.response,
			model = excluded.model,
			created_at = excluded.created_at
	`, key, entry.Response, entry.Model, createdAt)

	if err != nil {
		return fmt.Errorf("failed to cache estimate: %w", err)
	}
	return nil
}

// PruneEstimateCache deletes entries created before olderThan and returns
// how many were removed.
func (s *SQLiteStore) PruneEstimateCache(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM estimate_cache WHERE created_at < ?", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune estimate cache: %w", err)
	}
	return result.RowsAffected()
}
