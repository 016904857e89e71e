package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps documents as JSON bodies in a single SQLite file
type SQLiteStore struct {
	conn *sql.DB
	mu   sync.RWMutex
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path and runs migrations
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "wyvern.db"
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	s := &SQLiteStore{conn: conn}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}

	return s, nil
}

// Ping checks the connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.conn.Close()
}

// migrate runs database migrations
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		campaign_id TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (collection, campaign_id, id)
	);

	CREATE TABLE IF NOT EXISTS campaign_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		campaign_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		user_message TEXT NOT NULL,
		narration TEXT NOT NULL,
		updates_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		campaign_id TEXT NOT NULL,
		id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		UNIQUE (campaign_id, id)
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_campaign ON documents(collection, campaign_id);
	CREATE INDEX IF NOT EXISTS idx_campaign_log_campaign ON campaign_log(campaign_id);
	CREATE INDEX IF NOT EXISTS idx_messages_campaign ON messages(campaign_id, timestamp);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// FindByCampaign returns every document of a collection for a campaign
func (s *SQLiteStore) FindByCampaign(ctx context.Context, collection, campaignID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT body FROM documents WHERE collection = ? AND campaign_id = ? ORDER BY id
	`, collection, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("corrupt %s document: %w", collection, err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Get returns one document or ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, collection, campaignID, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.get(ctx, s.conn, collection, campaignID, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, collection, campaignID, id string) (Document, error) {
	var body string
	err := q.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE collection = ? AND campaign_id = ? AND id = ?
	`, collection, campaignID, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("corrupt %s document: %w", collection, err)
	}
	return doc, nil
}

// Upsert merges fields into the stored document inside a transaction
func (s *SQLiteStore) Upsert(ctx context.Context, collection, campaignID, id string, fields Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	existing, err := s.get(ctx, tx, collection, campaignID, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	doc := merge(existing, fields)
	doc[KeyID] = id
	doc[KeyCampaign] = campaignID

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s document: %w", collection, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, campaign_id, id, body, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, campaign_id, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, collection, campaignID, id, string(body), time.Now().UnixNano())
	if err != nil {
		return err
	}

	return tx.Commit()
}

// AppendLog appends a campaign log entry
func (s *SQLiteStore) AppendLog(ctx context.Context, entry CampaignLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	updates := entry.UpdatesApplied
	if updates == nil {
		updates = []string{}
	}
	updatesJSON, _ := json.Marshal(updates)

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO campaign_log (campaign_id, timestamp, user_message, narration, updates_json)
		VALUES (?, ?, ?, ?, ?)
	`, entry.CampaignID, entry.Timestamp.UnixNano(), entry.UserMessage, entry.Narration, string(updatesJSON))
	return err
}

// ListLog returns the campaign log oldest first
func (s *SQLiteStore) ListLog(ctx context.Context, campaignID string) ([]CampaignLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT timestamp, user_message, narration, updates_json
		FROM campaign_log WHERE campaign_id = ? ORDER BY timestamp, seq
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CampaignLogEntry
	for rows.Next() {
		var (
			ts          int64
			updatesJSON string
			entry       = CampaignLogEntry{CampaignID: campaignID}
		)
		if err := rows.Scan(&ts, &entry.UserMessage, &entry.Narration, &updatesJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(updatesJSON), &entry.UpdatesApplied); err != nil {
			return nil, err
		}
		entry.Timestamp = time.Unix(0, ts).UTC()
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// SaveMessages stores messages, replacing any with the same id
func (s *SQLiteStore) SaveMessages(ctx context.Context, msgs []ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (campaign_id, id, role, content, timestamp)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(campaign_id, id) DO UPDATE SET role = excluded.role, content = excluded.content, timestamp = excluded.timestamp
		`, m.CampaignID, m.ID, m.Role, m.Content, m.Timestamp.UnixNano())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListMessages returns the chat history ordered by timestamp ascending
func (s *SQLiteStore) ListMessages(ctx context.Context, campaignID string) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, role, content, timestamp FROM messages
		WHERE campaign_id = ? ORDER BY timestamp, seq
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []ChatMessage{}
	for rows.Next() {
		var (
			ts int64
			m  = ChatMessage{CampaignID: campaignID}
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

// CreateCampaign inserts a campaign or returns ErrConflict when the id is taken
func (s *SQLiteStore) CreateCampaign(ctx context.Context, c Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, password_hash, created_at) VALUES (?, ?, ?, ?)
	`, c.ID, c.Name, c.PasswordHash, c.CreatedAt.UnixNano())

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("campaign %s: %w", c.ID, ErrConflict)
	}
	return err
}

// GetCampaign returns a campaign or ErrNotFound
func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c  = Campaign{ID: id}
		ts int64
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT name, password_hash, created_at FROM campaigns WHERE id = ?
	`, id).Scan(&c.Name, &c.PasswordHash, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(0, ts).UTC()
	return &c, nil
}

// ListCampaigns returns all campaigns, newest first
func (s *SQLiteStore) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, password_hash, created_at FROM campaigns ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []Campaign{}
	for rows.Next() {
		var (
			c  Campaign
			ts int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.PasswordHash, &ts); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(0, ts).UTC()
		campaigns = append(campaigns, c)
	}

	return campaigns, rows.Err()
}
