// Package db persists campaign state, chat history and the campaign log
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Collections holding game state documents
const (
	CollectionPlayers  = "players"
	CollectionMonsters = "monsters"
)

// Reserved document keys
const (
	KeyID       = "_id"
	KeyCampaign = "campaignId"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Document is a schemaless game state record
type Document map[string]any

// GameState is every player and monster of a campaign keyed by id
type GameState struct {
	Players  map[string]Document `json:"players"`
	Monsters map[string]Document `json:"monsters"`
}

// NewGameState creates an empty state
func NewGameState() *GameState {
	return &GameState{
		Players:  make(map[string]Document),
		Monsters: make(map[string]Document),
	}
}

// CampaignLogEntry records one completed turn
type CampaignLogEntry struct {
	CampaignID     string    `json:"campaignId" bson:"campaignId"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
	UserMessage    string    `json:"user_message" bson:"user_message"`
	Narration      string    `json:"narration" bson:"narration"`
	UpdatesApplied []string  `json:"updates_applied" bson:"updates_applied"`
}

// ChatMessage is one stored chat message
type ChatMessage struct {
	ID         string    `json:"id" bson:"_id"`
	CampaignID string    `json:"campaignId" bson:"campaignId"`
	Role       string    `json:"role" bson:"role"`
	Content    string    `json:"content" bson:"content"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
}

// Campaign is a named play session. The id is the slug of the name.
type Campaign struct {
	ID           string    `json:"id" bson:"_id"`
	Name         string    `json:"name" bson:"name"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	PasswordHash string    `json:"-" bson:"passwordHash,omitempty"`
}

// Protected reports whether the campaign requires a session token
func (c *Campaign) Protected() bool {
	return c.PasswordHash != ""
}

// Store is the document store used by the orchestrator and the API
type Store interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	FindByCampaign(ctx context.Context, collection, campaignID string) ([]Document, error)
	Get(ctx context.Context, collection, campaignID, id string) (Document, error)
	// Upsert merges fields into the document keyed by id, creating it when absent
	Upsert(ctx context.Context, collection, campaignID, id string, fields Document) error

	AppendLog(ctx context.Context, entry CampaignLogEntry) error
	ListLog(ctx context.Context, campaignID string) ([]CampaignLogEntry, error)

	SaveMessages(ctx context.Context, msgs []ChatMessage) error
	ListMessages(ctx context.Context, campaignID string) ([]ChatMessage, error)

	CreateCampaign(ctx context.Context, c Campaign) error
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	ListCampaigns(ctx context.Context) ([]Campaign, error)
}

// Driver names accepted by Open
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Options selects and configures a store backend
type Options struct {
	Driver   string
	Path     string
	URI      string
	Database string
}

// Open connects to the configured backend
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Driver) {
	case "", DriverSQLite, "sqlite3":
		return NewSQLiteStore(opts.Path)
	case DriverMongo, "mongodb":
		return NewMongoStore(ctx, opts.URI, opts.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// LoadGameState reads players and monsters of a campaign in parallel
func LoadGameState(ctx context.Context, store Store, campaignID string) (*GameState, error) {
	var players, monsters []Document

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		players, err = store.FindByCampaign(gctx, CollectionPlayers, campaignID)
		return err
	})
	g.Go(func() error {
		var err error
		monsters, err = store.FindByCampaign(gctx, CollectionMonsters, campaignID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load game state: %w", err)
	}

	state := NewGameState()
	for _, p := range players {
		state.Players[p.ID()] = p
	}
	for _, m := range monsters {
		state.Monsters[m.ID()] = m
	}
	return state, nil
}

// ID returns the document id as a string
func (d Document) ID() string {
	switch v := d[KeyID].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// merge applies $set semantics: top level keys of fields replace those in d
func merge(d, fields Document) Document {
	out := make(Document, len(d)+len(fields))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
