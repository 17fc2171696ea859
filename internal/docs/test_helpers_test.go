package docs

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustDocumentID(t *testing.T, value string) DocumentID {
	t.Helper()
	id, err := NewDocumentID(value)
	if err != nil {
		t.Fatalf("unexpected document id error: %v", err)
	}
	return id
}

// tickingClock hands out strictly increasing timestamps one second apart so
// ordering assertions never depend on wall-clock resolution.
type tickingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{current: time.Unix(1700000000, 0).UTC()}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type recordedMessage struct {
	DocumentID string
	Title      string
	Body       string
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (p *recordingPublisher) Publish(documentID, title, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, recordedMessage{DocumentID: documentID, Title: title, Body: body})
}

func (p *recordingPublisher) recorded() []recordedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedMessage(nil), p.messages...)
}

type sequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%04d", g.prefix, g.next), nil
}

var testDatabaseSequence int64

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	name := fmt.Sprintf("file:docs_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDatabaseSequence, 1))
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Document{}, &VersionSnapshot{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestRepository(t *testing.T, maxVersions int) (*Repository, *VersionStore, *recordingPublisher) {
	t.Helper()
	db := newTestDatabase(t)
	clock := newTickingClock()

	store, err := NewVersionStore(VersionStoreConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequentialIDGenerator{prefix: "snap"},
	})
	if err != nil {
		t.Fatalf("unexpected version store error: %v", err)
	}

	publisher := &recordingPublisher{}
	repository, err := NewRepository(RepositoryConfig{
		Database:    db,
		Versions:    store,
		Clock:       clock.Now,
		IDProvider:  &sequentialIDGenerator{prefix: "doc"},
		Publisher:   publisher,
		MaxVersions: maxVersions,
	})
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	return repository, store, publisher
}
