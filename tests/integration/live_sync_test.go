package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/driftnote-app/driftnote/backend/internal/broadcast"
	"github.com/driftnote-app/driftnote/backend/internal/docs"
	"github.com/driftnote-app/driftnote/backend/internal/syncclient"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	integrationUserID = "user-abc"
	sessionDebounce   = 20 * time.Millisecond
	convergeDeadline  = 2 * time.Second
)

// repositoryUpdater adapts the repository to the session's send interface,
// fixing the acting user the way an authenticated client would.
type repositoryUpdater struct {
	repository *docs.Repository
	userID     docs.UserID
}

func (u repositoryUpdater) Update(ctx context.Context, documentID, title, body string) error {
	targetID, err := docs.NewDocumentID(documentID)
	if err != nil {
		return err
	}
	_, err = u.repository.Update(ctx, targetID, u.userID, title, body)
	return err
}

func TestLiveSyncFlow(testContext *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:live_sync?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&docs.Document{}, &docs.VersionSnapshot{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	broadcaster := broadcast.NewBroadcaster()
	defer broadcaster.Close()

	versionStore, err := docs.NewVersionStore(docs.VersionStoreConfig{
		Database:   db,
		IDProvider: docs.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build version store: %v", err)
	}
	repository, err := docs.NewRepository(docs.RepositoryConfig{
		Database:   db,
		Versions:   versionStore,
		IDProvider: docs.NewUUIDProvider(),
		Publisher:  broadcaster,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build repository: %v", err)
	}

	ctx := context.Background()
	userID, err := docs.NewUserID(integrationUserID)
	if err != nil {
		testContext.Fatalf("failed to build user id: %v", err)
	}
	document, err := repository.Create(ctx, userID, "Shared Title", "Shared Body")
	if err != nil {
		testContext.Fatalf("failed to create document: %v", err)
	}

	updater := repositoryUpdater{repository: repository, userID: userID}
	openSession := func() *syncclient.Session {
		session, sessionErr := syncclient.NewSession(syncclient.SessionConfig{
			DocumentID:   document.DocumentID,
			Updater:      updater,
			Subscriber:   broadcaster,
			Debounce:     sessionDebounce,
			Logger:       zap.NewNop(),
			InitialTitle: document.Title,
			InitialBody:  document.Body,
		})
		if sessionErr != nil {
			testContext.Fatalf("failed to open session: %v", sessionErr)
		}
		return session
	}

	sessionA := openSession()
	defer sessionA.Close()
	sessionB := openSession()
	defer sessionB.Close()

	// A burst of keystrokes in one tab coalesces into a single send and the
	// other tab converges on the final value.
	sessionA.Input(syncclient.FieldBody, "S")
	sessionA.Input(syncclient.FieldBody, "Se")
	sessionA.Input(syncclient.FieldBody, "Sec")
	sessionA.Input(syncclient.FieldBody, "Second Body")
	sessionA.SetFocus(syncclient.FieldBody, false)

	waitForValue(testContext, sessionB, syncclient.FieldBody, "Second Body")

	stored, err := repository.Get(ctx, mustDocumentID(testContext, document.DocumentID), userID, false)
	if err != nil {
		testContext.Fatalf("failed to load document: %v", err)
	}
	if stored.Body != "Second Body" {
		testContext.Fatalf("expected persisted body %q, got %q", "Second Body", stored.Body)
	}

	// The burst produced one update, so exactly one snapshot beyond the
	// creation snapshot holds the pre-update content.
	total, err := versionStore.Count(ctx, mustDocumentID(testContext, document.DocumentID))
	if err != nil {
		testContext.Fatalf("failed to count versions: %v", err)
	}
	if total != 2 {
		testContext.Fatalf("expected 2 versions, got %d", total)
	}
	snapshots, err := versionStore.List(ctx, mustDocumentID(testContext, document.DocumentID), 0, 10)
	if err != nil {
		testContext.Fatalf("failed to list versions: %v", err)
	}
	if snapshots[0].Body != "Shared Body" {
		testContext.Fatalf("expected newest snapshot to hold pre-update body, got %q", snapshots[0].Body)
	}

	// B types a title and keeps focus there. A converges once the debounced
	// send lands.
	sessionA.SetFocus(syncclient.FieldTitle, false)
	sessionB.Input(syncclient.FieldTitle, "Draft From B")
	waitForValue(testContext, sessionA, syncclient.FieldTitle, "Draft From B")

	// A remote body edit arrives while B is still focused on the title: the
	// body reconciles, the title under B's cursor does not move.
	sessionA.Input(syncclient.FieldBody, "Third Body")
	sessionA.SetFocus(syncclient.FieldBody, false)
	waitForValue(testContext, sessionB, syncclient.FieldBody, "Third Body")
	if got := sessionB.Value(syncclient.FieldTitle); got != "Draft From B" {
		testContext.Fatalf("focused title must not be overwritten, got %q", got)
	}
}

func waitForValue(testContext *testing.T, session *syncclient.Session, field syncclient.Field, expected string) {
	testContext.Helper()
	deadline := time.Now().Add(convergeDeadline)
	for time.Now().Before(deadline) {
		if session.Value(field) == expected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	testContext.Fatalf("field %q never converged on %q, last value %q", field, expected, session.Value(field))
}

func mustDocumentID(testContext *testing.T, raw string) docs.DocumentID {
	testContext.Helper()
	documentID, err := docs.NewDocumentID(raw)
	if err != nil {
		testContext.Fatalf("invalid document id %q: %v", raw, err)
	}
	return documentID
}
