package users

import (
	"errors"
	"testing"
	"time"

	"github.com/driftnote-app/driftnote/backend/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return service, db
}

func TestEnsureAccountCreatesRowOnFirstContact(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	service, db := newTestService(t, func() time.Time { return now })

	userID, err := service.EnsureAccount(auth.IdentityClaims{
		Subject:     "user-1",
		DisplayName: "Sam Writer",
		Email: "sam@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected user id %q", userID)
	}

	var account Account
	if err := db.First(&account).Error; err != nil {
		t.Fatalf("failed to load account: %v", err)
	}
	if account.DisplayName != "Sam Writer" || account.Email != "sam@example.com" {
		t.Fatalf("unexpected account %+v", account)
	}
	if account.CreatedAtSeconds != now.Unix() {
		t.Fatalf("unexpected created_at %d", account.CreatedAtSeconds)
	}
}

func TestEnsureAccountRefreshesProfile(t *testing.T) {
	current := time.Unix(1700000000, 0).UTC()
	service, db := newTestService(t, func() time.Time { return current })

	if _, err := service.EnsureAccount(auth.IdentityClaims{Subject: "user-1", DisplayName: "Old Name"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current = current.Add(time.Hour)
	if _, err := service.EnsureAccount(auth.IdentityClaims{Subject: "user-1", DisplayName: "Old Name"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var account Account
	if err := db.First(&account).Error; err != nil {
		t.Fatalf("failed to load account: %v", err)
	}
	if account.LastSeenAtSeconds != current.Unix() {
		t.Fatalf("expected last_seen refresh to %d, got %d", current.Unix(), account.LastSeenAtSeconds)
	}
}

func TestEnsureAccountRejectsEmptySubject(t *testing.T) {
	service, _ := newTestService(t, nil)
	if _, err := service.EnsureAccount(auth.IdentityClaims{Subject: "   "}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity error, got %v", err)
	}
}
