package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftnote-app/driftnote/backend/internal/auth"
	"github.com/driftnote-app/driftnote/backend/internal/broadcast"
	"github.com/driftnote-app/driftnote/backend/internal/docs"
	"github.com/driftnote-app/driftnote/backend/internal/markdown"
	"github.com/driftnote-app/driftnote/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var serverTestDatabaseSequence int64

type stubVerifier struct {
	claims auth.IdentityClaims
	err    error
}

func (s stubVerifier) Verify(context.Context, string) (auth.IdentityClaims, error) {
	if s.err != nil {
		return auth.IdentityClaims{}, s.err
	}
	return s.claims, nil
}

type testEnvironment struct {
	server      *httptest.Server
	tokenIssuer *auth.TokenIssuer
	broadcaster *broadcast.Broadcaster
	repository  *docs.Repository
	versions    *docs.VersionStore
}

func newTestEnvironment(t *testing.T, verifier IdentityVerifier) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", atomic.AddInt64(&serverTestDatabaseSequence, 1))
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&docs.Document{}, &docs.VersionSnapshot{}, &users.Account{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	broadcaster := broadcast.NewBroadcaster()
	t.Cleanup(broadcaster.Close)

	versionStore, err := docs.NewVersionStore(docs.VersionStoreConfig{
		Database:   db,
		IDProvider: docs.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("unexpected version store error: %v", err)
	}
	repository, err := docs.NewRepository(docs.RepositoryConfig{
		Database:   db,
		Versions:   versionStore,
		IDProvider: docs.NewUUIDProvider(),
		Publisher:  broadcaster,
	})
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected users error: %v", err)
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "driftnote-auth",
		Audience:      "driftnote-api",
		TokenTTL:      time.Minute,
	})

	if verifier == nil {
		verifier = stubVerifier{claims: auth.IdentityClaims{Subject: "user-1"}}
	}

	handler, err := NewHTTPHandler(Dependencies{
		IdentityVerifier: verifier,
		TokenManager:     tokenIssuer,
		Repository:       repository,
		Versions:         versionStore,
		Users:            userService,
		Broadcaster:      broadcaster,
		Renderer:         markdown.NewRenderer(),
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnvironment{
		server:      server,
		tokenIssuer: tokenIssuer,
		broadcaster: broadcaster,
		repository:  repository,
		versions:    versionStore,
	}
}

func (e *testEnvironment) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := e.tokenIssuer.IssueBackendToken(context.Background(), auth.IdentityClaims{Subject: userID})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (e *testEnvironment) request(t *testing.T, method, path, token string, payload interface{}) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return response
}

func decodeJSON(t *testing.T, response *http.Response, target interface{}) {
	t.Helper()
	defer response.Body.Close()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
