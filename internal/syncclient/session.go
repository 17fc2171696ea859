// Package syncclient implements the editor-side half of live sync: a
// debounced writer that batches rapid keystrokes into one update request, and
// a reconciler that applies inbound broadcasts without clobbering the field
// the user is typing into.
package syncclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/driftnote-app/driftnote/backend/internal/broadcast"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period after the last keystroke before a send.
const DefaultDebounce = 500 * time.Millisecond

// Field names one editable document field tracked by a session.
type Field string

const (
	// FieldTitle tracks the document title input.
	FieldTitle Field = "title"
	// FieldBody tracks the document body textarea.
	FieldBody Field = "body"
)

// sendState is the per-field pipeline state. The focus flag is tracked
// separately and never gates the pipeline, only inbound reconciliation.
type sendState int

const (
	stateIdle sendState = iota
	statePendingDebounce
	stateSending
)

var (
	errMissingDocumentID = errors.New("syncclient: document id is required")
	errMissingUpdater    = errors.New("syncclient: updater is required")
	errMissingSubscriber = errors.New("syncclient: subscriber is required")
)

// Updater sends one full-field-set update request for the session's document.
type Updater interface {
	Update(ctx context.Context, documentID, title, body string) error
}

// Subscriber registers the session for broadcasts about its document.
type Subscriber interface {
	Subscribe(documentID string) *broadcast.Subscription
}

// SessionConfig describes one open editing session (tab) for a document.
type SessionConfig struct {
	DocumentID   string
	Updater      Updater
	Subscriber   Subscriber
	Debounce     time.Duration
	Logger       *zap.Logger
	InitialTitle string
	InitialBody  string
}

type fieldState struct {
	value   string
	focused bool
	state   sendState
	timer   *time.Timer
}

// Session is the per-tab state machine. Each field moves
// Idle -> PendingDebounce -> Sending -> Idle; inbound broadcasts overwrite a
// field's displayed value only while it lacks input focus.
type Session struct {
	documentID   string
	updater      Updater
	debounce     time.Duration
	logger       *zap.Logger
	subscription *broadcast.Subscription

	mu     sync.Mutex
	fields map[Field]*fieldState
	closed bool

	recvDone chan struct{}
}

// NewSession validates the configuration, subscribes to the document's
// broadcasts, and starts the reconciliation loop.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.DocumentID == "" {
		return nil, errMissingDocumentID
	}
	if cfg.Updater == nil {
		return nil, errMissingUpdater
	}
	if cfg.Subscriber == nil {
		return nil, errMissingSubscriber
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	session := &Session{
		documentID: cfg.DocumentID,
		updater:    cfg.Updater,
		debounce:   debounce,
		logger:     logger,
		fields: map[Field]*fieldState{
			FieldTitle: {value: cfg.InitialTitle},
			FieldBody:  {value: cfg.InitialBody},
		},
		recvDone: make(chan struct{}),
	}
	session.subscription = cfg.Subscriber.Subscribe(cfg.DocumentID)
	go session.receive()
	return session, nil
}

// Input records a local edit: the field gains focus (typing implies focus),
// its displayed value updates, and the debounce timer restarts. Any pipeline
// state moves to PendingDebounce.
func (s *Session) Input(field Field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	tracked, ok := s.fields[field]
	if !ok {
		return
	}
	tracked.value = value
	tracked.focused = true
	tracked.state = statePendingDebounce
	if tracked.timer != nil {
		tracked.timer.Stop()
	}
	tracked.timer = time.AfterFunc(s.debounce, func() {
		s.flush(field)
	})
}

// SetFocus flags whether the field currently holds input focus. The flag only
// decides whether inbound broadcasts may overwrite the displayed value.
func (s *Session) SetFocus(field Field, focused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tracked, ok := s.fields[field]; ok {
		tracked.focused = focused
	}
}

// Value returns the field's currently displayed value.
func (s *Session) Value(field Field) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tracked, ok := s.fields[field]; ok {
		return tracked.value
	}
	return ""
}

// Close cancels pending debounce timers and unsubscribes. No send is issued
// after Close returns; a timer that already fired observes the closed flag
// and aborts.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, tracked := range s.fields {
		if tracked.timer != nil {
			tracked.timer.Stop()
			tracked.timer = nil
		}
		tracked.state = stateIdle
	}
	s.mu.Unlock()

	s.subscription.Cancel()
	<-s.recvDone
}

// flush runs when a field's debounce timer fires. The request carries the
// current values of all tracked fields, not just the one that triggered the
// timer, so a field edited in another tab is never sent stale alongside this
// one.
func (s *Session) flush(field Field) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	tracked, ok := s.fields[field]
	if !ok || tracked.state != statePendingDebounce {
		s.mu.Unlock()
		return
	}
	tracked.state = stateSending
	title := s.fields[FieldTitle].value
	body := s.fields[FieldBody].value
	s.mu.Unlock()

	err := s.updater.Update(context.Background(), s.documentID, title, body)
	if err != nil {
		// No automatic retry: the next keystroke re-triggers a send.
		s.logger.Warn("debounced update failed",
			zap.String("document_id", s.documentID),
			zap.Error(err))
	}

	s.mu.Lock()
	if tracked.state == stateSending {
		tracked.state = stateIdle
	}
	s.mu.Unlock()
}

// receive applies inbound broadcasts until the subscription closes. Each
// field's displayed value is overwritten only while that field lacks focus:
// the tab being typed into wins locally until focus moves away.
func (s *Session) receive() {
	defer close(s.recvDone)
	for message := range s.subscription.Stream() {
		s.reconcile(message)
	}
}

func (s *Session) reconcile(message broadcast.Message) {
	if message.DocumentID != s.documentID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if title := s.fields[FieldTitle]; !title.focused {
		title.value = message.Title
	}
	if body := s.fields[FieldBody]; !body.focused {
		body.value = message.Body
	}
}
