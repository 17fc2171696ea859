package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/driftnote-app/driftnote/backend/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for account resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages the account rows behind verified identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// EnsureAccount returns the user id for the verified claims, creating the
// account row on first contact and refreshing profile fields afterwards.
func (s *Service) EnsureAccount(claims auth.IdentityClaims) (string, error) {
	subject := normalize(claims.Subject)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	if _, seen := s.cache.Load(subject); seen {
		_ = s.db.Model(&Account{}).
			Where("user_id = ?", subject).
			Update("last_seen_at_s", s.now().UTC().Unix()).
			Error
		return subject, nil
	}

	var account Account
	err := s.db.Where("user_id = ?", subject).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := s.now().UTC().Unix()
		account = Account{
			UserID:            subject,
			DisplayName:       normalize(claims.DisplayName),
			Email:             normalize(claims.Email),
			CreatedAtSeconds:  now,
			LastSeenAtSeconds: now,
		}
		if err := s.db.Create(&account).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		updates := map[string]interface{}{
			"last_seen_at_s": s.now().UTC().Unix(),
		}
		if display := normalize(claims.DisplayName); display != "" && display != account.DisplayName {
			updates["display_name"] = display
		}
		if email := normalize(claims.Email); email != "" && email != account.Email {
			updates["email"] = email
		}
		_ = s.db.Model(&Account{}).
			Where("user_id = ?", subject).
			Updates(updates).
			Error
	}

	s.cache.Store(subject, struct{}{})
	return subject, nil
}
