package users

import "strings"

// Account stores one known user of the service, keyed by the stable subject
// from the identity provider.
type Account struct {
	UserID            string `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName       string `gorm:"column:display_name;size:320"`
	Email             string `gorm:"column:email;size:320"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
	LastSeenAtSeconds int64  `gorm:"column:last_seen_at_s;not null"`
}

// TableName exposes the table backing user accounts.
func (Account) TableName() string {
	return "user_accounts"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
