package model

// PushSubscription is a browser push endpoint. Endpoint is globally unique.
type PushSubscription struct {
	Base
	UserID   int64  `json:"user_id" db:"user_id"`
	Endpoint string `json:"endpoint" db:"endpoint"`
	P256dh   string `json:"-" db:"p256dh"`
	Auth     string `json:"-" db:"auth"`
}
