package store

import "time"

// ScoredMember is one entry of an ordered set: an opaque member payload
// ranked by score ascending, ties broken by insertion order.
type ScoredMember struct {
	Score  float64 `json:"score"`
	Member string  `json:"member"`
}

type AdminUser struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type AdminSession struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}
