package model

import "time"

type Post struct {
	Audit
	SoftDelete

	UserID       int64  `json:"user_id"`
	CategoryName string `json:"category"`

	Title       string `json:"title"`
	Description string `json:"description"`

	// Exact coordinates are privacy-sensitive and used for indexing only.
	// Address fields come from reverse geocoding a fuzzed point and are the
	// only location detail shown to other users.
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Address      string  `json:"address"`
	Neighborhood string  `json:"neighborhood"`
	City         string  `json:"city"`
	State        string  `json:"state"`

	CategoryData map[string]any `json:"category_data,omitempty"`

	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	ViewCount    int64 `json:"view_count"`
	LikeCount    int64 `json:"like_count"`
	CommentCount int64 `json:"comment_count"`
}

func (p Post) IsExpired(now time.Time) bool {
	if p.ExpiresAt == nil {
		return false
	}
	return now.After(*p.ExpiresAt)
}

func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
