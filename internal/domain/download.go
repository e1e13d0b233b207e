package domain

import "time"

// DownloadLink grants time- and count-limited access to a purchased file.
// The token is the only credential; it must be unguessable.
type DownloadLink struct {
	ID               string     `json:"id"`
	Token            string     `json:"token"`
	OrderID          string     `json:"order_id"`
	ProductID        string     `json:"product_id"`
	UserID           string     `json:"user_id"`
	FileKey          string     `json:"file_key"`
	MaxDownloads     int        `json:"max_downloads"`
	DownloadCount    int        `json:"download_count"`
	ExpiresAt        time.Time  `json:"expires_at"`
	IsActive         bool       `json:"is_active"`
	LastIP           string     `json:"last_ip,omitempty"`
	LastDownloadedAt *time.Time `json:"last_downloaded_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsExpired reports whether the link has passed its expiry at the given time.
func (l *DownloadLink) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// IsExhausted reports whether the download count has reached its cap.
func (l *DownloadLink) IsExhausted() bool {
	return l.DownloadCount >= l.MaxDownloads
}

// Redeemable reports whether the link can serve a download at the given time.
func (l *DownloadLink) Redeemable(now time.Time) bool {
	return l.IsActive && !l.IsExpired(now) && !l.IsExhausted()
}

// RemainingDownloads returns how many downloads are left on the link.
func (l *DownloadLink) RemainingDownloads() int {
	remaining := l.MaxDownloads - l.DownloadCount
	if remaining < 0 {
		return 0
	}
	return remaining
}
