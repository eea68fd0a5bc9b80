package service

import (
	"time"

	"linkhub/internal/cache"
	"linkhub/internal/repo"
)

type Link struct {
	ID             int64      `json:"id"`
	Code           string     `json:"code"`
	Destination    string     `json:"destination"`
	Active         bool       `json:"active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ClickLimit     *int64     `json:"click_limit,omitempty"`
	ClickCount     int64      `json:"click_count"`
	RedirectStatus int        `json:"redirect_status"`
	CreatedAt      time.Time  `json:"created_at"`
}

type LinkStats struct {
	Link          Link             `json:"link"`
	TotalClicks   int64            `json:"total_clicks"`
	PendingClicks int64            `json:"pending_clicks"`
	TopCountries  []repo.FieldStat `json:"top_countries,omitempty"`
	TopBrowsers   []repo.FieldStat `json:"top_browsers,omitempty"`
}

func toServiceLink(e *repo.LinkEntity) Link {
	return Link{
		ID:             e.ID,
		Code:           e.Code,
		Destination:    e.Destination,
		Active:         e.Active,
		ExpiresAt:      e.ExpiresAt,
		ClickLimit:     e.ClickLimit,
		ClickCount:     e.ClickCount,
		RedirectStatus: e.RedirectStatus,
		CreatedAt:      e.CreatedAt,
	}
}

func toCachedLink(e *repo.LinkEntity) *cache.CachedLink {
	return &cache.CachedLink{
		ID:             e.ID,
		Code:           e.Code,
		Destination:    e.Destination,
		RedirectStatus: e.RedirectStatus,
		Limited:        e.Limited(),
		ExpiresAt:      e.ExpiresAt,
	}
}
