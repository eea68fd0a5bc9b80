package repo

import "time"

type LinkEntity struct {
	ID             int64      `db:"id"`
	Code           string     `db:"code"`
	Destination    string     `db:"destination"`
	Active         bool       `db:"active"`
	ExpiresAt      *time.Time `db:"expires_at"`
	ClickLimit     *int64     `db:"click_limit"`
	ClickCount     int64      `db:"click_count"`
	RedirectStatus int        `db:"redirect_status"`
	CreatedAt      time.Time  `db:"created_at"`
}

// Limited reports whether the link carries a click limit. Limited links
// keep an exact counter and are excluded from coalesced batch increments.
func (l *LinkEntity) Limited() bool {
	return l.ClickLimit != nil
}

type ClickEntity struct {
	ID          int64     `db:"id"`
	LinkID      int64     `db:"link_id"`
	CreatedAt   time.Time `db:"created_at"`
	IP          *string   `db:"ip"`
	RawUA       *string   `db:"raw_ua"`
	Browser     *string   `db:"browser"`
	OS          *string   `db:"os"`
	Device      *string   `db:"device"`
	Referer     *string   `db:"referer"`
	Country     *string   `db:"country"`
	City        *string   `db:"city"`
	UTMSource   *string   `db:"utm_source"`
	UTMMedium   *string   `db:"utm_medium"`
	UTMCampaign *string   `db:"utm_campaign"`
	UTMTerm     *string   `db:"utm_term"`
	UTMContent  *string   `db:"utm_content"`
}

type FieldStat struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}
