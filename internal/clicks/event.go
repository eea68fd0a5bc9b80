package clicks

import (
	"time"

	"github.com/mssola/useragent"

	"linkhub/internal/repo"
)

// Event is one recorded visit. The timestamp is assigned at click time so
// buffered or queued persistence keeps chronological accuracy. Limited
// mirrors the link's click-limit presence and steers the exact-counter
// path in the accounting strategy and the batch processor.
type Event struct {
	LinkID      int64     `json:"link_id"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"user_agent"`
	Referer     string    `json:"referer,omitempty"`
	Country     string    `json:"country,omitempty"`
	City        string    `json:"city,omitempty"`
	UTMSource   string    `json:"utm_source,omitempty"`
	UTMMedium   string    `json:"utm_medium,omitempty"`
	UTMCampaign string    `json:"utm_campaign,omitempty"`
	UTMTerm     string    `json:"utm_term,omitempty"`
	UTMContent  string    `json:"utm_content,omitempty"`
	Limited     bool      `json:"limited,omitempty"`
	ClickedAt   time.Time `json:"clicked_at"`
}

// ToEntity converts the event into its persistence shape. Timestamps are
// normalized to UTC; empty optional fields become NULLs.
func (e Event) ToEntity() repo.ClickEntity {
	browser, os, device := parseUserAgent(e.UserAgent)

	return repo.ClickEntity{
		LinkID:      e.LinkID,
		CreatedAt:   e.ClickedAt.UTC(),
		IP:          nullable(e.IP),
		RawUA:       nullable(e.UserAgent),
		Browser:     nullable(browser),
		OS:          nullable(os),
		Device:      nullable(device),
		Referer:     nullable(e.Referer),
		Country:     nullable(e.Country),
		City:        nullable(e.City),
		UTMSource:   nullable(e.UTMSource),
		UTMMedium:   nullable(e.UTMMedium),
		UTMCampaign: nullable(e.UTMCampaign),
		UTMTerm:     nullable(e.UTMTerm),
		UTMContent:  nullable(e.UTMContent),
	}
}

func parseUserAgent(uaString string) (browser, os, device string) {
	if uaString == "" {
		return "", "", ""
	}

	ua := useragent.New(uaString)
	browser, _ = ua.Browser()
	os = ua.OS()
	device = "Desktop"
	if ua.Mobile() {
		device = "Mobile"
	} else if ua.Bot() {
		device = "Bot"
	}
	return browser, os, device
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
