// Package services holds the background services that answer one-shot
// messages from the UI pages and content scripts. Each service is a module:
// it registers its handlers with the routers and, where needed, hooks into
// long-lived page connections when booted.
package services

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/nfrund/filterbridge/internal/browser"
	"github.com/nfrund/filterbridge/internal/engine"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/storage"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	Bus     *events.Bus
	Engine  engine.Engine
	Tabs    browser.Tabs
	Store   *storage.Store
	Backups storage.BackupStore
	Logger  *slog.Logger
	// Version is reported to pages as appVersion.
	Version string
	// PagesURL is the base URL of the extension pages, ending in a slash.
	PagesURL string
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// pageURL resolves an extension page against PagesURL.
func (d Deps) pageURL(page string) string {
	return d.PagesURL + page
}

// Set is every background service, wired to each other.
type Set struct {
	Settings       *Settings
	Filters        *Filters
	UserRules      *UserRules
	Allowlist      *Allowlist
	UI             *UI
	Popup          *Popup
	FilteringLog   *FilteringLog
	ContentScripts *ContentScripts
	Editor         *Editor
	Listeners      *Listeners
}

// New builds the services over deps.
func New(deps Deps) *Set {
	s := &Set{
		Editor:         NewEditor(deps),
		Filters:        NewFilters(deps),
		Allowlist:      NewAllowlist(deps),
		UI:             NewUI(deps),
		ContentScripts: NewContentScripts(deps),
		Listeners:      NewListeners(deps),
	}
	s.Settings = NewSettings(deps, s.Editor)
	s.UserRules = NewUserRules(deps, s.Settings)
	s.Popup = NewPopup(deps, s.Settings, s.Allowlist, s.UserRules)
	s.FilteringLog = NewFilteringLog(deps, s.Settings)
	return s
}

// Modules returns the services in boot order. Settings come first so the
// other services read seeded values.
func (s *Set) Modules() []module.Module {
	return []module.Module{
		s.Settings,
		s.Filters,
		s.UserRules,
		s.Allowlist,
		s.UI,
		s.Popup,
		s.FilteringLog,
		s.ContentScripts,
		s.Editor,
		s.Listeners,
	}
}

// Filter ids with a fixed meaning.
const (
	UserFilterID       = 0
	RussianFilterID    = 1
	EnglishFilterID    = 2
	TrackingFilterID   = 3
	SocialFilterID     = 4
	AnnoyancesFilterID = 14
	AllowlistFilterID  = 100
)

// antiBannerFilterIDs is exposed to pages as AntiBannerFiltersId.
var antiBannerFilterIDs = map[string]int{
	"USER_FILTER_ID":       UserFilterID,
	"RUSSIAN_FILTER_ID":    RussianFilterID,
	"ENGLISH_FILTER_ID":    EnglishFilterID,
	"TRACKING_FILTER_ID":   TrackingFilterID,
	"SOCIAL_FILTER_ID":     SocialFilterID,
	"ANNOYANCES_FILTER_ID": AnnoyancesFilterID,
	"ALLOWLIST_FILTER_ID":  AllowlistFilterID,
}

var lineBreaks = regexp.MustCompile(`[\r\n]+`)

// splitLines splits text on any run of CR/LF, trims each entry and drops
// blanks.
func splitLines(text string) []string {
	var out []string
	for _, line := range lineBreaks.Split(text, -1) {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// hostOf returns the lower-cased host of raw without port or trailing dot.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// domainOf returns the host of raw with a leading "www." removed.
func domainOf(raw string) string {
	return strings.TrimPrefix(hostOf(raw), "www.")
}

// isHTTP reports whether raw is an http(s) or ws(s) URL.
func isHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return true
	}
	return false
}
