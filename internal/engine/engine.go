// Package engine is the boundary to the filtering engine: filter lists,
// rule rebuilds and the per-request matching queries content scripts make.
// Rebuilds are asynchronous; their completion is announced on the engine
// event channel, never returned from the call that started them.
package engine

import (
	"context"
	"errors"
	"time"
)

// ErrNoSuchFilter is returned for an unknown filter id.
var ErrNoSuchFilter = errors.New("no such filter")

// ErrDownload is returned when a remote filter list cannot be fetched.
var ErrDownload = errors.New("filter download failed")

// Filter is one filter list.
type Filter struct {
	ID              int       `json:"filterId"`
	GroupID         int       `json:"groupId"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Version         string    `json:"version,omitempty"`
	SubscriptionURL string    `json:"subscriptionUrl,omitempty"`
	Custom          bool      `json:"customUrl,omitempty"`
	Trusted         bool      `json:"trusted,omitempty"`
	Installed       bool      `json:"installed"`
	Enabled         bool      `json:"enabled"`
	RulesCount      int       `json:"rulesCount"`
	LastUpdate      time.Time `json:"lastUpdateTime"`
}

// Group is a category of filters.
type Group struct {
	ID      int    `json:"groupId"`
	Name    string `json:"groupName"`
	Enabled bool   `json:"enabled"`
}

// CustomFilterInfo describes a remote list before the user subscribes.
type CustomFilterInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Homepage    string `json:"homepage,omitempty"`
	Version     string `json:"version,omitempty"`
	RulesCount  int    `json:"rulesCount"`
	URL         string `json:"customUrl"`
}

// RequestFilterInfo summarises the compiled request filter.
type RequestFilterInfo struct {
	RulesCount int `json:"rulesCount"`
}

// CollapseRequest asks whether a blocked element should be collapsed.
type CollapseRequest struct {
	ElementURL  string `json:"elementUrl"`
	RequestType string `json:"requestType"`
	RequestID   int    `json:"requestId"`
}

// CollapseResult answers a CollapseRequest.
type CollapseResult struct {
	RequestID int  `json:"requestId"`
	Collapse  bool `json:"collapse"`
}

// SelectorsAndScripts is the cosmetic payload for one document.
type SelectorsAndScripts struct {
	Selectors           []string `json:"selectors"`
	Scripts             string   `json:"scripts,omitempty"`
	CollapseAllElements bool     `json:"collapseAllElements"`
}

// CookieRule is a cookie rule applicable to a document.
type CookieRule struct {
	RuleText     string `json:"ruleText"`
	FilterID     int    `json:"filterId"`
	Match        string `json:"match"`
	IsThirdParty bool   `json:"isThirdParty"`
}

// Engine is implemented by the filtering engine integration.
type Engine interface {
	Filters(ctx context.Context) ([]Filter, error)
	Groups(ctx context.Context) ([]Group, error)
	// EnableFilters installs if needed and enables the filters.
	EnableFilters(ctx context.Context, ids []int, forceRemote bool) ([]Filter, error)
	// DisableFilters disables the filters, uninstalling them when uninstall is set.
	DisableFilters(ctx context.Context, ids []int, uninstall bool) error
	RemoveFilter(ctx context.Context, id int) error
	SetGroupEnabled(ctx context.Context, id int, enabled bool) error
	// CheckUpdates refreshes enabled filters and returns those that changed.
	CheckUpdates(ctx context.Context) ([]Filter, error)
	LoadCustomFilterInfo(ctx context.Context, url, title string) (CustomFilterInfo, error)
	LoadCustomFilter(ctx context.Context, url, title string, trusted bool) (Filter, error)

	// SetUserRules starts a user filter rebuild.
	SetUserRules(ctx context.Context, rules []string) error
	// SetAllowlist starts an allowlist rebuild.
	SetAllowlist(ctx context.Context, domains []string) error
	// SetFilteringDisabled pauses or resumes all filtering.
	SetFilteringDisabled(ctx context.Context, disabled bool) error
	Ready() bool
	RequestFilterInfo() RequestFilterInfo

	ShouldCollapse(ctx context.Context, tabURL, documentURL string, req CollapseRequest) (CollapseResult, error)
	SelectorsAndScripts(ctx context.Context, tabURL, documentURL string) (SelectorsAndScripts, error)
	CookieRules(ctx context.Context, tabURL, documentURL string) ([]CookieRule, error)
	CheckPageScriptWrapper(ctx context.Context, tabURL, elementURL, documentURL, requestType string) (bool, error)
	ConvertRules(ctx context.Context, text string) (string, error)
}
