package client

import (
	"context"
	"encoding/json"

	"github.com/nfrund/filterbridge/internal/message"
)

// FrameInfo is the filtering state of a tab's top frame.
type FrameInfo struct {
	URL                          string `json:"url"`
	DomainName                   string `json:"domainName"`
	ApplicationFilteringDisabled bool   `json:"applicationFilteringDisabled"`
	URLFilteringDisabled         bool   `json:"urlFilteringDisabled"`
	DocumentAllowlisted          bool   `json:"documentAllowlisted"`
	UserAllowlisted              bool   `json:"userAllowlisted"`
	CanAddRemoveRule             bool   `json:"canAddRemoveRule"`
	TotalBlocked                 uint64 `json:"totalBlocked"`
	TotalBlockedTab              uint64 `json:"totalBlockedTab"`
}

// PopupInfo is the reply to getTabInfoForPopup.
type PopupInfo struct {
	FrameInfo FrameInfo       `json:"frameInfo"`
	Stats     json.RawMessage `json:"stats"`
	Options   map[string]any  `json:"options"`
}

// app returns m marked for the typed registry.
func (m *Messenger) app() *Messenger {
	if m.marker == message.HandlerApp {
		return m
	}
	c := *m
	c.marker = message.HandlerApp
	return &c
}

// legacy returns m without a routing marker.
func (m *Messenger) legacy() *Messenger {
	if m.marker == "" {
		return m
	}
	c := *m
	c.marker = ""
	return &c
}

// GetOptionsData returns the options page bootstrap data.
func (m *Messenger) GetOptionsData(ctx context.Context) (map[string]any, error) {
	return requestAs[map[string]any](ctx, m.app(), message.GetOptionsData, nil)
}

// GetTabInfoForPopup returns the popup data for tabID, or for the active
// tab when tabID is zero. The reply is nil when there is no such tab.
func (m *Messenger) GetTabInfoForPopup(ctx context.Context, tabID int) (*PopupInfo, error) {
	return requestAs[*PopupInfo](ctx, m.app(), message.GetTabInfoForPopup, map[string]any{"tabId": tabID})
}

// ChangeApplicationFilteringDisabled turns filtering off or back on.
func (m *Messenger) ChangeApplicationFilteringDisabled(ctx context.Context, disabled bool) error {
	_, err := m.app().Request(ctx, message.ChangeApplicationFilteringDisabled, map[string]any{"state": disabled})
	return err
}

func (m *Messenger) OpenSettingsTab(ctx context.Context) error {
	_, err := m.app().Request(ctx, message.OpenSettingsTab, nil)
	return err
}

func (m *Messenger) OpenFilteringLog(ctx context.Context) error {
	_, err := m.app().Request(ctx, message.OpenFilteringLog, nil)
	return err
}

// GetUserRules returns the user rules as one newline-joined text.
func (m *Messenger) GetUserRules(ctx context.Context) (string, error) {
	reply, err := requestAs[struct {
		Content string `json:"content"`
	}](ctx, m.legacy(), message.GetUserRules, nil)
	return reply.Content, err
}

// SaveUserRules replaces the user rules. It returns once the engine has
// rebuilt the user filter.
func (m *Messenger) SaveUserRules(ctx context.Context, text string) error {
	_, err := m.legacy().Request(ctx, message.SaveUserRules, map[string]any{"value": text})
	return err
}

func (m *Messenger) AddUserRule(ctx context.Context, rule string) error {
	_, err := m.legacy().Request(ctx, message.AddUserRule, map[string]any{"ruleText": rule})
	return err
}

// GetAllowlistDomains returns the allowlist as CRLF-joined text.
func (m *Messenger) GetAllowlistDomains(ctx context.Context) (string, error) {
	reply, err := requestAs[struct {
		Content string `json:"content"`
	}](ctx, m.legacy(), message.GetAllowlistDomains, nil)
	return reply.Content, err
}

func (m *Messenger) SaveAllowlistDomains(ctx context.Context, text string) error {
	_, err := m.legacy().Request(ctx, message.SaveAllowlistDomains, map[string]any{"value": text})
	return err
}

// EnableFilter installs and enables a filter, returning the filters that
// were enabled.
func (m *Messenger) EnableFilter(ctx context.Context, filterID int) (json.RawMessage, error) {
	return m.legacy().Request(ctx, message.AddAndEnableFilter, map[string]any{"filterId": filterID})
}

func (m *Messenger) DisableFilter(ctx context.Context, filterID int, remove bool) error {
	_, err := m.legacy().Request(ctx, message.DisableAntiBannerFilter, map[string]any{"filterId": filterID, "remove": remove})
	return err
}

func (m *Messenger) ChangeUserSetting(ctx context.Context, key string, value any) error {
	_, err := m.legacy().Request(ctx, message.ChangeUserSetting, map[string]any{"key": key, "value": value})
	return err
}
