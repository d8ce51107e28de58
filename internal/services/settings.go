package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/engine"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/router"
)

// Setting keys.
const (
	SettingDisableShowPageStats = "disable-show-page-statistic"
	SettingDisableDetectFilters = "disable-detect-filters"
	SettingDisableSafebrowsing  = "safebrowsing-disabled"
	SettingDisableCollectHits   = "hits-count-disabled"
	SettingDefaultAllowlistMode = "default-allowlist-mode"
	SettingDisableFiltering     = "adguard-disabled"
	SettingShowFullVersionInfo  = "show-info-about-adguard"
	SettingDisableShowPromoInfo = "disable-show-adguard-promo-info"
	SettingUserRulesEditorWrap  = "user-rules-editor-wrap"
	SettingAppearanceTheme      = "appearance-theme"
	SettingViewedNotificationAt = "viewed-notification-time"
	SettingDisableContextMenu   = "context-menu-disabled"
)

// DefaultSettings are applied on first start and by resetSettings.
var DefaultSettings = map[string]any{
	SettingDisableShowPageStats: false,
	SettingDisableDetectFilters: false,
	SettingDisableSafebrowsing:  true,
	SettingDisableCollectHits:   true,
	SettingDefaultAllowlistMode: true,
	SettingDisableFiltering:     false,
	SettingShowFullVersionInfo:  true,
	SettingDisableShowPromoInfo: false,
	SettingUserRulesEditorWrap:  false,
	SettingAppearanceTheme:      "system",
	SettingViewedNotificationAt: 0,
	SettingDisableContextMenu:   false,
}

// backupProtocolVersion tags exported settings files.
const backupProtocolVersion = "1.0"

// Backup is the settings export format.
type Backup struct {
	ProtocolVersion string         `json:"protocol-version"`
	GeneralSettings map[string]any `json:"general-settings"`
	Filters         BackupFilters  `json:"filters"`
}

// BackupFilters is the filters section of a Backup.
type BackupFilters struct {
	EnabledFilters []int         `json:"enabled-filters"`
	EnabledGroups  []int         `json:"enabled-groups"`
	UserFilter     BackupRules   `json:"user-filter"`
	Allowlist      BackupDomains `json:"whitelist"`
}

// BackupRules holds user rules, newline separated.
type BackupRules struct {
	Rules string `json:"rules"`
}

// BackupDomains holds allowlisted domains.
type BackupDomains struct {
	Domains []string `json:"domains"`
}

// pageState reports whether a UI page currently has a connection open.
type pageState interface {
	IsOpen() bool
}

// Settings owns user settings and the settings backup.
type Settings struct {
	module.BaseModule
	deps   Deps
	editor pageState
}

// NewSettings creates the settings service. editor reports whether the
// fullscreen rules editor is open and may be nil.
func NewSettings(deps Deps, editor pageState) *Settings {
	return &Settings{deps: deps, editor: editor}
}

func (s *Settings) Name() string { return "settings" }

func (s *Settings) Register(r module.Routers) error {
	handlers := map[message.Type]router.HandlerFunc{
		message.ChangeUserSetting:     router.Handle(s.changeUserSetting),
		message.ResetSettings:         router.Func(s.resetSettings),
		message.LoadSettingsJSON:      router.Func(s.loadSettingsJSON),
		message.ApplySettingsJSON:     router.Handle(s.applySettingsJSON),
		message.GetOptionsData:        router.Func(s.optionsData),
		message.InitializeFrameScript: router.Func(s.initializeFrameScript),
	}
	for t, h := range handlers {
		if err := r.Legacy.Register(t, h); err != nil {
			return err
		}
	}
	return r.App.Register(message.GetOptionsData, router.Func(s.optionsData))
}

// Boot seeds missing settings with their defaults.
func (s *Settings) Boot(ctx context.Context, _ *connection.Manager) error {
	stored, err := s.deps.Store.Settings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	for k, v := range DefaultSettings {
		if _, ok := stored[k]; ok {
			continue
		}
		if err := s.deps.Store.SetSetting(k, v); err != nil {
			return fmt.Errorf("seed setting %q: %w", k, err)
		}
	}
	disabled, err := s.Bool(SettingDisableFiltering)
	if err != nil {
		return err
	}
	return s.deps.Engine.SetFilteringDisabled(ctx, disabled)
}

// All returns every setting, defaults overlaid with stored values.
func (s *Settings) All() (map[string]any, error) {
	out := maps.Clone(DefaultSettings)
	stored, err := s.deps.Store.Settings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	for k, raw := range stored {
		var v any
		if err := jsoncodec.Unmarshal(raw, &v); err != nil {
			s.deps.logger().Warn("discarding unreadable setting", "key", k, "error", err)
			continue
		}
		out[k] = v
	}
	return out, nil
}

// Bool returns a boolean setting, false when unset or not a boolean.
func (s *Settings) Bool(key string) (bool, error) {
	all, err := s.All()
	if err != nil {
		return false, err
	}
	b, _ := all[key].(bool)
	return b, nil
}

// Set stores one setting and announces the change on the bus.
func (s *Settings) Set(key string, value any) error {
	if err := s.deps.Store.SetSetting(key, value); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	s.deps.Bus.Publish(events.SettingUpdated, key, value)
	return nil
}

type changeSetting struct {
	Key   string `json:"key" validate:"required"`
	Value any    `json:"value"`
}

func (s *Settings) changeUserSetting(ctx context.Context, p changeSetting, _ message.Sender) (any, error) {
	if err := s.Set(p.Key, p.Value); err != nil {
		return nil, err
	}
	if p.Key == SettingDisableFiltering {
		disabled, _ := p.Value.(bool)
		return nil, s.deps.Engine.SetFilteringDisabled(ctx, disabled)
	}
	return nil, nil
}

func (s *Settings) resetSettings(ctx context.Context, _ message.Sender) (any, error) {
	if err := s.deps.Store.ReplaceSettings(DefaultSettings); err != nil {
		return false, fmt.Errorf("reset settings: %w", err)
	}
	if err := s.deps.Engine.SetFilteringDisabled(ctx, false); err != nil {
		return false, err
	}
	s.deps.Bus.Publish(events.SettingsUpdated)
	return true, nil
}

// export builds a Backup of the current state.
func (s *Settings) export(ctx context.Context) (Backup, error) {
	settings, err := s.All()
	if err != nil {
		return Backup{}, err
	}
	filters, err := s.deps.Engine.Filters(ctx)
	if err != nil {
		return Backup{}, err
	}
	groups, err := s.deps.Engine.Groups(ctx)
	if err != nil {
		return Backup{}, err
	}
	rules, err := s.deps.Store.UserRules()
	if err != nil {
		return Backup{}, err
	}
	domains, err := s.deps.Store.Allowlist()
	if err != nil {
		return Backup{}, err
	}

	b := Backup{
		ProtocolVersion: backupProtocolVersion,
		GeneralSettings: settings,
		Filters: BackupFilters{
			EnabledFilters: []int{},
			EnabledGroups:  []int{},
			UserFilter:     BackupRules{Rules: joinRules(rules)},
			Allowlist:      BackupDomains{Domains: domains},
		},
	}
	for _, f := range filters {
		if f.Enabled {
			b.Filters.EnabledFilters = append(b.Filters.EnabledFilters, f.ID)
		}
	}
	for _, g := range groups {
		if g.Enabled {
			b.Filters.EnabledGroups = append(b.Filters.EnabledGroups, g.ID)
		}
	}
	if b.Filters.Allowlist.Domains == nil {
		b.Filters.Allowlist.Domains = []string{}
	}
	return b, nil
}

func backupName(prefix string) string {
	return fmt.Sprintf("%s-%s.json", prefix, time.Now().UTC().Format("20060102T150405.000Z"))
}

func (s *Settings) loadSettingsJSON(ctx context.Context, _ message.Sender) (any, error) {
	b, err := s.export(ctx)
	if err != nil {
		return nil, err
	}
	data, err := jsoncodec.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Backups.Save(ctx, backupName("export"), bytes.NewReader(data)); err != nil {
		s.deps.logger().Warn("failed to keep settings export", "error", err)
	}
	return map[string]any{
		"content":    string(data),
		"appVersion": s.deps.Version,
	}, nil
}

type applySettings struct {
	JSON string `json:"json" validate:"required"`
}

// applySettingsJSON replies false for a backup it cannot read and true once
// the backup is applied.
func (s *Settings) applySettingsJSON(ctx context.Context, p applySettings, _ message.Sender) (any, error) {
	var b Backup
	if err := jsoncodec.Unmarshal([]byte(p.JSON), &b); err != nil {
		s.deps.logger().Warn("rejected settings backup", "error", err)
		return false, nil
	}
	if b.ProtocolVersion != backupProtocolVersion {
		s.deps.logger().Warn("rejected settings backup", "protocol_version", b.ProtocolVersion)
		return false, nil
	}

	// Keep what we are about to overwrite.
	if current, err := s.export(ctx); err == nil {
		if data, err := jsoncodec.Marshal(current); err == nil {
			if _, err := s.deps.Backups.Save(ctx, backupName("before-apply"), bytes.NewReader(data)); err != nil {
				s.deps.logger().Warn("failed to keep settings before apply", "error", err)
			}
		}
	}

	if err := s.restore(ctx, b); err != nil {
		return false, err
	}
	s.deps.Bus.Publish(events.SettingsUpdated)
	return true, nil
}

func (s *Settings) restore(ctx context.Context, b Backup) error {
	settings := maps.Clone(DefaultSettings)
	maps.Copy(settings, b.GeneralSettings)
	if err := s.deps.Store.ReplaceSettings(settings); err != nil {
		return fmt.Errorf("restore settings: %w", err)
	}

	rules := splitLines(b.Filters.UserFilter.Rules)
	if err := s.deps.Store.SetUserRules(rules); err != nil {
		return err
	}
	if err := s.deps.Engine.SetUserRules(ctx, rules); err != nil {
		return err
	}
	if err := s.deps.Store.SetAllowlist(b.Filters.Allowlist.Domains); err != nil {
		return err
	}
	if err := s.deps.Engine.SetAllowlist(ctx, b.Filters.Allowlist.Domains); err != nil {
		return err
	}

	for _, id := range b.Filters.EnabledGroups {
		if err := s.deps.Engine.SetGroupEnabled(ctx, id, true); err != nil {
			s.deps.logger().Warn("skipping group from backup", "group_id", id, "error", err)
		}
	}
	if len(b.Filters.EnabledFilters) > 0 {
		if _, err := s.deps.Engine.EnableFilters(ctx, b.Filters.EnabledFilters, false); err != nil {
			if !errors.Is(err, engine.ErrNoSuchFilter) {
				return err
			}
			s.deps.logger().Warn("backup names unknown filters", "error", err)
		}
	}
	disabled, _ := settings[SettingDisableFiltering].(bool)
	return s.deps.Engine.SetFilteringDisabled(ctx, disabled)
}

// LatestBackup returns the content of the most recent stored backup.
func (s *Settings) LatestBackup(ctx context.Context) ([]byte, error) {
	names, err := s.deps.Backups.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	r, err := s.deps.Backups.Get(ctx, names[len(names)-1])
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type filtersMetadata struct {
	Filters []engine.Filter `json:"filters"`
	Groups  []engine.Group  `json:"categories"`
}

func (s *Settings) metadata(ctx context.Context) (filtersMetadata, error) {
	filters, err := s.deps.Engine.Filters(ctx)
	if err != nil {
		return filtersMetadata{}, err
	}
	groups, err := s.deps.Engine.Groups(ctx)
	if err != nil {
		return filtersMetadata{}, err
	}
	return filtersMetadata{Filters: filters, Groups: groups}, nil
}

// OptionsData is the reply to getOptionsData.
type OptionsData struct {
	Settings           map[string]any           `json:"settings"`
	AppVersion         string                   `json:"appVersion"`
	FiltersMetadata    filtersMetadata          `json:"filtersMetadata"`
	FiltersInfo        engine.RequestFilterInfo `json:"filtersInfo"`
	EnvironmentOptions map[string]any           `json:"environmentOptions"`
	Constants          map[string]any           `json:"constants"`
	EditorIsOpen       bool                     `json:"fullscreenUserRulesEditorIsOpen"`
}

func (s *Settings) optionsData(ctx context.Context, _ message.Sender) (any, error) {
	settings, err := s.All()
	if err != nil {
		return nil, err
	}
	meta, err := s.metadata(ctx)
	if err != nil {
		return nil, err
	}
	return OptionsData{
		Settings:           settings,
		AppVersion:         s.deps.Version,
		FiltersMetadata:    meta,
		FiltersInfo:        s.deps.Engine.RequestFilterInfo(),
		EnvironmentOptions: map[string]any{"isChrome": false},
		Constants:          map[string]any{"AntiBannerFiltersId": antiBannerFilterIDs},
		EditorIsOpen:       s.editor != nil && s.editor.IsOpen(),
	}, nil
}

func (s *Settings) initializeFrameScript(ctx context.Context, _ message.Sender) (any, error) {
	settings, err := s.All()
	if err != nil {
		return nil, err
	}
	meta, err := s.metadata(ctx)
	if err != nil {
		return nil, err
	}
	enabled := make(map[int]bool)
	for _, f := range meta.Filters {
		if f.Enabled {
			enabled[f.ID] = true
		}
	}
	eventTypes := make(map[string]string)
	for _, n := range events.All() {
		eventTypes[string(n)] = string(n)
	}
	return map[string]any{
		"userSettings":      settings,
		"enabledFilters":    enabled,
		"filtersMetadata":   meta.Filters,
		"requestFilterInfo": s.deps.Engine.RequestFilterInfo(),
		"environmentOptions": map[string]any{
			"isMacOs":        false,
			"canBlockWebRTC": true,
			"isChrome":       false,
			"Prefs": map[string]any{
				"locale": "en",
				"mobile": false,
			},
			"appVersion": s.deps.Version,
		},
		"constants": map[string]any{
			"AntiBannerFiltersId": antiBannerFilterIDs,
			"EventNotifierTypes":  eventTypes,
		},
	}, nil
}
