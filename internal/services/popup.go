package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nfrund/filterbridge/internal/browser"
	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/router"
)

// Counter names kept in storage.
const (
	CounterBlocked = "blocked"
	CounterCSSHits = "css_hits"
)

// FrameInfo describes the main frame of a tab for the popup.
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

// Popup answers the toolbar popup.
type Popup struct {
	module.BaseModule
	deps      Deps
	settings  *Settings
	allowlist *Allowlist
	rules     *UserRules

	listener events.ListenerID
	perTab   *tabCounters
}

func NewPopup(deps Deps, settings *Settings, allowlist *Allowlist, rules *UserRules) *Popup {
	return &Popup{
		deps:      deps,
		settings:  settings,
		allowlist: allowlist,
		rules:     rules,
		perTab:    newTabCounters(),
	}
}

func (p *Popup) Name() string { return "popup" }

func (p *Popup) Register(r module.Routers) error {
	handlers := map[message.Type]router.HandlerFunc{
		message.GetTabInfoForPopup:                 router.Handle(p.tabInfo),
		message.GetStatisticsData:                  router.Func(p.statistics),
		message.ChangeApplicationFilteringDisabled: router.Handle(p.changeFilteringDisabled),
		message.SetNotificationViewed:              router.Func(p.notificationViewed),
		message.ResetBlockedAdsCount:               router.Func(p.resetBlocked),
		message.GetTabFrameInfoByID:                router.Handle(p.tabFrameInfo),
	}
	for t, h := range handlers {
		if err := r.Legacy.Register(t, h); err != nil {
			return err
		}
	}
	if err := r.App.Register(message.GetTabInfoForPopup, router.Handle(p.tabInfo)); err != nil {
		return err
	}
	return r.App.Register(message.ChangeApplicationFilteringDisabled, router.Handle(p.changeFilteringDisabled))
}

// Boot starts counting blocked requests.
func (p *Popup) Boot(context.Context, *connection.Manager) error {
	p.listener = p.deps.Bus.Subscribe(events.AdsBlocked, func(_ events.Name, args ...any) {
		if _, err := p.deps.Store.Add(CounterBlocked, 1); err != nil {
			p.deps.logger().Error("count blocked request", "error", err)
		}
		if len(args) == 0 {
			return
		}
		switch tabID := args[0].(type) {
		case int:
			p.perTab.add(tabID)
		case float64:
			// Relayed events carry JSON numbers.
			p.perTab.add(int(tabID))
		}
	})
	return nil
}

func (p *Popup) Shutdown(context.Context) error {
	p.deps.Bus.Unsubscribe(p.listener)
	return nil
}

// FrameInfo builds the popup view of tab.
func (p *Popup) FrameInfo(tab browser.Tab) (FrameInfo, error) {
	disabled, err := p.settings.Bool(SettingDisableFiltering)
	if err != nil {
		return FrameInfo{}, err
	}
	allowlisted, err := p.allowlist.Contains(tab.URL)
	if err != nil {
		return FrameInfo{}, err
	}
	total, err := p.deps.Store.Counter(CounterBlocked)
	if err != nil {
		return FrameInfo{}, err
	}
	httpPage := isHTTP(tab.URL)
	return FrameInfo{
		URL:                          tab.URL,
		DomainName:                   domainOf(tab.URL),
		ApplicationFilteringDisabled: disabled,
		URLFilteringDisabled:         !httpPage,
		DocumentAllowlisted:          allowlisted,
		UserAllowlisted:              allowlisted,
		CanAddRemoveRule:             httpPage && !disabled,
		TotalBlocked:                 total,
		TotalBlockedTab:              p.perTab.get(tab.ID),
	}, nil
}

func (p *Popup) stats() (map[string]any, error) {
	total, err := p.deps.Store.Counter(CounterBlocked)
	if err != nil {
		return nil, err
	}
	hits, err := p.deps.Store.Counter(CounterCSSHits)
	if err != nil {
		return nil, err
	}
	return map[string]any{"totalBlocked": total, "cosmeticHits": hits}, nil
}

// tabInfo replies nothing when the tab does not exist.
func (p *Popup) tabInfo(ctx context.Context, ref tabRef, _ message.Sender) (any, error) {
	tab, ok, err := p.deps.Tabs.Active(ctx, ref.TabID)
	if err != nil || !ok {
		return nil, err
	}
	frame, err := p.FrameInfo(tab)
	if err != nil {
		return nil, err
	}
	stats, err := p.stats()
	if err != nil {
		return nil, err
	}
	settings, err := p.settings.All()
	if err != nil {
		return nil, err
	}
	hasRules, err := p.rules.HasRulesForURL(tab.URL)
	if err != nil {
		return nil, err
	}
	showFull, _ := settings[SettingShowFullVersionInfo].(bool)
	noPromo, _ := settings[SettingDisableShowPromoInfo].(bool)
	return map[string]any{
		"frameInfo": frame,
		"stats":     stats,
		"options": map[string]any{
			"showStatsSupported":            true,
			"isFirefoxBrowser":              false,
			"showInfoAboutFullVersion":      showFull,
			"isMacOs":                       false,
			"isEdgeBrowser":                 false,
			"notification":                  nil,
			"isDisableShowAdguardPromoInfo": noPromo,
			"hasCustomRulesToReset":         hasRules,
		},
		"settings": settings,
	}, nil
}

func (p *Popup) statistics(context.Context, message.Sender) (any, error) {
	stats, err := p.stats()
	if err != nil {
		return nil, err
	}
	return map[string]any{"stats": stats}, nil
}

type filteringState struct {
	State bool `json:"state"`
}

func (p *Popup) changeFilteringDisabled(ctx context.Context, s filteringState, _ message.Sender) (any, error) {
	if err := p.settings.Set(SettingDisableFiltering, s.State); err != nil {
		return nil, err
	}
	if err := p.deps.Engine.SetFilteringDisabled(ctx, s.State); err != nil {
		return nil, fmt.Errorf("toggle filtering: %w", err)
	}
	return nil, nil
}

func (p *Popup) notificationViewed(context.Context, message.Sender) (any, error) {
	return nil, p.settings.Set(SettingViewedNotificationAt, time.Now().UnixMilli())
}

func (p *Popup) resetBlocked(context.Context, message.Sender) (any, error) {
	p.perTab.reset()
	return nil, p.deps.Store.ResetCounter(CounterBlocked)
}

// tabFrameInfo uses the active tab when no tab id is given and replies
// nothing when there is no such tab.
func (p *Popup) tabFrameInfo(ctx context.Context, ref tabRef, _ message.Sender) (any, error) {
	tab, ok, err := p.deps.Tabs.Active(ctx, ref.TabID)
	if err != nil || !ok {
		return nil, err
	}
	frame, err := p.FrameInfo(tab)
	if err != nil {
		return nil, err
	}
	return map[string]any{"frameInfo": frame}, nil
}

// tabCounters counts blocked requests per tab since the last reset.
type tabCounters struct {
	mu     sync.Mutex
	counts map[int]uint64
}

func newTabCounters() *tabCounters {
	return &tabCounters{counts: make(map[int]uint64)}
}

func (c *tabCounters) add(tabID int) {
	c.mu.Lock()
	c.counts[tabID]++
	c.mu.Unlock()
}

func (c *tabCounters) get(tabID int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[tabID]
}

func (c *tabCounters) reset() {
	c.mu.Lock()
	clear(c.counts)
	c.mu.Unlock()
}
