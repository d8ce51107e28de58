package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/filterbridge/internal/browser"
	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/engine"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/pubsub"
	"github.com/nfrund/filterbridge/internal/router"
	"github.com/nfrund/filterbridge/internal/storage"
)

type delivery struct {
	tabID int
	n     message.Notification
}

type fixture struct {
	ctx      context.Context
	bus      *events.Bus
	engine   *engine.Memory
	tabs     *browser.Memory
	store    *storage.Store
	backups  afero.Fs
	conns    *connection.Manager
	demux    *router.Demux
	services *Set

	mu        sync.Mutex
	delivered []delivery
}

// newFixture boots every service against in-process collaborators. Engine
// completions travel through the watermill bridge and the relay, as they do
// in the running service.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{ctx: ctx, bus: events.NewBus(), backups: afero.NewMemMapFs()}

	bridge := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bridge.Close() })
	require.NoError(t, pubsub.NewRelay(bridge, f.bus, nil, nil).Start(ctx))

	f.engine = engine.NewMemory(bridge, nil)
	t.Cleanup(f.engine.Wait)

	f.tabs = browser.NewMemory(func(tabID int, n message.Notification) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.delivered = append(f.delivered, delivery{tabID: tabID, n: n})
		return nil
	})

	store, err := storage.Open(filepath.Join(t.TempDir(), "filterbridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	f.store = store

	deps := Deps{
		Bus:      f.bus,
		Engine:   f.engine,
		Tabs:     f.tabs,
		Store:    store,
		Backups:  storage.NewAferoBackups(f.backups, "backups"),
		Version:  "4.1.0",
		PagesURL: "chrome-extension://id/pages/",
	}
	f.services = New(deps)

	routers := module.Routers{
		Legacy: router.NewLegacy(),
		App:    router.NewRegistry(router.WithName("app")),
		Engine: router.NewRegistry(router.WithName("engine")),
	}
	f.demux = router.NewDemux(routers.Legacy, routers.App, routers.Engine)
	f.conns = connection.NewManager(f.bus)

	for _, m := range f.services.Modules() {
		require.NoError(t, m.Register(routers), m.Name())
	}
	for _, m := range f.services.Modules() {
		require.NoError(t, m.Boot(ctx, f.conns), m.Name())
	}
	t.Cleanup(func() {
		for _, m := range f.services.Modules() {
			_ = m.Shutdown(context.Background())
		}
	})
	return f
}

func (f *fixture) dispatch(t *testing.T, marker string, typ message.Type, data any, sender message.Sender) (any, error) {
	t.Helper()
	raw, err := jsoncodec.Raw(data)
	require.NoError(t, err)
	return f.demux.Dispatch(f.ctx, message.Message{HandlerName: marker, Type: typ, Data: raw}, sender)
}

// send dispatches a legacy message from an extension page.
func (f *fixture) send(t *testing.T, typ message.Type, data any) any {
	t.Helper()
	result, err := f.dispatch(t, message.HandlerLegacy, typ, data, message.Sender{})
	require.NoError(t, err, typ)
	return result
}

func (f *fixture) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.delivered...)
}

// roundTrip returns v as a page would read it.
func roundTrip(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := jsoncodec.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, jsoncodec.Unmarshal(b, &out))
	return out
}

func TestEveryServiceRegisters(t *testing.T) {
	f := newFixture(t)
	assert.Len(t, f.services.Modules(), 10)

	names := make(map[string]bool)
	for _, m := range f.services.Modules() {
		assert.False(t, names[m.Name()], "duplicate module %s", m.Name())
		names[m.Name()] = true
	}
}

func TestSaveUserRulesWaitsForRebuild(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	updated := false
	f.bus.Subscribe(events.UserFilterUpdated, func(events.Name, ...any) {
		mu.Lock()
		updated = true
		mu.Unlock()
	})

	result := f.send(t, message.SaveUserRules, map[string]any{"value": "||ads.example^\r\n\r\n  example.org##.banner  \n"})
	assert.Nil(t, result)

	mu.Lock()
	assert.True(t, updated, "reply came before the rebuild was announced")
	mu.Unlock()

	rules, err := f.store.UserRules()
	require.NoError(t, err)
	assert.Equal(t, []string{"||ads.example^", "example.org##.banner"}, rules)

	content := roundTrip(t, f.send(t, message.GetUserRules, nil))
	assert.Equal(t, "||ads.example^\nexample.org##.banner", content["content"])
	assert.Equal(t, "4.1.0", content["appVersion"])
}

func TestSaveUserRulesHonoursCallerDeadline(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	raw, err := jsoncodec.Raw(map[string]any{"value": "||ads.example^"})
	require.NoError(t, err)
	_, err = f.demux.Dispatch(ctx, message.Message{Type: message.SaveUserRules, Data: raw}, message.Sender{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResetCustomRulesForPageReloadsTab(t *testing.T) {
	f := newFixture(t)
	tab, err := f.tabs.Create(f.ctx, "https://example.org/page", browser.CreateOptions{})
	require.NoError(t, err)

	f.send(t, message.SaveUserRules, map[string]any{"value": "example.org##.ad\n||tracker.net^\n||example.org^"})
	f.send(t, message.ResetCustomRulesForPage, map[string]any{"url": tab.URL, "tabId": tab.ID})

	rules, err := f.store.UserRules()
	require.NoError(t, err)
	assert.Equal(t, []string{"||tracker.net^"}, rules)
	assert.Equal(t, []int{tab.ID}, f.tabs.Reloads())
}

func TestAddAndRemoveUserRule(t *testing.T) {
	f := newFixture(t)

	f.send(t, message.AddUserRule, map[string]any{"ruleText": "||a.example^"})
	f.send(t, message.AddUserRule, map[string]any{"ruleText": "||a.example^"})
	f.send(t, message.AddUserRule, map[string]any{"ruleText": "||b.example^"})
	rules, err := f.store.UserRules()
	require.NoError(t, err)
	assert.Equal(t, []string{"||a.example^", "||b.example^"}, rules)

	f.send(t, message.RemoveUserRule, map[string]any{"ruleText": "||a.example^"})
	rules, err = f.store.UserRules()
	require.NoError(t, err)
	assert.Equal(t, []string{"||b.example^"}, rules)

	_, err = f.dispatch(t, "", message.AddUserRule, map[string]any{}, message.Sender{})
	assert.ErrorIs(t, err, router.ErrInvalidPayload)
}

func TestConvertRulesText(t *testing.T) {
	f := newFixture(t)
	out := f.send(t, message.ConvertRulesText, map[string]any{"content": "example.org##+js(set-constant, a, 1)\n\n||x^"})
	assert.Equal(t, "example.org#%#//scriptlet('ubo-set-constant', 'a', '1')\n||x^", out)
}

func TestAllowlistDomains(t *testing.T) {
	f := newFixture(t)

	f.send(t, message.SaveAllowlistDomains, map[string]any{"value": "example.org\r\n\n  news.example  \r\n"})
	reply := roundTrip(t, f.send(t, message.GetAllowlistDomains, nil))
	assert.Equal(t, "example.org\r\nnews.example", reply["content"])

	tab, err := f.tabs.Create(f.ctx, "https://www.shop.example/cart", browser.CreateOptions{})
	require.NoError(t, err)
	f.send(t, message.AddAllowlistDomainPopup, map[string]any{"tabId": tab.ID})
	f.send(t, message.AddAllowlistDomainPopup, map[string]any{"tabId": tab.ID})

	domains, err := f.store.Allowlist()
	require.NoError(t, err)
	assert.Equal(t, []string{"example.org", "news.example", "shop.example"}, domains)

	// The active tab is used when no id is given.
	f.send(t, message.RemoveAllowlistDomain, nil)
	domains, err = f.store.Allowlist()
	require.NoError(t, err)
	assert.Equal(t, []string{"example.org", "news.example"}, domains)
}

func TestChangeUserSettingPublishes(t *testing.T) {
	f := newFixture(t)

	var got []any
	f.bus.Subscribe(events.SettingUpdated, func(_ events.Name, args ...any) { got = args })

	f.send(t, message.ChangeUserSetting, map[string]any{"key": SettingDisableShowPageStats, "value": true})
	assert.Equal(t, []any{SettingDisableShowPageStats, true}, got)

	on, err := f.services.Settings.Bool(SettingDisableShowPageStats)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestChangeUserSettingLegacyShape(t *testing.T) {
	f := newFixture(t)

	var msg message.Message
	require.NoError(t, jsoncodec.Unmarshal([]byte(`{"type":"changeUserSetting","key":"hits-count-disabled","value":true}`), &msg))
	_, err := f.demux.Dispatch(f.ctx, msg, message.Sender{})
	require.NoError(t, err)

	on, err := f.services.Settings.Bool(SettingDisableCollectHits)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestResetSettings(t *testing.T) {
	f := newFixture(t)
	f.send(t, message.ChangeUserSetting, map[string]any{"key": SettingDisableFiltering, "value": true})

	fired := false
	f.bus.Subscribe(events.SettingsUpdated, func(events.Name, ...any) { fired = true })

	assert.Equal(t, true, f.send(t, message.ResetSettings, nil))
	assert.True(t, fired)
	disabled, err := f.services.Settings.Bool(SettingDisableFiltering)
	require.NoError(t, err)
	assert.False(t, disabled)
}

func TestSettingsBackupRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.send(t, message.SaveUserRules, map[string]any{"value": "||ads.example^"})
	f.send(t, message.SaveAllowlistDomains, map[string]any{"value": "example.org"})

	exported := roundTrip(t, f.send(t, message.LoadSettingsJSON, nil))
	content, ok := exported["content"].(string)
	require.True(t, ok)
	assert.Contains(t, content, `"protocol-version"`)

	names, err := storage.NewAferoBackups(f.backups, "backups").List(f.ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)

	// Wipe and restore.
	f.send(t, message.SaveUserRules, map[string]any{"value": ""})
	f.send(t, message.SaveAllowlistDomains, map[string]any{"value": ""})
	assert.Equal(t, true, f.send(t, message.ApplySettingsJSON, map[string]any{"json": content}))

	rules, err := f.store.UserRules()
	require.NoError(t, err)
	assert.Equal(t, []string{"||ads.example^"}, rules)
	domains, err := f.store.Allowlist()
	require.NoError(t, err)
	assert.Equal(t, []string{"example.org"}, domains)

	latest, err := f.services.Settings.LatestBackup(f.ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, latest)
}

func TestApplySettingsRejectsBadBackup(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, false, f.send(t, message.ApplySettingsJSON, map[string]any{"json": "{not json"}))
	assert.Equal(t, false, f.send(t, message.ApplySettingsJSON, map[string]any{"json": `{"protocol-version":"0.1"}`}))
}

func TestOptionsDataOnBothRouters(t *testing.T) {
	f := newFixture(t)

	legacy := roundTrip(t, f.send(t, message.GetOptionsData, nil))
	typed, err := f.dispatch(t, message.HandlerApp, message.GetOptionsData, nil, message.Sender{})
	require.NoError(t, err)

	assert.Equal(t, legacy, roundTrip(t, typed))
	assert.Equal(t, "4.1.0", legacy["appVersion"])
	assert.Equal(t, false, legacy["fullscreenUserRulesEditorIsOpen"])
}

func TestTypedRegistryIgnoresUnregisteredTypes(t *testing.T) {
	f := newFixture(t)

	result, err := f.dispatch(t, message.HandlerApp, message.GetUserRules, nil, message.Sender{})
	require.NoError(t, err)
	assert.Nil(t, result)

	_, err = f.dispatch(t, message.HandlerLegacy, message.NotifyListeners, nil, message.Sender{})
	assert.ErrorIs(t, err, router.ErrUnknownType)
}

func TestFilters(t *testing.T) {
	f := newFixture(t)

	enabled, ok := f.send(t, message.AddAndEnableFilter, map[string]any{"filterId": SocialFilterID}).([]engine.Filter)
	require.True(t, ok)
	require.Len(t, enabled, 1)
	assert.True(t, enabled[0].Enabled)

	f.send(t, message.DisableAntiBannerFilter, map[string]any{"filterId": SocialFilterID})
	filters, err := f.engine.Filters(f.ctx)
	require.NoError(t, err)
	for _, fl := range filters {
		if fl.ID == SocialFilterID {
			assert.False(t, fl.Enabled)
			assert.True(t, fl.Installed)
		}
	}

	assert.Equal(t, map[string]bool{"ready": true}, f.send(t, message.CheckRequestFilterReady, nil))
	assert.NotNil(t, f.send(t, message.CheckAntiBannerFiltersUpdate, nil))
}

func TestCustomFilterFailures(t *testing.T) {
	f := newFixture(t)

	info := f.send(t, message.LoadCustomFilterInfo, map[string]any{"url": "https://lists.example/missing.txt"})
	assert.Equal(t, map[string]any{}, info)

	sub := f.send(t, message.SubscribeToCustomFilter, map[string]any{"filter": map[string]any{"customUrl": "https://lists.example/missing.txt"}})
	assert.Nil(t, sub)
}

func TestSubscribeToCustomFilter(t *testing.T) {
	f := newFixture(t)
	f.engine.AddSource("https://lists.example/list.txt", "! Title: Example list\n||ads.example^\n")

	info := roundTrip(t, f.send(t, message.LoadCustomFilterInfo, map[string]any{"url": "https://lists.example/list.txt"}))
	filter, ok := info["filter"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Example list", filter["name"])

	sub, ok := f.send(t, message.SubscribeToCustomFilter, map[string]any{
		"filter": map[string]any{"customUrl": "https://lists.example/list.txt", "name": "Mine"},
	}).(engine.Filter)
	require.True(t, ok)
	assert.True(t, sub.Enabled)
	assert.True(t, sub.Custom)
}

func TestSafebrowsingTrusted(t *testing.T) {
	f := newFixture(t)
	tab, err := f.tabs.Create(f.ctx, "https://warning.page/", browser.CreateOptions{})
	require.NoError(t, err)

	f.send(t, message.OpenSafebrowsingTrusted, map[string]any{"url": "https://www.risky.example/x"})
	assert.True(t, f.services.Filters.Trusted("https://risky.example/"))
	assert.Equal(t, []int{tab.ID}, f.tabs.Reloads())

	active, ok, err := f.tabs.Active(f.ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://www.risky.example/x", active.URL)
}

func TestOpenSettingsTabFocusesExisting(t *testing.T) {
	f := newFixture(t)

	f.send(t, message.OpenSettingsTab, nil)
	_, err := f.tabs.Create(f.ctx, "https://other.example/", browser.CreateOptions{})
	require.NoError(t, err)
	_, err = f.dispatch(t, message.HandlerApp, message.OpenSettingsTab, nil, message.Sender{})
	require.NoError(t, err)

	tabs, err := f.tabs.List(f.ctx)
	require.NoError(t, err)
	require.Len(t, tabs, 2)
	active, _, err := f.tabs.Active(f.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "chrome-extension://id/pages/options.html", active.URL)
}

func TestSiteReportURLPunycode(t *testing.T) {
	target, ok, err := SiteReportURL("https://www.пример.рф/path")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, target, "domain=xn--e1afmkfd.xn--p1ai")

	_, ok, err = SiteReportURL("about:blank")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenAssistantNotifiesActiveTab(t *testing.T) {
	f := newFixture(t)
	tab, err := f.tabs.Create(f.ctx, "https://example.org/", browser.CreateOptions{})
	require.NoError(t, err)

	f.send(t, message.OpenAssistant, nil)

	got := f.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, tab.ID, got[0].tabID)
	assert.Equal(t, message.OpenAssistant, got[0].n.Type)
}

func TestPopupCountsBlockedRequests(t *testing.T) {
	f := newFixture(t)
	tab, err := f.tabs.Create(f.ctx, "https://news.example/", browser.CreateOptions{})
	require.NoError(t, err)

	f.send(t, message.SaveUserRules, map[string]any{"value": "||ads.example^"})
	sender := message.Sender{TabID: tab.ID, URL: tab.URL}
	res, err := f.dispatch(t, message.HandlerEngine, message.ProcessShouldCollapse, map[string]any{
		"elementUrl":  "https://ads.example/banner.png",
		"documentUrl": tab.URL,
		"requestId":   7,
	}, sender)
	require.NoError(t, err)
	assert.Equal(t, engine.CollapseResult{RequestID: 7, Collapse: true}, res)

	info := roundTrip(t, f.send(t, message.GetTabInfoForPopup, map[string]any{"tabId": tab.ID}))
	frame, ok := info["frameInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), frame["totalBlocked"])
	assert.Equal(t, float64(1), frame["totalBlockedTab"])
	assert.Equal(t, "news.example", frame["domainName"])

	f.send(t, message.ResetBlockedAdsCount, nil)
	stats := roundTrip(t, f.send(t, message.GetStatisticsData, nil))
	assert.Equal(t, map[string]any{"totalBlocked": float64(0), "cosmeticHits": float64(0)}, stats["stats"])
}

func TestPopupUnknownTabHasNoReply(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, f.send(t, message.GetTabInfoForPopup, map[string]any{"tabId": 42}))
}

func TestChangeApplicationFilteringDisabled(t *testing.T) {
	f := newFixture(t)
	f.send(t, message.SaveUserRules, map[string]any{"value": "||ads.example^"})

	_, err := f.dispatch(t, message.HandlerApp, message.ChangeApplicationFilteringDisabled, map[string]any{"state": true}, message.Sender{})
	require.NoError(t, err)

	res, err := f.engine.ShouldCollapse(f.ctx, "https://news.example/", "", engine.CollapseRequest{ElementURL: "https://ads.example/x"})
	require.NoError(t, err)
	assert.False(t, res.Collapse)
}

func TestContentScriptQueries(t *testing.T) {
	f := newFixture(t)
	f.send(t, message.SaveUserRules, map[string]any{"value": "example.org##.ad\n||cdn.example^$cookie=tracker"})
	sender := message.Sender{TabID: 3, FrameID: 0, URL: "https://example.org/"}

	res, err := f.dispatch(t, "", message.GetSelectorsAndScripts, map[string]any{"documentUrl": "https://example.org/"}, sender)
	require.NoError(t, err)
	assert.Equal(t, []string{".ad"}, res.(engine.SelectorsAndScripts).Selectors)

	// A subframe without its own address falls back to the tab.
	res, err = f.dispatch(t, "", message.GetSelectorsAndScripts, map[string]any{"documentUrl": "about:blank"},
		message.Sender{TabID: 3, FrameID: 2, URL: "https://example.org/"})
	require.NoError(t, err)
	assert.Equal(t, []string{".ad"}, res.(engine.SelectorsAndScripts).Selectors)

	res, err = f.dispatch(t, "", message.GetSelectorsAndScripts, map[string]any{"documentUrl": "https://plain.example/"},
		message.Sender{TabID: 3, URL: "https://plain.example/"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, res)

	cookies := roundTrip(t, mustDispatch(t, f, message.HandlerEngine, message.GetCookieRules,
		map[string]any{"documentUrl": "https://cdn.example/frame"}, sender))
	rules, ok := cookies["rulesData"].([]any)
	require.True(t, ok)
	assert.Len(t, rules, 1)

	res, err = f.dispatch(t, "", message.GetCookieRules, map[string]any{"documentUrl": "about:blank"},
		message.Sender{TabID: 3, FrameID: 1, URL: "https://example.org/"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, res)
}

func mustDispatch(t *testing.T, f *fixture, marker string, typ message.Type, data any, sender message.Sender) any {
	t.Helper()
	res, err := f.dispatch(t, marker, typ, data, sender)
	require.NoError(t, err)
	return res
}

func TestCollapseManyAndPageScriptWrapper(t *testing.T) {
	f := newFixture(t)
	f.send(t, message.SaveUserRules, map[string]any{"value": "||ads.example^"})
	sender := message.Sender{TabID: 5, URL: "https://news.example/"}

	blocked := 0
	f.bus.Subscribe(events.AdsBlocked, func(events.Name, ...any) { blocked++ })

	many := roundTrip(t, mustDispatch(t, f, "", message.ProcessShouldCollapseMany, map[string]any{
		"documentUrl": "https://news.example/",
		"requests": []map[string]any{
			{"elementUrl": "https://ads.example/1.js", "requestId": 1},
			{"elementUrl": "https://cdn.example/2.js", "requestId": 2},
		},
	}, sender))
	assert.Equal(t, []any{
		map[string]any{"requestId": float64(1), "collapse": true},
		map[string]any{"requestId": float64(2), "collapse": false},
	}, many["requests"])

	wrapper := mustDispatch(t, f, "", message.CheckPageScriptWrapperRequest, map[string]any{
		"elementUrl": "https://ads.example/ws",
		"requestId":  9,
	}, sender)
	assert.Equal(t, map[string]any{"block": true, "requestId": 9}, wrapper)
	assert.Equal(t, 2, blocked)
}

func TestFilteringLogCapturesWhileOpen(t *testing.T) {
	f := newFixture(t)
	sender := message.Sender{TabID: 4, URL: "https://example.org/"}
	hit := map[string]any{"stats": []map[string]any{{"filterId": 2, "ruleText": "##.ad", "element": "<div>"}}}

	var added int
	f.bus.Subscribe(events.LogEventAdded, func(events.Name, ...any) { added++ })

	// Hit collection is off by default, so nothing is kept while closed.
	mustDispatch(t, f, "", message.SaveCSSHitsStats, hit, sender)
	assert.Zero(t, added)

	port := &fakePort{name: connection.PageFilteringLog + "_1"}
	session, err := f.conns.Open(port)
	require.NoError(t, err)
	assert.True(t, f.services.FilteringLog.IsOpen())

	mustDispatch(t, f, "", message.SaveCSSHitsStats, hit, sender)
	mustDispatch(t, f, "", message.SaveCookieLogEvent, map[string]any{"cookieName": "_ga", "cookieDomain": "example.org"}, sender)
	assert.Equal(t, 2, added)

	info, ok := f.send(t, message.GetFilteringInfoByTabID, map[string]any{"tabId": 4}).(TabLog)
	require.True(t, ok)
	assert.Len(t, info.Events, 2)

	hits, err := f.store.Counter(CounterCSSHits)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), hits)

	f.send(t, message.ClearEventsByTabID, map[string]any{"tabId": 4})
	info, _ = f.send(t, message.GetFilteringInfoByTabID, map[string]any{"tabId": 4}).(TabLog)
	assert.Empty(t, info.Events)

	session.Close()
	assert.False(t, f.services.FilteringLog.IsOpen())
}

func TestFilteringLogPreserve(t *testing.T) {
	f := newFixture(t)
	sender := message.Sender{TabID: 4, URL: "https://example.org/"}

	f.send(t, message.OnOpenFilteringLogPage, nil)
	f.send(t, message.SetPreserveLogState, map[string]any{"state": true})
	mustDispatch(t, f, "", message.SaveCookieLogEvent, map[string]any{"cookieName": "id"}, sender)

	f.send(t, message.ClearEventsByTabID, map[string]any{"tabId": 4})
	info, _ := f.send(t, message.GetFilteringInfoByTabID, map[string]any{"tabId": 4}).(TabLog)
	assert.Len(t, info.Events, 1)

	f.send(t, message.ClearEventsByTabID, map[string]any{"tabId": 4, "ignorePreserveLog": true})
	info, _ = f.send(t, message.GetFilteringInfoByTabID, map[string]any{"tabId": 4}).(TabLog)
	assert.Empty(t, info.Events)

	data := roundTrip(t, f.send(t, message.GetFilteringLogData, nil))
	assert.Equal(t, true, data["preserveLogEnabled"])
}

func TestSynchronizeOpenTabs(t *testing.T) {
	f := newFixture(t)
	a, err := f.tabs.Create(f.ctx, "https://a.example/", browser.CreateOptions{})
	require.NoError(t, err)
	b, err := f.tabs.Create(f.ctx, "https://b.example/", browser.CreateOptions{})
	require.NoError(t, err)

	var closed []events.Name
	f.bus.SubscribeSet([]events.Name{events.TabClose}, func(n events.Name, _ ...any) { closed = append(closed, n) })

	reply := roundTrip(t, f.send(t, message.SynchronizeOpenTabs, nil))
	assert.Len(t, reply["tabs"], 2)

	f.tabs.Close(b.ID)
	reply = roundTrip(t, f.send(t, message.SynchronizeOpenTabs, nil))
	tabs, _ := reply["tabs"].([]any)
	require.Len(t, tabs, 1)
	assert.Equal(t, float64(a.ID), tabs[0].(map[string]any)["tabId"])
	assert.Len(t, closed, 1)

	f.send(t, message.RefreshPage, map[string]any{"tabId": a.ID})
	assert.Equal(t, []int{a.ID}, f.tabs.Reloads())
}

func TestEditorHooksAndContent(t *testing.T) {
	f := newFixture(t)

	var states []any
	f.bus.Subscribe(events.FullscreenUserRulesEditorUpdated, func(_ events.Name, args ...any) {
		states = append(states, args[0])
	})

	session, err := f.conns.Open(&fakePort{name: connection.PageFullscreenUserRulesEditor + "_x"})
	require.NoError(t, err)
	opts := roundTrip(t, f.send(t, message.GetOptionsData, nil))
	assert.Equal(t, true, opts["fullscreenUserRulesEditorIsOpen"])
	session.Close()
	session.Close()

	assert.Equal(t, []any{true, false}, states)

	f.send(t, message.SetEditorStorageContent, map[string]any{"content": "draft"})
	assert.Equal(t, "draft", f.send(t, message.GetEditorStorageContent, nil))
}

func TestEventListenerForwardsToTab(t *testing.T) {
	f := newFixture(t)
	tab, err := f.tabs.Create(f.ctx, "https://example.org/", browser.CreateOptions{})
	require.NoError(t, err)
	sender := message.Sender{TabID: tab.ID, URL: tab.URL}

	reply := roundTrip(t, mustDispatch(t, f, "", message.CreateEventListener,
		map[string]any{"events": []string{string(events.SettingUpdated)}}, sender))
	id, ok := reply["listenerId"].(float64)
	require.True(t, ok)
	assert.Equal(t, 1, f.services.Listeners.Len())

	f.bus.Publish(events.SettingUpdated, "key", true)
	f.bus.Publish(events.AdsBlocked, tab.ID)

	got := f.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, tab.ID, got[0].tabID)
	assert.Equal(t, message.Notify(events.SettingUpdated, "key", true), got[0].n)

	f.send(t, message.RemoveListener, map[string]any{"listenerId": id})
	assert.Zero(t, f.services.Listeners.Len())
	f.bus.Publish(events.SettingUpdated, "key", false)
	assert.Len(t, f.deliveries(), 1)
}

func TestEventListenerDroppedWhenTabCloses(t *testing.T) {
	f := newFixture(t)
	tab, err := f.tabs.Create(f.ctx, "https://example.org/", browser.CreateOptions{})
	require.NoError(t, err)

	mustDispatch(t, f, "", message.CreateEventListener,
		map[string]any{"events": []string{string(events.SettingUpdated)}}, message.Sender{TabID: tab.ID})
	f.tabs.Close(tab.ID)

	before := f.bus.Len()
	f.bus.Publish(events.SettingUpdated, "key", true)
	assert.Zero(t, f.services.Listeners.Len())
	assert.Equal(t, before-1, f.bus.Len())
}

func TestEventListenerForClosedTabDroppedUnderConcurrentPublish(t *testing.T) {
	f := newFixture(t)
	tab, err := f.tabs.Create(f.ctx, "https://example.org/", browser.CreateOptions{})
	require.NoError(t, err)
	f.tabs.Close(tab.ID)
	before := f.bus.Len()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				f.bus.Publish(events.SettingUpdated, "key", true)
			}
		}
	}()

	mustDispatch(t, f, "", message.CreateEventListener,
		map[string]any{"events": []string{string(events.SettingUpdated)}}, message.Sender{TabID: tab.ID})

	assert.Eventually(t, func() bool {
		return f.services.Listeners.Len() == 0 && f.bus.Len() == before
	}, time.Second, 5*time.Millisecond)
	close(stop)
	wg.Wait()

	f.bus.Publish(events.SettingUpdated, "key", false)
	assert.Zero(t, f.services.Listeners.Len())
	assert.Equal(t, before, f.bus.Len())
}

func TestCallerGivesUpBeforeRebuild(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(f.ctx, time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	before := f.bus.Len()
	raw, err := jsoncodec.Raw(map[string]any{"value": "||x^"})
	require.NoError(t, err)
	_, err = f.demux.Dispatch(ctx, message.Message{Type: message.SaveUserRules, Data: raw}, message.Sender{})
	require.Error(t, err)
	assert.Equal(t, before, f.bus.Len(), "gate listener leaked")
}

type fakePort struct {
	name string
	mu   sync.Mutex
	sent []message.Notification
}

func (p *fakePort) Name() string { return p.name }

func (p *fakePort) Post(n message.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}
