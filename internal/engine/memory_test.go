package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/pubsub"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Name
}

func (p *recordingPublisher) Publish(_ context.Context, msg pubsub.Message) error {
	ev, err := pubsub.Decode(pubsub.EngineEvents, msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev.Name)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) names() []events.Name {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Name(nil), p.events...)
}

func newTestEngine(t *testing.T) (*Memory, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	m := NewMemory(pub, nil)
	t.Cleanup(m.Wait)
	return m, pub
}

func TestSetUserRulesAnnouncesRebuild(t *testing.T) {
	m, pub := newTestEngine(t)

	require.NoError(t, m.SetUserRules(context.Background(), []string{"||ads.example^"}))
	m.Wait()

	assert.Equal(t, []events.Name{events.UserFilterUpdated, events.RequestFilterUpdated}, pub.names())
}

func TestAnnounceSurvivesCanceledContext(t *testing.T) {
	m, pub := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, m.SetAllowlist(ctx, []string{"example.org"}))
	m.Wait()

	assert.Equal(t, []events.Name{events.UpdateAllowlistFilterRules, events.RequestFilterUpdated}, pub.names())
}

func TestEnableAndDisableFilters(t *testing.T) {
	m, pub := newTestEngine(t)
	ctx := context.Background()

	enabled, err := m.EnableFilters(ctx, []int{14}, false)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.True(t, enabled[0].Installed)
	assert.True(t, enabled[0].Enabled)

	require.NoError(t, m.DisableFilters(ctx, []int{14}, true))
	m.Wait()

	filters, err := m.Filters(ctx)
	require.NoError(t, err)
	for _, f := range filters {
		if f.ID == 14 {
			assert.False(t, f.Enabled)
			assert.False(t, f.Installed)
		}
	}
	assert.Contains(t, pub.names(), events.FilterAddRemove)
	assert.Contains(t, pub.names(), events.FilterEnableDisable)

	_, err = m.EnableFilters(ctx, []int{999}, false)
	assert.ErrorIs(t, err, ErrNoSuchFilter)
}

func TestCustomFilterLifecycle(t *testing.T) {
	m, _ := newTestEngine(t)
	ctx := context.Background()
	const url = "https://lists.example/custom.txt"

	_, err := m.LoadCustomFilterInfo(ctx, url, "")
	require.ErrorIs(t, err, ErrDownload)

	m.AddSource(url, "! Title: My list\n! Version: 1.0\n||tracker.example^\nexample.org##.banner\n")

	info, err := m.LoadCustomFilterInfo(ctx, url, "")
	require.NoError(t, err)
	assert.Equal(t, "My list", info.Name)
	assert.Equal(t, 2, info.RulesCount)

	f, err := m.LoadCustomFilter(ctx, url, "Renamed", true)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", f.Name)
	assert.GreaterOrEqual(t, f.ID, firstCustomFilterID)

	again, err := m.LoadCustomFilter(ctx, url, "", false)
	require.NoError(t, err)
	assert.Equal(t, f.ID, again.ID, "subscribing twice returns the existing filter")

	_, err = m.EnableFilters(ctx, []int{f.ID}, false)
	require.NoError(t, err)
	m.AddSource(url, "! Title: My list\n! Version: 1.1\n||tracker.example^\n")

	updated, err := m.CheckUpdates(ctx)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "1.1", updated[0].Version)

	require.NoError(t, m.RemoveFilter(ctx, f.ID))
	filters, _ := m.Filters(ctx)
	for _, got := range filters {
		assert.NotEqual(t, f.ID, got.ID)
	}
}

func TestContentScriptQueries(t *testing.T) {
	m, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, m.SetUserRules(ctx, []string{
		"||ads.example^",
		"example.org##.banner",
		"##.sponsored",
		"example.org#%#console.log('hi')",
		"||example.org^$cookie=_ga",
	}))

	sel, err := m.SelectorsAndScripts(ctx, "https://example.org/", "https://www.example.org/page")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".banner", ".sponsored"}, sel.Selectors)
	assert.Equal(t, "console.log('hi')", sel.Scripts)

	res, err := m.ShouldCollapse(ctx, "https://example.org/", "", CollapseRequest{ElementURL: "https://cdn.ads.example/x.png", RequestID: 4})
	require.NoError(t, err)
	assert.Equal(t, CollapseResult{RequestID: 4, Collapse: true}, res)

	cookies, err := m.CookieRules(ctx, "https://example.org/", "https://example.org/")
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "_ga", cookies[0].Match)
	assert.False(t, cookies[0].IsThirdParty)

	require.NoError(t, m.SetAllowlist(ctx, []string{"example.org"}))
	res, err = m.ShouldCollapse(ctx, "https://example.org/", "", CollapseRequest{ElementURL: "https://cdn.ads.example/x.png"})
	require.NoError(t, err)
	assert.False(t, res.Collapse, "allowlisted pages are not filtered")

	require.NoError(t, m.SetAllowlist(ctx, nil))
	require.NoError(t, m.SetFilteringDisabled(ctx, true))
	blocked, err := m.CheckPageScriptWrapper(ctx, "https://example.org/", "https://ads.example/a.js", "", "script")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestConvertRules(t *testing.T) {
	m, _ := newTestEngine(t)

	got, err := m.ConvertRules(context.Background(), "example.org##+js(set-constant, ads, false)\n\n||ads.example^\n")
	require.NoError(t, err)
	assert.Equal(t, "example.org#%#//scriptlet('ubo-set-constant', 'ads', 'false')\n||ads.example^", got)
}

func TestRequestFilterInfoCountsEnabled(t *testing.T) {
	m, _ := newTestEngine(t)
	before := m.RequestFilterInfo().RulesCount

	require.NoError(t, m.SetUserRules(context.Background(), []string{"a", "b"}))

	assert.Equal(t, before+2, m.RequestFilterInfo().RulesCount)
	assert.True(t, m.Ready())
}
