package services

import (
	"context"
	"sync"

	"github.com/nfrund/filterbridge/internal/engine"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/router"
)

// Filters manages filter lists, groups and trusted sites.
type Filters struct {
	module.BaseModule
	deps Deps

	mu      sync.Mutex
	trusted map[string]struct{}
}

func NewFilters(deps Deps) *Filters {
	return &Filters{deps: deps, trusted: make(map[string]struct{})}
}

func (f *Filters) Name() string { return "filters" }

func (f *Filters) Register(r module.Routers) error {
	handlers := map[message.Type]router.HandlerFunc{
		message.AddAndEnableFilter:           router.Handle(f.addAndEnable),
		message.DisableAntiBannerFilter:      router.Handle(f.disable),
		message.RemoveAntiBannerFilter:       router.Handle(f.remove),
		message.EnableFiltersGroup:           router.Handle(f.enableGroup),
		message.DisableFiltersGroup:          router.Handle(f.disableGroup),
		message.CheckAntiBannerFiltersUpdate: router.Func(f.checkUpdates),
		message.LoadCustomFilterInfo:         router.OrDefault(router.Handle(f.customFilterInfo), map[string]any{}),
		message.SubscribeToCustomFilter:      router.OrDefault(router.Handle(f.subscribeCustom), nil),
		message.CheckRequestFilterReady:      router.Func(f.requestFilterReady),
		message.OpenSafebrowsingTrusted:      router.Handle(f.openSafebrowsingTrusted),
		message.AddURLToTrusted:              router.Handle(f.addURLToTrusted),
	}
	for t, h := range handlers {
		if err := r.Legacy.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}

// Trusted reports whether the domain of pageURL was marked trusted.
func (f *Filters) Trusted(pageURL string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.trusted[domainOf(pageURL)]
	return ok
}

func (f *Filters) trust(pageURL string) {
	if d := domainOf(pageURL); d != "" {
		f.mu.Lock()
		f.trusted[d] = struct{}{}
		f.mu.Unlock()
	}
}

type filterRef struct {
	FilterID int  `json:"filterId"`
	Remove   bool `json:"remove"`
}

func (f *Filters) addAndEnable(ctx context.Context, p filterRef, _ message.Sender) (any, error) {
	return f.deps.Engine.EnableFilters(ctx, []int{p.FilterID}, true)
}

func (f *Filters) disable(ctx context.Context, p filterRef, _ message.Sender) (any, error) {
	return nil, f.deps.Engine.DisableFilters(ctx, []int{p.FilterID}, p.Remove)
}

func (f *Filters) remove(ctx context.Context, p filterRef, _ message.Sender) (any, error) {
	return nil, f.deps.Engine.RemoveFilter(ctx, p.FilterID)
}

type groupRef struct {
	GroupID int `json:"groupId"`
}

func (f *Filters) enableGroup(ctx context.Context, p groupRef, _ message.Sender) (any, error) {
	return nil, f.deps.Engine.SetGroupEnabled(ctx, p.GroupID, true)
}

func (f *Filters) disableGroup(ctx context.Context, p groupRef, _ message.Sender) (any, error) {
	return nil, f.deps.Engine.SetGroupEnabled(ctx, p.GroupID, false)
}

func (f *Filters) checkUpdates(ctx context.Context, _ message.Sender) (any, error) {
	updated, err := f.deps.Engine.CheckUpdates(ctx)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		updated = []engine.Filter{}
	}
	return updated, nil
}

type customFilterRef struct {
	URL   string `json:"url" validate:"required"`
	Title string `json:"title"`
}

func (f *Filters) customFilterInfo(ctx context.Context, p customFilterRef, _ message.Sender) (any, error) {
	info, err := f.deps.Engine.LoadCustomFilterInfo(ctx, p.URL, p.Title)
	if err != nil {
		f.deps.logger().Warn("custom filter info failed", "url", p.URL, "error", err)
		return nil, err
	}
	return map[string]any{"filter": info}, nil
}

type subscribeCustom struct {
	Filter struct {
		CustomURL string `json:"customUrl" validate:"required"`
		Name      string `json:"name"`
		Trusted   bool   `json:"trusted"`
	} `json:"filter"`
}

func (f *Filters) subscribeCustom(ctx context.Context, p subscribeCustom, _ message.Sender) (any, error) {
	filter, err := f.deps.Engine.LoadCustomFilter(ctx, p.Filter.CustomURL, p.Filter.Name, p.Filter.Trusted)
	if err != nil {
		f.deps.logger().Warn("custom filter subscription failed", "url", p.Filter.CustomURL, "error", err)
		return nil, err
	}
	enabled, err := f.deps.Engine.EnableFilters(ctx, []int{filter.ID}, false)
	if err != nil {
		return nil, err
	}
	if len(enabled) == 1 {
		filter = enabled[0]
	}
	return filter, nil
}

func (f *Filters) requestFilterReady(context.Context, message.Sender) (any, error) {
	return map[string]bool{"ready": f.deps.Engine.Ready()}, nil
}

type urlRef struct {
	URL string `json:"url" validate:"required"`
}

// openSafebrowsingTrusted trusts the site the safebrowsing warning was shown
// for and reloads the active tab onto it.
func (f *Filters) openSafebrowsingTrusted(ctx context.Context, p urlRef, _ message.Sender) (any, error) {
	f.trust(p.URL)
	tab, ok, err := f.deps.Tabs.Active(ctx, 0)
	if err != nil || !ok {
		return nil, err
	}
	return nil, f.deps.Tabs.Reload(ctx, tab.ID, p.URL)
}

func (f *Filters) addURLToTrusted(_ context.Context, p urlRef, _ message.Sender) (any, error) {
	f.trust(p.URL)
	return nil, nil
}
