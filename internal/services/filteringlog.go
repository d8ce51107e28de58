package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/nfrund/filterbridge/internal/browser"
	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/router"
)

// maxEventsPerTab bounds the log kept for one tab.
const maxEventsPerTab = 1000

// LogEvent is one filtering log entry.
type LogEvent struct {
	EventID      int    `json:"eventId"`
	Timestamp    int64  `json:"requestTime"`
	FrameURL     string `json:"frameUrl,omitempty"`
	RequestType  string `json:"requestType,omitempty"`
	Element      string `json:"element,omitempty"`
	RuleText     string `json:"ruleText,omitempty"`
	FilterID     int    `json:"filterId"`
	CookieName   string `json:"cookieName,omitempty"`
	CookieDomain string `json:"cookieDomain,omitempty"`
	ThirdParty   bool   `json:"thirdParty,omitempty"`
	Cosmetic     bool   `json:"cosmetic,omitempty"`
}

// TabLog is the filtering information of one tab.
type TabLog struct {
	TabID  int        `json:"tabId"`
	Title  string     `json:"title"`
	URL    string     `json:"url"`
	Events []LogEvent `json:"filteringEvents"`
}

// FilteringLog records cosmetic and cookie events per tab while a
// filtering log page is open.
type FilteringLog struct {
	module.BaseModule
	deps     Deps
	settings *Settings

	mu       sync.Mutex
	open     int
	preserve bool
	nextID   int
	tabs     map[int]*TabLog
}

func NewFilteringLog(deps Deps, settings *Settings) *FilteringLog {
	return &FilteringLog{deps: deps, settings: settings, tabs: make(map[int]*TabLog)}
}

func (l *FilteringLog) Name() string { return "filtering-log" }

func (l *FilteringLog) Register(r module.Routers) error {
	handlers := map[message.Type]router.HandlerFunc{
		message.OnOpenFilteringLogPage:  router.Func(l.onOpenMessage),
		message.OnCloseFilteringLogPage: router.Func(l.onCloseMessage),
		message.GetFilteringLogData:     router.Func(l.logData),
		message.GetFilteringInfoByTabID: router.Handle(l.infoByTab),
		message.SynchronizeOpenTabs:     router.Func(l.synchronizeOpenTabs),
		message.ClearEventsByTabID:      router.Handle(l.clearEvents),
		message.RefreshPage:             router.Handle(l.refreshPage),
		message.SetPreserveLogState:     router.Handle(l.setPreserveLog),
		message.SaveCookieLogEvent:      router.Handle(l.saveCookieEvent),
		message.SaveCSSHitsStats:        router.Handle(l.saveCSSHits),
	}
	for t, h := range handlers {
		if err := r.Legacy.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}

// Boot ties capture to the filtering log page connections.
func (l *FilteringLog) Boot(_ context.Context, conns *connection.Manager) error {
	return conns.SetHooks(connection.PageFilteringLog, connection.PageHooks{
		OnOpen:  l.OnOpenPage,
		OnClose: l.OnClosePage,
	})
}

// OnOpenPage turns capture on.
func (l *FilteringLog) OnOpenPage() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open++
}

// OnClosePage turns capture off once the last page is gone, dropping the
// collected events unless the log is preserved.
func (l *FilteringLog) OnClosePage() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open == 0 {
		return
	}
	l.open--
	if l.open == 0 && !l.preserve {
		clear(l.tabs)
	}
}

// IsOpen reports whether any filtering log page is open.
func (l *FilteringLog) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open > 0
}

func (l *FilteringLog) onOpenMessage(context.Context, message.Sender) (any, error) {
	l.OnOpenPage()
	return nil, nil
}

func (l *FilteringLog) onCloseMessage(context.Context, message.Sender) (any, error) {
	l.OnClosePage()
	return nil, nil
}

// record appends ev to the tab's log and announces it. Callers must not
// hold l.mu.
func (l *FilteringLog) record(sender message.Sender, ev LogEvent) {
	l.mu.Lock()
	if l.open == 0 {
		l.mu.Unlock()
		return
	}
	tab, ok := l.tabs[sender.TabID]
	if !ok {
		tab = &TabLog{TabID: sender.TabID, URL: sender.URL}
		l.tabs[sender.TabID] = tab
	}
	l.nextID++
	ev.EventID = l.nextID
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	tab.Events = append(tab.Events, ev)
	if len(tab.Events) > maxEventsPerTab {
		tab.Events = slices.Delete(tab.Events, 0, len(tab.Events)-maxEventsPerTab)
	}
	info := TabLog{TabID: tab.TabID, Title: tab.Title, URL: tab.URL}
	l.mu.Unlock()

	l.deps.Bus.Publish(events.LogEventAdded, info, ev)
}

func (l *FilteringLog) snapshot(tabID int) (TabLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tab, ok := l.tabs[tabID]
	if !ok {
		return TabLog{}, false
	}
	out := *tab
	out.Events = slices.Clone(tab.Events)
	return out, true
}

func (l *FilteringLog) logData(ctx context.Context, _ message.Sender) (any, error) {
	filters, err := l.deps.Engine.Filters(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := l.settings.All()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	preserve := l.preserve
	l.mu.Unlock()
	return map[string]any{
		"filtersMetadata":    filters,
		"settings":           settings,
		"preserveLogEnabled": preserve,
	}, nil
}

func (l *FilteringLog) infoByTab(ctx context.Context, ref tabRef, _ message.Sender) (any, error) {
	if info, ok := l.snapshot(ref.TabID); ok {
		return info, nil
	}
	tab, ok, err := l.deps.Tabs.Active(ctx, ref.TabID)
	if err != nil || !ok {
		return nil, err
	}
	return TabLog{TabID: tab.ID, Title: tab.Title, URL: tab.URL, Events: []LogEvent{}}, nil
}

// synchronizeOpenTabs aligns the log with the open tabs, announcing tabs
// that appeared and closed.
func (l *FilteringLog) synchronizeOpenTabs(ctx context.Context, _ message.Sender) (any, error) {
	tabs, err := l.deps.Tabs.List(ctx)
	if err != nil {
		return nil, err
	}

	var added, closed []TabLog
	l.mu.Lock()
	open := make(map[int]browser.Tab, len(tabs))
	for _, t := range tabs {
		open[t.ID] = t
		if existing, ok := l.tabs[t.ID]; ok {
			existing.Title, existing.URL = t.Title, t.URL
			continue
		}
		info := &TabLog{TabID: t.ID, Title: t.Title, URL: t.URL}
		l.tabs[t.ID] = info
		added = append(added, *info)
	}
	for id, info := range l.tabs {
		if _, ok := open[id]; !ok {
			closed = append(closed, TabLog{TabID: info.TabID, Title: info.Title, URL: info.URL})
			delete(l.tabs, id)
		}
	}
	result := make([]TabLog, 0, len(l.tabs))
	for _, info := range l.tabs {
		result = append(result, TabLog{TabID: info.TabID, Title: info.Title, URL: info.URL})
	}
	l.mu.Unlock()

	slices.SortFunc(result, func(a, b TabLog) int { return a.TabID - b.TabID })
	for _, info := range added {
		l.deps.Bus.Publish(events.TabAdded, info)
	}
	for _, info := range closed {
		l.deps.Bus.Publish(events.TabClose, info)
	}
	return map[string]any{"tabs": result}, nil
}

type clearEvents struct {
	TabID             int  `json:"tabId"`
	IgnorePreserveLog bool `json:"ignorePreserveLog"`
}

// clear empties the log of a tab unless the log is preserved. It reports
// whether anything was cleared.
func (l *FilteringLog) clear(tabID int, ignorePreserve bool) bool {
	l.mu.Lock()
	if l.preserve && !ignorePreserve {
		l.mu.Unlock()
		return false
	}
	tab, ok := l.tabs[tabID]
	if ok {
		tab.Events = nil
	}
	var info TabLog
	if ok {
		info = TabLog{TabID: tab.TabID, Title: tab.Title, URL: tab.URL}
	}
	l.mu.Unlock()

	if ok {
		l.deps.Bus.Publish(events.TabReset, info)
	}
	return ok
}

func (l *FilteringLog) clearEvents(_ context.Context, p clearEvents, _ message.Sender) (any, error) {
	l.clear(p.TabID, p.IgnorePreserveLog)
	return nil, nil
}

func (l *FilteringLog) refreshPage(ctx context.Context, ref tabRef, _ message.Sender) (any, error) {
	l.clear(ref.TabID, false)
	return nil, l.deps.Tabs.Reload(ctx, ref.TabID, "")
}

func (l *FilteringLog) setPreserveLog(_ context.Context, s filteringState, _ message.Sender) (any, error) {
	l.mu.Lock()
	l.preserve = s.State
	l.mu.Unlock()
	return nil, nil
}

type cookieEvent struct {
	CookieName   string `json:"cookieName" validate:"required"`
	CookieDomain string `json:"cookieDomain"`
	RuleText     string `json:"ruleText"`
	FilterID     int    `json:"filterId"`
	ThirdParty   bool   `json:"thirdParty"`
}

func (l *FilteringLog) saveCookieEvent(_ context.Context, p cookieEvent, sender message.Sender) (any, error) {
	l.record(sender, LogEvent{
		FrameURL:     sender.URL,
		RequestType:  "COOKIE",
		RuleText:     p.RuleText,
		FilterID:     p.FilterID,
		CookieName:   p.CookieName,
		CookieDomain: p.CookieDomain,
		ThirdParty:   p.ThirdParty,
	})
	return nil, nil
}

type cssHits struct {
	Stats []struct {
		FilterID int    `json:"filterId"`
		RuleText string `json:"ruleText" validate:"required"`
		Element  string `json:"element"`
	} `json:"stats" validate:"dive"`
}

// collectingHits reports whether cosmetic rule hits should be kept.
func (l *FilteringLog) collectingHits() bool {
	if l.IsOpen() {
		return true
	}
	disabled, err := l.settings.Bool(SettingDisableCollectHits)
	return err == nil && !disabled
}

func (l *FilteringLog) saveCSSHits(_ context.Context, p cssHits, sender message.Sender) (any, error) {
	if !l.collectingHits() || len(p.Stats) == 0 {
		return nil, nil
	}
	if _, err := l.deps.Store.Add(CounterCSSHits, uint64(len(p.Stats))); err != nil {
		return nil, err
	}
	for _, s := range p.Stats {
		l.record(sender, LogEvent{
			FrameURL:    sender.URL,
			RequestType: "DOCUMENT",
			Element:     s.Element,
			RuleText:    s.RuleText,
			FilterID:    s.FilterID,
			Cosmetic:    true,
		})
	}
	return nil, nil
}
