package engine

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/pubsub"
)

// Memory is a small rule engine held in process. It understands enough of
// the rule syntax (domain blocking, element hiding, scriptlets, cookie rules
// and document allowlisting) to answer content-script queries, and it
// announces every rebuild on the engine event channel from a separate
// goroutine.
type Memory struct {
	pub    pubsub.Publisher
	logger *slog.Logger

	mu        sync.RWMutex
	filters   []Filter
	groups    []Group
	userRules []string
	allowlist []string
	disabled  bool
	ready     bool
	sources   map[string]string
	nextID    int
	wg        sync.WaitGroup
}

// DefaultGroups and DefaultFilters seed a new Memory engine.
var (
	DefaultGroups = []Group{
		{ID: 1, Name: "Ad Blocking", Enabled: true},
		{ID: 2, Name: "Privacy", Enabled: true},
		{ID: 3, Name: "Social Widgets", Enabled: false},
		{ID: 7, Name: "Language-specific", Enabled: false},
		{ID: 0, Name: "Custom", Enabled: true},
	}
	DefaultFilters = []Filter{
		{ID: 1, GroupID: 7, Name: "Russian filter", Installed: true},
		{ID: 2, GroupID: 1, Name: "Base filter", Installed: true, Enabled: true, RulesCount: 90000},
		{ID: 3, GroupID: 2, Name: "Tracking Protection filter", Installed: true, Enabled: true, RulesCount: 20000},
		{ID: 4, GroupID: 3, Name: "Social media filter", Installed: true},
		{ID: 14, GroupID: 1, Name: "Annoyances filter"},
	}
)

// firstCustomFilterID is where ids for user-subscribed lists start.
const firstCustomFilterID = 1000

// NewMemory creates an engine that reports completions on pub.
func NewMemory(pub pubsub.Publisher, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		pub:     pub,
		logger:  logger,
		filters: slices.Clone(DefaultFilters),
		groups:  slices.Clone(DefaultGroups),
		sources: make(map[string]string),
		nextID:  firstCustomFilterID,
		ready:   true,
	}
}

// AddSource makes a remote filter list available for download by URL.
func (m *Memory) AddSource(url, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[url] = content
}

// Wait blocks until every announced rebuild has been published.
func (m *Memory) Wait() {
	m.wg.Wait()
}

// announce publishes the events from a new goroutine, detached from the
// caller's cancellation.
func (m *Memory) announce(ctx context.Context, batch ...pubsub.BusEvent) {
	ctx = context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for _, ev := range batch {
			if err := pubsub.PublishBusEvent(ctx, m.pub, ev.Name, ev.Args...); err != nil {
				m.logger.Error("publish engine event failed", "event", ev.Name, "error", err)
			}
		}
	}()
}

func (m *Memory) requestFilterUpdated() pubsub.BusEvent {
	return pubsub.BusEvent{Name: events.RequestFilterUpdated, Args: []any{m.requestFilterInfoLocked()}}
}

func (m *Memory) Filters(context.Context) ([]Filter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.filters), nil
}

func (m *Memory) Groups(context.Context) ([]Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.groups), nil
}

func (m *Memory) filterIndex(id int) int {
	return slices.IndexFunc(m.filters, func(f Filter) bool { return f.ID == id })
}

func (m *Memory) EnableFilters(ctx context.Context, ids []int, _ bool) ([]Filter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		enabled []Filter
		batch   []pubsub.BusEvent
	)
	for _, id := range ids {
		i := m.filterIndex(id)
		if i < 0 {
			return nil, fmt.Errorf("%w %d", ErrNoSuchFilter, id)
		}
		f := &m.filters[i]
		if !f.Installed {
			f.Installed = true
			f.LastUpdate = time.Now()
			batch = append(batch, pubsub.BusEvent{Name: events.FilterAddRemove, Args: []any{*f}})
		}
		f.Enabled = true
		enabled = append(enabled, *f)
		batch = append(batch, pubsub.BusEvent{Name: events.FilterEnableDisable, Args: []any{*f}})
	}
	batch = append(batch, m.requestFilterUpdated())
	m.announce(ctx, batch...)
	return enabled, nil
}

func (m *Memory) DisableFilters(ctx context.Context, ids []int, uninstall bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var batch []pubsub.BusEvent
	for _, id := range ids {
		i := m.filterIndex(id)
		if i < 0 {
			return fmt.Errorf("%w %d", ErrNoSuchFilter, id)
		}
		f := &m.filters[i]
		f.Enabled = false
		batch = append(batch, pubsub.BusEvent{Name: events.FilterEnableDisable, Args: []any{*f}})
		if uninstall {
			f.Installed = false
			batch = append(batch, pubsub.BusEvent{Name: events.FilterAddRemove, Args: []any{*f}})
		}
	}
	batch = append(batch, m.requestFilterUpdated())
	m.announce(ctx, batch...)
	return nil
}

func (m *Memory) RemoveFilter(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.filterIndex(id)
	if i < 0 {
		return fmt.Errorf("%w %d", ErrNoSuchFilter, id)
	}
	removed := m.filters[i]
	removed.Enabled, removed.Installed = false, false
	if removed.Custom {
		m.filters = slices.Delete(m.filters, i, i+1)
	} else {
		m.filters[i] = removed
	}
	m.announce(ctx,
		pubsub.BusEvent{Name: events.FilterAddRemove, Args: []any{removed}},
		m.requestFilterUpdated(),
	)
	return nil
}

func (m *Memory) SetGroupEnabled(ctx context.Context, id int, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.groups, func(g Group) bool { return g.ID == id })
	if i < 0 {
		return fmt.Errorf("no such group %d", id)
	}
	m.groups[i].Enabled = enabled
	m.announce(ctx,
		pubsub.BusEvent{Name: events.FilterGroupEnableDisable, Args: []any{m.groups[i]}},
		m.requestFilterUpdated(),
	)
	return nil
}

func (m *Memory) CheckUpdates(ctx context.Context) ([]Filter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		updated []Filter
		batch   []pubsub.BusEvent
	)
	now := time.Now()
	for i := range m.filters {
		f := &m.filters[i]
		if !f.Enabled || !f.Custom {
			continue
		}
		content, ok := m.sources[f.SubscriptionURL]
		if !ok {
			batch = append(batch, pubsub.BusEvent{Name: events.ErrorDownloadFilter, Args: []any{*f}})
			continue
		}
		info := parseFilterList(f.SubscriptionURL, content)
		if info.Version != f.Version || info.RulesCount != f.RulesCount {
			f.Version, f.RulesCount, f.LastUpdate = info.Version, info.RulesCount, now
			updated = append(updated, *f)
			batch = append(batch, pubsub.BusEvent{Name: events.SuccessDownloadFilter, Args: []any{*f}})
		}
	}
	batch = append(batch, pubsub.BusEvent{Name: events.FiltersUpdateCheckReady, Args: []any{updated}})
	m.announce(ctx, batch...)
	return updated, nil
}

func (m *Memory) LoadCustomFilterInfo(_ context.Context, url, title string) (CustomFilterInfo, error) {
	m.mu.RLock()
	content, ok := m.sources[url]
	m.mu.RUnlock()
	if !ok {
		return CustomFilterInfo{}, fmt.Errorf("%w: %s", ErrDownload, url)
	}
	info := parseFilterList(url, content)
	if title != "" {
		info.Name = title
	}
	return info, nil
}

func (m *Memory) LoadCustomFilter(ctx context.Context, url, title string, trusted bool) (Filter, error) {
	info, err := m.LoadCustomFilterInfo(ctx, url, title)
	if err != nil {
		return Filter{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if i := slices.IndexFunc(m.filters, func(f Filter) bool { return f.Custom && f.SubscriptionURL == url }); i >= 0 {
		return m.filters[i], nil
	}
	f := Filter{
		ID:              m.nextID,
		GroupID:         0,
		Name:            info.Name,
		Description:     info.Description,
		Version:         info.Version,
		SubscriptionURL: url,
		Custom:          true,
		Trusted:         trusted,
		Installed:       true,
		RulesCount:      info.RulesCount,
		LastUpdate:      time.Now(),
	}
	m.nextID++
	m.filters = append(m.filters, f)
	m.announce(ctx, pubsub.BusEvent{Name: events.FilterAddRemove, Args: []any{f}})
	return f, nil
}

func (m *Memory) SetUserRules(ctx context.Context, rules []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userRules = slices.Clone(rules)
	m.announce(ctx,
		pubsub.BusEvent{Name: events.UserFilterUpdated, Args: []any{len(rules)}},
		m.requestFilterUpdated(),
	)
	return nil
}

func (m *Memory) SetAllowlist(ctx context.Context, domains []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowlist = slices.Clone(domains)
	m.announce(ctx,
		pubsub.BusEvent{Name: events.UpdateAllowlistFilterRules},
		m.requestFilterUpdated(),
	)
	return nil
}

func (m *Memory) SetFilteringDisabled(ctx context.Context, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = disabled
	m.announce(ctx, pubsub.BusEvent{Name: events.UpdateTabButtonState, Args: []any{disabled}})
	return nil
}

func (m *Memory) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

func (m *Memory) RequestFilterInfo() RequestFilterInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestFilterInfoLocked()
}

func (m *Memory) requestFilterInfoLocked() RequestFilterInfo {
	count := len(m.userRules)
	for _, f := range m.filters {
		if f.Enabled {
			count += f.RulesCount
		}
	}
	return RequestFilterInfo{RulesCount: count}
}

// bypassed reports whether filtering is off for a page, either globally or
// because its domain is allowlisted. Callers hold the read lock.
func (m *Memory) bypassed(pageURL string) bool {
	if m.disabled {
		return true
	}
	host := hostname(pageURL)
	for _, d := range m.allowlist {
		if domainMatches(host, d) {
			return true
		}
	}
	for _, r := range m.userRules {
		if d, ok := strings.CutPrefix(r, "@@||"); ok && strings.HasSuffix(d, "^$document") {
			if domainMatches(host, strings.TrimSuffix(d, "^$document")) {
				return true
			}
		}
	}
	return false
}

// blocked reports whether a user blocking rule matches target.
func (m *Memory) blocked(target string) bool {
	host := hostname(target)
	for _, r := range m.userRules {
		d, ok := strings.CutPrefix(r, "||")
		if !ok {
			continue
		}
		d, _, _ = strings.Cut(d, "^")
		d, _, _ = strings.Cut(d, "$")
		if domainMatches(host, d) {
			return true
		}
	}
	return false
}

func (m *Memory) ShouldCollapse(_ context.Context, tabURL, _ string, req CollapseRequest) (CollapseResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	collapse := !m.bypassed(tabURL) && m.blocked(req.ElementURL)
	return CollapseResult{RequestID: req.RequestID, Collapse: collapse}, nil
}

func (m *Memory) SelectorsAndScripts(_ context.Context, tabURL, documentURL string) (SelectorsAndScripts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := SelectorsAndScripts{Selectors: []string{}}
	if m.bypassed(tabURL) {
		return out, nil
	}
	host := hostname(documentURL)
	var scripts []string
	for _, r := range m.userRules {
		domains, body, ok := strings.Cut(r, "#%#")
		if ok {
			if appliesTo(host, domains) {
				scripts = append(scripts, body)
			}
			continue
		}
		domains, body, ok = strings.Cut(r, "##")
		if ok && appliesTo(host, domains) {
			out.Selectors = append(out.Selectors, body)
		}
	}
	out.Scripts = strings.Join(scripts, "\n")
	return out, nil
}

func (m *Memory) CookieRules(_ context.Context, tabURL, documentURL string) ([]CookieRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.bypassed(tabURL) {
		return nil, nil
	}
	host := hostname(documentURL)
	tabHost := hostname(tabURL)
	var out []CookieRule
	for _, r := range m.userRules {
		pattern, opts, ok := strings.Cut(r, "$cookie")
		if !ok {
			continue
		}
		d := strings.TrimSuffix(strings.TrimPrefix(pattern, "||"), "^")
		if d != "" && !domainMatches(host, d) {
			continue
		}
		out = append(out, CookieRule{
			RuleText:     r,
			FilterID:     0,
			Match:        strings.TrimPrefix(opts, "="),
			IsThirdParty: host != tabHost,
		})
	}
	return out, nil
}

func (m *Memory) CheckPageScriptWrapper(_ context.Context, tabURL, elementURL, _, _ string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.bypassed(tabURL) && m.blocked(elementURL), nil
}

// ConvertRules rewrites uBlock-style scriptlet rules into the native syntax
// and drops blank lines.
func (m *Memory) ConvertRules(_ context.Context, text string) (string, error) {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if domains, body, ok := strings.Cut(line, "##+js("); ok {
			args := strings.TrimSuffix(body, ")")
			parts := strings.Split(args, ",")
			for i, p := range parts {
				parts[i] = "'" + strings.TrimSpace(p) + "'"
			}
			if len(parts) > 0 {
				parts[0] = "'ubo-" + strings.Trim(parts[0], "'") + "'"
			}
			line = domains + "#%#//scriptlet(" + strings.Join(parts, ", ") + ")"
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return strings.Join(out, "\n"), nil
}

func parseFilterList(url, content string) CustomFilterInfo {
	info := CustomFilterInfo{URL: url}
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "!"):
			key, value, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "!")), ":")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.ToLower(strings.TrimSpace(key)) {
			case "title":
				info.Name = value
			case "description":
				info.Description = value
			case "homepage":
				info.Homepage = value
			case "version":
				info.Version = value
			}
		default:
			info.RulesCount++
		}
	}
	if info.Name == "" {
		info.Name = url
	}
	return info
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func domainMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// appliesTo reports whether a cosmetic rule restricted to the comma
// separated domains applies on host. An empty list applies everywhere.
func appliesTo(host, domains string) bool {
	if domains == "" {
		return true
	}
	for _, d := range strings.Split(domains, ",") {
		if domainMatches(host, d) {
			return true
		}
	}
	return false
}

var _ Engine = (*Memory)(nil)
