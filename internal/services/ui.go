package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/nfrund/filterbridge/internal/browser"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/router"
)

// Extension pages and external sites the UI service opens.
const (
	PageOptions          = "options.html"
	PageFilteringLog     = "filtering-log.html"
	PageFullscreenEditor = "fullscreen-user-rules.html"
	PageThankYou         = "thankyou.html"

	AbuseReportBase   = "https://reports.adguard.com/new_issue.html"
	SiteReportBase    = "https://adguard.com/site.html"
	ExtensionStoreURL = "https://chrome.google.com/webstore/detail/bgnkhhnnamicmpeenaelnjfhikgbkllg"
)

// UI opens extension pages and external tabs.
type UI struct {
	module.BaseModule
	deps Deps
}

func NewUI(deps Deps) *UI {
	return &UI{deps: deps}
}

func (u *UI) Name() string { return "ui" }

func (u *UI) Register(r module.Routers) error {
	handlers := map[message.Type]router.HandlerFunc{
		message.OpenSettingsTab:          router.Func(u.openSettingsTab),
		message.OpenFilteringLog:         router.Func(u.openFilteringLog),
		message.OpenFullscreenUserRules:  router.Func(u.openFullscreenUserRules),
		message.OpenAbuseTab:             router.Handle(u.openAbuseTab),
		message.OpenSiteReportTab:        router.Handle(u.openSiteReportTab),
		message.OpenAssistant:            router.Func(u.openAssistant),
		message.OpenThankYouPage:         router.Func(u.openThankYouPage),
		message.OpenExtensionStore:       router.Func(u.openExtensionStore),
		message.OpenTab:                  router.Handle(u.openTab),
		message.AddFilteringSubscription: router.Handle(u.addFilterSubscription),
	}
	for t, h := range handlers {
		if err := r.Legacy.Register(t, h); err != nil {
			return err
		}
	}

	typed := map[message.Type]router.HandlerFunc{
		message.OpenSettingsTab:   router.Func(u.openSettingsTab),
		message.OpenFilteringLog:  router.Func(u.openFilteringLog),
		message.OpenAbuseTab:      router.Handle(u.openAbuseTab),
		message.OpenSiteReportTab: router.Handle(u.openSiteReportTab),
		message.OpenAssistant:     router.Func(u.openAssistant),
	}
	for t, h := range typed {
		if err := r.App.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}

// focusOrCreate focuses the tab showing pageURL or opens a new one.
func (u *UI) focusOrCreate(ctx context.Context, pageURL string, opts browser.CreateOptions) (browser.Tab, error) {
	tab, ok, err := u.deps.Tabs.FindByURL(ctx, pageURL)
	if err != nil {
		return browser.Tab{}, err
	}
	if ok {
		return tab, u.deps.Tabs.Focus(ctx, tab.ID)
	}
	return u.deps.Tabs.Create(ctx, pageURL, opts)
}

func (u *UI) openSettingsTab(ctx context.Context, _ message.Sender) (any, error) {
	_, err := u.focusOrCreate(ctx, u.deps.pageURL(PageOptions), browser.CreateOptions{})
	return nil, err
}

func (u *UI) openFilteringLog(ctx context.Context, _ message.Sender) (any, error) {
	_, err := u.focusOrCreate(ctx, u.deps.pageURL(PageFilteringLog), browser.CreateOptions{Popup: true})
	return nil, err
}

func (u *UI) openFullscreenUserRules(ctx context.Context, _ message.Sender) (any, error) {
	_, err := u.focusOrCreate(ctx, u.deps.pageURL(PageFullscreenEditor), browser.CreateOptions{Popup: true})
	return nil, err
}

func (u *UI) openThankYouPage(ctx context.Context, _ message.Sender) (any, error) {
	_, err := u.focusOrCreate(ctx, u.deps.pageURL(PageThankYou), browser.CreateOptions{})
	return nil, err
}

func (u *UI) openExtensionStore(ctx context.Context, _ message.Sender) (any, error) {
	_, err := u.deps.Tabs.Create(ctx, ExtensionStoreURL, browser.CreateOptions{})
	return nil, err
}

type pageRef struct {
	URL string `json:"url"`
}

// AbuseReportURL builds the report form address for pageURL.
func (u *UI) AbuseReportURL(ctx context.Context, pageURL string) (string, error) {
	filters, err := u.deps.Engine.Filters(ctx)
	if err != nil {
		return "", err
	}
	var ids []string
	for _, f := range filters {
		if f.Enabled {
			ids = append(ids, strconv.Itoa(f.ID))
		}
	}

	q := url.Values{}
	q.Set("product_type", "Ext")
	q.Set("product_version", u.deps.Version)
	q.Set("browser", "Other")
	q.Set("url", pageURL)
	if len(ids) > 0 {
		q.Set("filters", strings.Join(ids, "."))
	}
	return AbuseReportBase + "?" + q.Encode(), nil
}

func (u *UI) openAbuseTab(ctx context.Context, p pageRef, _ message.Sender) (any, error) {
	target, err := u.AbuseReportURL(ctx, p.URL)
	if err != nil {
		return nil, err
	}
	_, err = u.deps.Tabs.Create(ctx, target, browser.CreateOptions{})
	return nil, err
}

// SiteReportURL builds the site report address for pageURL. It returns
// false when the URL has no domain.
func SiteReportURL(pageURL string) (string, bool, error) {
	domain := domainOf(pageURL)
	if domain == "" {
		return "", false, nil
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", false, fmt.Errorf("punycode %q: %w", domain, err)
	}
	q := url.Values{}
	q.Set("domain", ascii)
	q.Set("utm_source", "extension")
	q.Set("aid", "16593")
	return SiteReportBase + "?" + q.Encode(), true, nil
}

func (u *UI) openSiteReportTab(ctx context.Context, p pageRef, _ message.Sender) (any, error) {
	target, ok, err := SiteReportURL(p.URL)
	if err != nil || !ok {
		return nil, err
	}
	_, err = u.deps.Tabs.Create(ctx, target, browser.CreateOptions{})
	return nil, err
}

// openAssistant asks the content script of the active tab to start the
// element picker.
func (u *UI) openAssistant(ctx context.Context, _ message.Sender) (any, error) {
	tab, ok, err := u.deps.Tabs.Active(ctx, 0)
	if err != nil || !ok {
		return nil, err
	}
	return nil, u.deps.Tabs.SendMessage(ctx, tab.ID, message.Notification{Type: message.OpenAssistant, Data: []any{}})
}

type openTab struct {
	URL     string `json:"url" validate:"required"`
	Options struct {
		Inactive bool `json:"inBackground"`
		Popup    bool `json:"isPopup"`
	} `json:"options"`
}

func (u *UI) openTab(ctx context.Context, p openTab, _ message.Sender) (any, error) {
	tab, err := u.deps.Tabs.Create(ctx, p.URL, browser.CreateOptions{
		Background: p.Options.Inactive,
		Popup:      p.Options.Popup,
	})
	if err != nil {
		return nil, err
	}
	return tab, nil
}

type filterSubscription struct {
	URL   string `json:"url" validate:"required"`
	Title string `json:"title"`
}

// addFilterSubscription opens the options page on the custom filter dialog.
func (u *UI) addFilterSubscription(ctx context.Context, p filterSubscription, _ message.Sender) (any, error) {
	q := url.Values{}
	q.Set("subscribe", p.URL)
	if p.Title != "" {
		q.Set("title", p.Title)
	}
	target := u.deps.pageURL(PageOptions) + "#filters?group=0&" + q.Encode()
	_, err := u.deps.Tabs.Create(ctx, target, browser.CreateOptions{})
	return nil, err
}
