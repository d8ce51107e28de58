package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/router"
)

// Allowlist owns the domains on which filtering is off.
type Allowlist struct {
	module.BaseModule
	deps Deps
}

func NewAllowlist(deps Deps) *Allowlist {
	return &Allowlist{deps: deps}
}

func (a *Allowlist) Name() string { return "allowlist" }

func (a *Allowlist) Register(r module.Routers) error {
	handlers := map[message.Type]router.HandlerFunc{
		message.GetAllowlistDomains:     router.Func(a.getDomains),
		message.SaveAllowlistDomains:    router.Handle(a.saveDomains),
		message.AddAllowlistDomainPopup: router.Handle(a.allowlistTab),
		message.RemoveAllowlistDomain:   router.Handle(a.unAllowlistTab),
	}
	for t, h := range handlers {
		if err := r.Legacy.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}

// Boot hands the stored domains to the engine.
func (a *Allowlist) Boot(ctx context.Context, _ *connection.Manager) error {
	domains, err := a.deps.Store.Allowlist()
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}
	return a.deps.Engine.SetAllowlist(ctx, domains)
}

// Domains returns the allowlisted domains.
func (a *Allowlist) Domains() ([]string, error) {
	return a.deps.Store.Allowlist()
}

// Contains reports whether the domain of pageURL is allowlisted.
func (a *Allowlist) Contains(pageURL string) (bool, error) {
	domain := domainOf(pageURL)
	if domain == "" {
		return false, nil
	}
	domains, err := a.Domains()
	if err != nil {
		return false, err
	}
	return slices.Contains(domains, domain), nil
}

func (a *Allowlist) update(ctx context.Context, domains []string) error {
	if err := a.deps.Store.SetAllowlist(domains); err != nil {
		return fmt.Errorf("store allowlist: %w", err)
	}
	return a.deps.Engine.SetAllowlist(ctx, domains)
}

func (a *Allowlist) getDomains(context.Context, message.Sender) (any, error) {
	domains, err := a.Domains()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content":    strings.Join(domains, "\r\n"),
		"appVersion": a.deps.Version,
	}, nil
}

func (a *Allowlist) saveDomains(ctx context.Context, p rulesText, _ message.Sender) (any, error) {
	return nil, a.update(ctx, splitLines(p.Value))
}

type tabRef struct {
	TabID int `json:"tabId"`
}

// activeTabDomain resolves the domain of the referenced tab, or of the
// active tab when no id is given.
func (a *Allowlist) activeTabDomain(ctx context.Context, tabID int) (string, bool, error) {
	tab, ok, err := a.deps.Tabs.Active(ctx, tabID)
	if err != nil || !ok {
		return "", false, err
	}
	domain := domainOf(tab.URL)
	return domain, domain != "", nil
}

func (a *Allowlist) allowlistTab(ctx context.Context, p tabRef, _ message.Sender) (any, error) {
	domain, ok, err := a.activeTabDomain(ctx, p.TabID)
	if err != nil || !ok {
		return nil, err
	}
	domains, err := a.Domains()
	if err != nil {
		return nil, err
	}
	if slices.Contains(domains, domain) {
		return nil, nil
	}
	return nil, a.update(ctx, append(domains, domain))
}

func (a *Allowlist) unAllowlistTab(ctx context.Context, p tabRef, _ message.Sender) (any, error) {
	domain, ok, err := a.activeTabDomain(ctx, p.TabID)
	if err != nil || !ok {
		return nil, err
	}
	domains, err := a.Domains()
	if err != nil {
		return nil, err
	}
	return nil, a.update(ctx, slices.DeleteFunc(domains, func(d string) bool { return d == domain }))
}
