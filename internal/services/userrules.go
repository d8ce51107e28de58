package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/gate"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/router"
)

func joinRules(rules []string) string {
	return strings.Join(rules, "\n")
}

// UserRules owns the user filter.
type UserRules struct {
	module.BaseModule
	deps     Deps
	settings *Settings
}

func NewUserRules(deps Deps, settings *Settings) *UserRules {
	return &UserRules{deps: deps, settings: settings}
}

func (u *UserRules) Name() string { return "user-rules" }

func (u *UserRules) Register(r module.Routers) error {
	handlers := map[message.Type]router.HandlerFunc{
		message.GetUserRules:            router.Func(u.getUserRules),
		message.SaveUserRules:           router.Handle(u.saveUserRules),
		message.AddUserRule:             router.Handle(u.addUserRule),
		message.RemoveUserRule:          router.Handle(u.removeUserRule),
		message.ResetCustomRulesForPage: router.Handle(u.resetCustomRulesForPage),
		message.GetUserRulesEditorData:  router.Func(u.editorData),
		message.ConvertRulesText:        router.Handle(u.convertRulesText),
		message.UnAllowlistFrame:        router.Handle(u.unAllowlistFrame),
	}
	for t, h := range handlers {
		if err := r.Legacy.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}

// Boot hands the stored rules to the engine.
func (u *UserRules) Boot(ctx context.Context, _ *connection.Manager) error {
	rules, err := u.deps.Store.UserRules()
	if err != nil {
		return fmt.Errorf("load user rules: %w", err)
	}
	return u.deps.Engine.SetUserRules(ctx, rules)
}

// Rules returns the stored rules.
func (u *UserRules) Rules() ([]string, error) {
	return u.deps.Store.UserRules()
}

// update stores rules and starts an engine rebuild.
func (u *UserRules) update(ctx context.Context, rules []string) error {
	if err := u.deps.Store.SetUserRules(rules); err != nil {
		return fmt.Errorf("store user rules: %w", err)
	}
	return u.deps.Engine.SetUserRules(ctx, rules)
}

// HasRulesForURL reports whether any user rule targets the domain of pageURL.
func (u *UserRules) HasRulesForURL(pageURL string) (bool, error) {
	domain := domainOf(pageURL)
	if domain == "" {
		return false, nil
	}
	rules, err := u.Rules()
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(rules, func(r string) bool { return ruleTargets(r, domain) }), nil
}

// ruleTargets reports whether rule mentions domain as its pattern host or
// in its cosmetic domain list.
func ruleTargets(rule, domain string) bool {
	for _, sep := range []string{"#%#", "#@#", "##", "$$"} {
		if domains, _, ok := strings.Cut(rule, sep); ok && domains != "" {
			for _, d := range strings.Split(domains, ",") {
				if strings.TrimPrefix(d, "~") == domain {
					return true
				}
			}
			return false
		}
	}
	pattern := strings.TrimPrefix(rule, "@@")
	pattern, _, _ = strings.Cut(pattern, "$")
	pattern = strings.TrimPrefix(pattern, "||")
	pattern = strings.TrimSuffix(pattern, "^")
	return pattern == domain || strings.HasSuffix(pattern, "."+domain)
}

func (u *UserRules) getUserRules(context.Context, message.Sender) (any, error) {
	rules, err := u.Rules()
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": joinRules(rules), "appVersion": u.deps.Version}, nil
}

type rulesText struct {
	Value string `json:"value"`
}

// saveUserRules replies only once the engine reports the user filter
// rebuilt, so the page can show the result of its save.
func (u *UserRules) saveUserRules(ctx context.Context, p rulesText, _ message.Sender) (any, error) {
	rules := splitLines(p.Value)
	err := gate.WaitFor(ctx, u.deps.Bus, events.UserFilterUpdated, func(ctx context.Context) error {
		return u.update(ctx, rules)
	})
	if err != nil {
		return nil, fmt.Errorf("save user rules: %w", err)
	}
	return nil, nil
}

type ruleText struct {
	RuleText string `json:"ruleText" validate:"required"`
}

func (u *UserRules) addUserRule(ctx context.Context, p ruleText, _ message.Sender) (any, error) {
	rules, err := u.Rules()
	if err != nil {
		return nil, err
	}
	if slices.Contains(rules, p.RuleText) {
		return nil, nil
	}
	return nil, u.update(ctx, append(rules, p.RuleText))
}

func (u *UserRules) removeUserRule(ctx context.Context, p ruleText, _ message.Sender) (any, error) {
	rules, err := u.Rules()
	if err != nil {
		return nil, err
	}
	kept := slices.DeleteFunc(rules, func(r string) bool { return r == p.RuleText })
	return nil, u.update(ctx, kept)
}

type resetForPage struct {
	URL   string `json:"url" validate:"required"`
	TabID int    `json:"tabId"`
}

// resetCustomRulesForPage drops every rule for the page's domain, waits for
// the request filter to be rebuilt and then reloads the tab.
func (u *UserRules) resetCustomRulesForPage(ctx context.Context, p resetForPage, _ message.Sender) (any, error) {
	domain := domainOf(p.URL)
	rules, err := u.Rules()
	if err != nil {
		return nil, err
	}
	kept := slices.DeleteFunc(rules, func(r string) bool { return ruleTargets(r, domain) })

	err = gate.WaitFor(ctx, u.deps.Bus, events.RequestFilterUpdated, func(ctx context.Context) error {
		return u.update(ctx, kept)
	})
	if err != nil {
		return nil, fmt.Errorf("reset rules for %s: %w", domain, err)
	}
	return nil, u.deps.Tabs.Reload(ctx, p.TabID, p.URL)
}

func (u *UserRules) editorData(context.Context, message.Sender) (any, error) {
	rules, err := u.Rules()
	if err != nil {
		return nil, err
	}
	settings, err := u.settings.All()
	if err != nil {
		return nil, err
	}
	return map[string]any{"userRules": joinRules(rules), "settings": settings}, nil
}

type convertRules struct {
	Content string `json:"content"`
}

func (u *UserRules) convertRulesText(ctx context.Context, p convertRules, _ message.Sender) (any, error) {
	return u.deps.Engine.ConvertRules(ctx, p.Content)
}

type frameInfoPayload struct {
	FrameInfo struct {
		URL string `json:"url" validate:"required"`
	} `json:"frameInfo"`
}

// unAllowlistFrame removes the user's document allowlist rule for the
// frame's domain.
func (u *UserRules) unAllowlistFrame(ctx context.Context, p frameInfoPayload, _ message.Sender) (any, error) {
	domain := domainOf(p.FrameInfo.URL)
	rules, err := u.Rules()
	if err != nil {
		return nil, err
	}
	rule := documentAllowlistRule(domain)
	if !slices.Contains(rules, rule) {
		return nil, nil
	}
	return nil, u.update(ctx, slices.DeleteFunc(rules, func(r string) bool { return r == rule }))
}

func documentAllowlistRule(domain string) string {
	return "@@||" + domain + "^$document"
}
