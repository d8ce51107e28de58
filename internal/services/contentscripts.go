package services

import (
	"context"

	"github.com/nfrund/filterbridge/internal/engine"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/router"
)

// ContentScripts answers the per-document queries of in-page scripts.
type ContentScripts struct {
	module.BaseModule
	deps Deps
}

func NewContentScripts(deps Deps) *ContentScripts {
	return &ContentScripts{deps: deps}
}

func (c *ContentScripts) Name() string { return "content-scripts" }

// Register installs the handlers in the legacy router and in the engine
// router, which newer content scripts address directly.
func (c *ContentScripts) Register(r module.Routers) error {
	handlers := map[message.Type]router.HandlerFunc{
		message.GetSelectorsAndScripts:        router.Handle(c.selectorsAndScripts),
		message.GetCookieRules:                router.Handle(c.cookieRules),
		message.ProcessShouldCollapse:         router.Handle(c.shouldCollapse),
		message.ProcessShouldCollapseMany:     router.Handle(c.shouldCollapseMany),
		message.CheckPageScriptWrapperRequest: router.Handle(c.pageScriptWrapper),
	}
	for t, h := range handlers {
		if err := r.Legacy.Register(t, h); err != nil {
			return err
		}
		if err := r.Engine.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}

type documentRef struct {
	DocumentURL string `json:"documentUrl"`
}

// documentURL substitutes the tab address for subframes that have no
// address of their own, such as about:blank iframes.
func documentURL(doc string, sender message.Sender) string {
	if !isHTTP(doc) && sender.FrameID != 0 {
		return sender.URL
	}
	return doc
}

func (c *ContentScripts) selectorsAndScripts(ctx context.Context, p documentRef, sender message.Sender) (any, error) {
	doc := documentURL(p.DocumentURL, sender)
	if !isHTTP(doc) {
		return map[string]any{}, nil
	}
	result, err := c.deps.Engine.SelectorsAndScripts(ctx, sender.URL, doc)
	if err != nil {
		return nil, err
	}
	if len(result.Selectors) == 0 && result.Scripts == "" && !result.CollapseAllElements {
		return map[string]any{}, nil
	}
	return result, nil
}

func (c *ContentScripts) cookieRules(ctx context.Context, p documentRef, sender message.Sender) (any, error) {
	if !isHTTP(p.DocumentURL) && sender.FrameID != 0 {
		return map[string]any{}, nil
	}
	rules, err := c.deps.Engine.CookieRules(ctx, sender.URL, p.DocumentURL)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []engine.CookieRule{}
	}
	return map[string]any{"rulesData": rules}, nil
}

type collapseRequest struct {
	engine.CollapseRequest
	DocumentURL string `json:"documentUrl"`
}

func (c *ContentScripts) collapse(ctx context.Context, doc string, req engine.CollapseRequest, sender message.Sender) (engine.CollapseResult, error) {
	res, err := c.deps.Engine.ShouldCollapse(ctx, sender.URL, doc, req)
	if err != nil {
		return engine.CollapseResult{}, err
	}
	if res.Collapse {
		c.deps.Bus.Publish(events.AdsBlocked, sender.TabID)
	}
	return res, nil
}

func (c *ContentScripts) shouldCollapse(ctx context.Context, p collapseRequest, sender message.Sender) (any, error) {
	return c.collapse(ctx, documentURL(p.DocumentURL, sender), p.CollapseRequest, sender)
}

type collapseMany struct {
	DocumentURL string                   `json:"documentUrl"`
	Requests    []engine.CollapseRequest `json:"requests"`
}

func (c *ContentScripts) shouldCollapseMany(ctx context.Context, p collapseMany, sender message.Sender) (any, error) {
	doc := documentURL(p.DocumentURL, sender)
	results := make([]engine.CollapseResult, 0, len(p.Requests))
	for _, req := range p.Requests {
		res, err := c.collapse(ctx, doc, req, sender)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return map[string]any{"requests": results}, nil
}

type wrapperRequest struct {
	ElementURL  string `json:"elementUrl"`
	DocumentURL string `json:"documentUrl"`
	RequestType string `json:"requestType"`
	RequestID   int    `json:"requestId"`
}

func (c *ContentScripts) pageScriptWrapper(ctx context.Context, p wrapperRequest, sender message.Sender) (any, error) {
	block, err := c.deps.Engine.CheckPageScriptWrapper(ctx, sender.URL, p.ElementURL, documentURL(p.DocumentURL, sender), p.RequestType)
	if err != nil {
		return nil, err
	}
	if block {
		c.deps.Bus.Publish(events.AdsBlocked, sender.TabID)
	}
	return map[string]any{"block": block, "requestId": p.RequestID}, nil
}
