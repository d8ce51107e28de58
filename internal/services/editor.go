package services

import (
	"context"
	"sync/atomic"

	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/router"
)

// Editor tracks the fullscreen user rules editor and keeps its draft.
type Editor struct {
	module.BaseModule
	deps Deps
	open atomic.Int32
}

func NewEditor(deps Deps) *Editor {
	return &Editor{deps: deps}
}

func (e *Editor) Name() string { return "editor" }

func (e *Editor) Register(r module.Routers) error {
	if err := r.Legacy.Register(message.GetEditorStorageContent, router.Func(e.content)); err != nil {
		return err
	}
	return r.Legacy.Register(message.SetEditorStorageContent, router.Handle(e.setContent))
}

func (e *Editor) Boot(_ context.Context, conns *connection.Manager) error {
	return conns.SetHooks(connection.PageFullscreenUserRulesEditor, connection.PageHooks{
		OnOpen:  e.OnOpenPage,
		OnClose: e.OnClosePage,
	})
}

// OnOpenPage announces that an editor window opened.
func (e *Editor) OnOpenPage() {
	e.open.Add(1)
	e.deps.Bus.Publish(events.FullscreenUserRulesEditorUpdated, true)
}

// OnClosePage announces the editor state after a window closed.
func (e *Editor) OnClosePage() {
	if e.open.Add(-1) < 0 {
		e.open.Store(0)
	}
	e.deps.Bus.Publish(events.FullscreenUserRulesEditorUpdated, e.IsOpen())
}

// IsOpen reports whether any editor window is open.
func (e *Editor) IsOpen() bool {
	return e.open.Load() > 0
}

func (e *Editor) content(context.Context, message.Sender) (any, error) {
	return e.deps.Store.EditorContent()
}

type editorContent struct {
	Content string `json:"content"`
}

func (e *Editor) setContent(_ context.Context, p editorContent, _ message.Sender) (any, error) {
	return nil, e.deps.Store.SetEditorContent(p.Content)
}
