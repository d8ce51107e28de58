// Package browser is the narrow view of the browser's tab and window API
// that background services act through.
package browser

import (
	"context"
	"errors"

	"github.com/nfrund/filterbridge/internal/message"
)

// ErrNoSuchTab is returned when an operation names a tab that does not exist.
var ErrNoSuchTab = errors.New("no such tab")

// Tab is a browser tab.
type Tab struct {
	ID       int    `json:"tabId"`
	WindowID int    `json:"windowId"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Active   bool   `json:"active"`
}

// CreateOptions controls how a new tab is opened.
type CreateOptions struct {
	// Background opens the tab without focusing it.
	Background bool `json:"inBackground,omitempty"`
	// Popup opens the URL in a new popup window instead of a tab.
	Popup bool `json:"popup,omitempty"`
}

// Tabs is implemented by the browser integration.
type Tabs interface {
	// Active returns the focused tab, or the tab with id when id is non-zero.
	Active(ctx context.Context, id int) (Tab, bool, error)
	// FindByURL returns the first tab showing url.
	FindByURL(ctx context.Context, url string) (Tab, bool, error)
	List(ctx context.Context) ([]Tab, error)
	Create(ctx context.Context, url string, opts CreateOptions) (Tab, error)
	Focus(ctx context.Context, id int) error
	// Reload reloads the tab, navigating to url first when it is not empty.
	Reload(ctx context.Context, id int, url string) error
	// SendMessage delivers a notification to the content scripts of a tab.
	SendMessage(ctx context.Context, id int, n message.Notification) error
}
