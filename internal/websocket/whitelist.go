package websocket

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/nfrund/filterbridge/internal/message"
)

var (
	// ErrTypeAlreadyAllowed is returned when adding a duplicate control type.
	ErrTypeAlreadyAllowed = errors.New("message type already allowed")
	// ErrInvalidControlType is returned for an empty control type.
	ErrInvalidControlType = errors.New("control message type cannot be empty")
)

// controlWhitelist holds the message types a page may send over a
// long-lived connection. Anything else is dropped before it reaches the
// session.
type controlWhitelist struct {
	mu      sync.RWMutex
	allowed []message.Type
}

// NewControlWhitelist creates a whitelist with the given types.
func NewControlWhitelist(types ...message.Type) *controlWhitelist {
	valid := make([]message.Type, 0, len(types))
	for _, t := range types {
		if t != "" {
			valid = append(valid, t)
		}
	}
	return &controlWhitelist{allowed: valid}
}

// IsAllowed reports whether t may be sent by a page.
func (w *controlWhitelist) IsAllowed(t message.Type) bool {
	if t == "" {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	return slices.Contains(w.allowed, t)
}

// Allow adds t to the whitelist.
func (w *controlWhitelist) Allow(t message.Type) error {
	if t == "" {
		return ErrInvalidControlType
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if slices.Contains(w.allowed, t) {
		slog.Debug("control type already allowed", "type", t)
		return ErrTypeAlreadyAllowed
	}

	w.allowed = append(w.allowed, t)
	return nil
}

// DefaultControlWhitelist allows only the subscription request.
func DefaultControlWhitelist() *controlWhitelist {
	return NewControlWhitelist(message.AddLongLivedConnection)
}
