package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
)

// Event is one push notification: the bus event name and its arguments.
type Event struct {
	Name events.Name
	Data []json.RawMessage
}

// notification is a push as read off the wire.
type notification struct {
	Type message.Type      `json:"type"`
	Data []json.RawMessage `json:"data"`
}

// event converts n into an Event. ok is false for anything other than a
// notifyListeners push.
func (n notification) event() (Event, bool) {
	if n.Type != message.NotifyListeners || len(n.Data) == 0 {
		return Event{}, false
	}
	var name string
	if err := jsoncodec.Unmarshal(n.Data[0], &name); err != nil {
		return Event{}, false
	}
	return Event{Name: events.Name(name), Data: n.Data[1:]}, true
}

// OpenEventChannel opens a long-lived connection named <page>_<uuid>,
// subscribes it to names and calls onEvent for every push, in order. The
// connection closes when the returned Disposer is called or the page
// lifecycle unloads.
func (m *Messenger) OpenEventChannel(ctx context.Context, page string, names []events.Name, onEvent func(Event)) (Disposer, error) {
	name := page + "_" + uuid.NewString()
	conn, _, err := websocket.Dial(ctx, m.wsURL("/api/connect?name="+url.QueryEscape(name)), nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}

	sub := message.Subscription{Events: make([]string, len(names))}
	for i, n := range names {
		sub.Events[i] = string(n)
	}
	data, err := jsoncodec.Raw(sub)
	if err != nil {
		conn.CloseNow()
		return nil, err
	}
	if err := wsjson.Write(ctx, conn, message.Control{Type: message.AddLongLivedConnection, Data: data}); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		for {
			var n notification
			if err := wsjson.Read(readCtx, conn, &n); err != nil {
				if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
					m.logger.Debug("event channel closed", "port", name, "error", err)
				}
				return
			}
			if ev, ok := n.event(); ok {
				onEvent(ev)
			}
		}
	}()

	return once(m.lifecycle, func() {
		conn.Close(websocket.StatusNormalClosure, "page unloaded")
		cancel()
	}), nil
}
