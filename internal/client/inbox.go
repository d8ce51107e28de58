package client

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nfrund/filterbridge/internal/browser"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
)

// removeTimeout bounds the removeListener request sent on disposal.
const removeTimeout = 2 * time.Second

// Inbox is where a content script receives messages sent to its tab.
type Inbox interface {
	// AddListener calls fn for every push delivered to the tab until the
	// returned function is called.
	AddListener(fn func(Event)) (remove func())
}

// TabInbox is the Inbox of one tab, fed by the tab inbox endpoint.
type TabInbox struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	listeners map[int]func(Event)
	nextID    int
}

// OpenTabInbox connects to the inbox of tabID.
func (m *Messenger) OpenTabInbox(ctx context.Context, tabID int) (*TabInbox, error) {
	conn, _, err := websocket.Dial(ctx, m.wsURL("/api/tabs/"+strconv.Itoa(tabID)+"/inbox"), nil)
	if err != nil {
		return nil, fmt.Errorf("open inbox of tab %d: %w", tabID, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	in := &TabInbox{
		conn:      conn,
		cancel:    cancel,
		done:      make(chan struct{}),
		listeners: make(map[int]func(Event)),
	}
	go in.read(readCtx)
	return in, nil
}

func (in *TabInbox) read(ctx context.Context) {
	defer close(in.done)
	for {
		var n notification
		if err := wsjson.Read(ctx, in.conn, &n); err != nil {
			return
		}
		ev, ok := n.event()
		if !ok {
			continue
		}
		in.mu.Lock()
		fns := make([]func(Event), 0, len(in.listeners))
		for id := 0; id < in.nextID; id++ {
			if fn, ok := in.listeners[id]; ok {
				fns = append(fns, fn)
			}
		}
		in.mu.Unlock()
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// AddListener implements Inbox.
func (in *TabInbox) AddListener(fn func(Event)) func() {
	in.mu.Lock()
	id := in.nextID
	in.nextID++
	in.listeners[id] = fn
	in.mu.Unlock()

	return func() {
		in.mu.Lock()
		delete(in.listeners, id)
		in.mu.Unlock()
	}
}

// Done is closed once the inbox stops receiving.
func (in *TabInbox) Done() <-chan struct{} {
	return in.done
}

// Close disconnects the inbox.
func (in *TabInbox) Close() error {
	err := in.conn.Close(websocket.StatusNormalClosure, "inbox closed")
	in.cancel()
	<-in.done
	if err == nil || websocket.CloseStatus(err) != -1 {
		return nil
	}
	return err
}

// SubscribeViaOneShot registers a background listener for names with a
// createEventListener request and receives the forwarded events through
// inbox. Disposal removes the local listener and asks the background to
// drop its own, giving up after a short timeout.
func (m *Messenger) SubscribeViaOneShot(ctx context.Context, inbox Inbox, names []events.Name, onEvent func(Event)) (Disposer, error) {
	wanted := make(map[events.Name]struct{}, len(names))
	sub := message.Subscription{Events: make([]string, len(names))}
	for i, n := range names {
		wanted[n] = struct{}{}
		sub.Events[i] = string(n)
	}

	remove := inbox.AddListener(func(ev Event) {
		if _, ok := wanted[ev.Name]; ok {
			onEvent(ev)
		}
	})

	var created struct {
		ListenerID events.ListenerID `json:"listenerId"`
	}
	raw, err := m.Request(ctx, message.CreateEventListener, sub)
	if err == nil && raw != nil {
		err = jsoncodec.Unmarshal(raw, &created)
	}
	if err != nil {
		remove()
		return nil, err
	}

	return once(m.lifecycle, func() {
		remove()
		ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()
		if _, err := m.Request(ctx, message.RemoveListener, map[string]any{"listenerId": created.ListenerID}); err != nil {
			m.logger.Debug("failed to remove background listener", "listener_id", created.ListenerID, "error", err)
		}
	}), nil
}

// CreateTab announces a tab to the background, which answers with its id.
func (m *Messenger) CreateTab(ctx context.Context, url string, background bool) (browser.Tab, error) {
	var tab browser.Tab
	err := m.postJSON(ctx, "/api/tabs", map[string]any{"url": url, "inBackground": background}, &tab)
	if err != nil {
		return tab, fmt.Errorf("create tab: %w", err)
	}
	return tab, nil
}

// Tabs lists the tabs known to the background.
func (m *Messenger) Tabs(ctx context.Context) ([]browser.Tab, error) {
	var tabs []browser.Tab
	if err := m.get(ctx, "/api/tabs", &tabs); err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	return tabs, nil
}

// ForTab returns a messenger that sends as the top frame of tab.
func (m *Messenger) ForTab(tab browser.Tab) *Messenger {
	c := *m
	c.sender = message.Sender{TabID: tab.ID, URL: tab.URL}
	return &c
}
