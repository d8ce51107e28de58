package message

import (
	"encoding/json"
	"fmt"

	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/jsoncodec"
)

// Routing markers carried in Message.HandlerName. An absent marker selects
// the legacy router.
const (
	HandlerLegacy = ""
	HandlerApp    = "app"
	HandlerEngine = "tsWebExtension"
)

// Message is a one-shot request. It is consumed by exactly one handler and
// never mutated after construction.
type Message struct {
	HandlerName string          `json:"handlerName,omitempty"`
	Type        Type            `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// New builds an app-routed message, encoding data as its payload.
func New(t Type, data any) (Message, error) {
	raw, err := jsoncodec.Raw(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Message{HandlerName: HandlerApp, Type: t, Data: raw}, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if jsoncodec.Empty(m.Data) {
		return nil
	}
	if err := jsoncodec.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// UnmarshalJSON accepts both wire shapes. Older pages put some arguments
// beside "data" rather than inside it (changeUserSetting's key and value,
// openFilteringLog's tabId, the content-script url fields); those keys are
// folded into Data so every handler reads its arguments from one place.
// Inside Data an explicit key wins over a sibling of the same name.
func (m *Message) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(b, &fields); err != nil {
		return err
	}

	var out Message
	if raw, ok := fields["handlerName"]; ok {
		if err := jsoncodec.Unmarshal(raw, &out.HandlerName); err != nil {
			return fmt.Errorf("handlerName: %w", err)
		}
	}
	if raw, ok := fields["type"]; ok {
		if err := jsoncodec.Unmarshal(raw, &out.Type); err != nil {
			return fmt.Errorf("type: %w", err)
		}
	}
	out.Data = fields["data"]
	delete(fields, "handlerName")
	delete(fields, "type")
	delete(fields, "data")

	if len(fields) > 0 {
		merged, err := fold(out.Data, fields)
		if err != nil {
			return err
		}
		out.Data = merged
	}

	*m = out
	return nil
}

// fold merges sibling fields into an object payload. A non-object payload
// is kept as is and the siblings are dropped.
func fold(data json.RawMessage, siblings map[string]json.RawMessage) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage, len(siblings))
	if !jsoncodec.Empty(data) {
		if err := jsoncodec.Unmarshal(data, &obj); err != nil {
			return data, nil
		}
	}
	for k, v := range siblings {
		if _, exists := obj[k]; !exists {
			obj[k] = v
		}
	}
	b, err := jsoncodec.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("fold legacy fields: %w", err)
	}
	return b, nil
}

// Sender describes the page that sent a one-shot message. The transport
// fills it in; it is never part of the envelope.
type Sender struct {
	TabID   int    `json:"tabId"`
	FrameID int    `json:"frameId"`
	URL     string `json:"url,omitempty"`
}

// HasTab reports whether the message came from a browser tab as opposed to
// an extension page.
func (s Sender) HasTab() bool {
	return s.TabID > 0
}

// Notification is pushed to a subscriber when a bus event fires. Data holds
// the event name followed by the publish arguments.
type Notification struct {
	Type Type  `json:"type"`
	Data []any `json:"data"`
}

// Notify builds the notifyListeners push for a bus event.
func Notify(name events.Name, args ...any) Notification {
	data := make([]any, 0, len(args)+1)
	data = append(data, string(name))
	data = append(data, args...)
	return Notification{Type: NotifyListeners, Data: data}
}

// Subscription is the payload of addLongLivedConnection and
// createEventListener.
type Subscription struct {
	Events []string `json:"events" validate:"required,min=1"`
}

// Control is a message sent over a long-lived connection.
type Control struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Reply is the body returned for a one-shot message. Data is absent when the
// handler produced no reply.
type Reply struct {
	Data json.RawMessage `json:"data,omitempty"`
}
