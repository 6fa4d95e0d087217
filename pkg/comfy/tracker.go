package comfy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// EventType classifies a tracker event.
type EventType string

const (
	EventStatus      EventType = "status"
	EventStarted     EventType = "started"
	EventExecuting   EventType = "executing"
	EventProgress    EventType = "progress"
	EventExecuted    EventType = "executed"
	EventError       EventType = "error"
	EventInterrupted EventType = "interrupted"
)

// Event is a decoded websocket message from the engine.
type Event struct {
	Type     EventType
	PromptID string

	// QueueRemaining is set on status events.
	QueueRemaining int

	// NodeID is set on executing and executed events.
	NodeID string

	// Value and Max are set on progress events.
	Value int
	Max   int

	// Images is set on executed events.
	Images []ImageRef

	// Message is set on error events.
	Message string
}

// Tracker consumes the engine's websocket and turns its messages into
// typed events. When the socket breaks, the event channel is closed and
// the consumer falls back to polling alone.
type Tracker struct {
	conn   *websocket.Conn
	events chan Event
	logger *slog.Logger
}

// Track dials the websocket endpoint with the client's id and starts the
// read loop. Close the tracker (or cancel the context) to stop it.
func (c *Client) Track(ctx context.Context) (*Tracker, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws?clientId=" + url.QueryEscape(c.clientID)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t := &Tracker{
		conn:   conn,
		events: make(chan Event, 64),
		logger: c.logger,
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go t.readLoop()

	return t, nil
}

// Events returns the event channel. It is closed when the socket closes.
func (t *Tracker) Events() <-chan Event { return t.events }

// Close tears down the websocket connection.
func (t *Tracker) Close() error { return t.conn.Close() }

func (t *Tracker) readLoop() {
	defer close(t.events)
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			t.logger.Debug("progress socket closed", "error", err)
			return
		}
		if kind != websocket.TextMessage {
			// Binary frames carry preview images; the worker ignores them.
			continue
		}
		if ev, ok := decodeEvent(data); ok {
			select {
			case t.events <- ev:
			default:
				// Slow consumer: progress is advisory, drop the event.
			}
		}
	}
}

// wsMessage is the envelope of every websocket message.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decodeEvent(data []byte) (Event, bool) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false
	}

	switch msg.Type {
	case "status":
		var d struct {
			Status struct {
				ExecInfo struct {
					QueueRemaining int `json:"queue_remaining"`
				} `json:"exec_info"`
			} `json:"status"`
		}
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Event{}, false
		}
		return Event{Type: EventStatus, QueueRemaining: d.Status.ExecInfo.QueueRemaining}, true

	case "execution_start":
		var d struct {
			PromptID string `json:"prompt_id"`
		}
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Event{}, false
		}
		return Event{Type: EventStarted, PromptID: d.PromptID}, true

	case "executing":
		var d struct {
			Node     *string `json:"node"`
			PromptID string  `json:"prompt_id"`
		}
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Event{}, false
		}
		ev := Event{Type: EventExecuting, PromptID: d.PromptID}
		if d.Node != nil {
			ev.NodeID = *d.Node
		}
		return ev, true

	case "progress":
		var d struct {
			Value    int    `json:"value"`
			Max      int    `json:"max"`
			PromptID string `json:"prompt_id"`
			Node     string `json:"node"`
		}
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Event{}, false
		}
		return Event{Type: EventProgress, PromptID: d.PromptID, NodeID: d.Node, Value: d.Value, Max: d.Max}, true

	case "executed":
		var d struct {
			Node     string     `json:"node"`
			PromptID string     `json:"prompt_id"`
			Output   NodeOutput `json:"output"`
		}
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Event{}, false
		}
		return Event{Type: EventExecuted, PromptID: d.PromptID, NodeID: d.Node, Images: d.Output.Images}, true

	case "execution_error":
		var d struct {
			PromptID         string `json:"prompt_id"`
			Node             string `json:"node_id"`
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Event{}, false
		}
		msgText := d.ExceptionMessage
		if d.NodeType != "" {
			msgText = d.NodeType + ": " + msgText
		}
		return Event{Type: EventError, PromptID: d.PromptID, NodeID: d.Node, Message: msgText}, true

	case "execution_interrupted":
		var d struct {
			PromptID string `json:"prompt_id"`
		}
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Event{}, false
		}
		return Event{Type: EventInterrupted, PromptID: d.PromptID}, true
	}

	// execution_cached, crystools.monitor and friends are not interesting.
	return Event{}, false
}
