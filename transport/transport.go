// Package transport owns the single duplex realtime connection. It
// serializes outgoing commands, decodes incoming frames and republishes
// both onto the event bus under namespaced topics: "server.<type>" and
// "server.*" for inbound frames, "client.<type>" and "client.*" for
// outbound ones.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/datavox/datavox/emitter"
	"github.com/datavox/datavox/events"
	"github.com/datavox/datavox/internal/websocket"
)

var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrAlreadyConnected = errors.New("transport: already connected")
)

// Message is a single wire frame as published on the bus. Data is the
// full raw frame; Type is its decoded "type" field.
type Message struct {
	Type string
	Data []byte
}

// Bus is the event bus the transport publishes frames to.
type Bus = emitter.Emitter[Message]

// NewBus creates an event bus for wire frames.
func NewBus(opts ...emitter.Option[Message]) *Bus {
	return emitter.New(opts...)
}

type Config struct {
	URL         string
	Headers     http.Header
	DialTimeout time.Duration
	Logger      *slog.Logger
}

type Transport struct {
	config Config
	bus    *Bus
	logger *slog.Logger

	mu sync.Mutex
	ws *websocket.Client
}

func New(bus *Bus, config Config) *Transport {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		config: config,
		bus:    bus,
		logger: logger,
	}
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ws != nil
}

// Connect dials the realtime endpoint and starts the receive loop.
// Confirmation of the session arrives later as a server event; nothing
// is published synchronously on success.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.ws != nil {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.mu.Unlock()

	ws, err := websocket.Connect(ctx, websocket.ClientConfig{
		URL:         t.config.URL,
		Headers:     t.config.Headers,
		DialTimeout: t.config.DialTimeout,
		Logger:      t.logger,
		OnText:      t.receive,
	})
	if err != nil {
		return fmt.Errorf("transport: connect: %w", err)
	}

	t.mu.Lock()
	t.ws = ws
	t.mu.Unlock()

	// The connection ending, cleanly or not, clears the handle. There
	// is no automatic reconnection.
	go func() {
		<-ws.Done()
		t.mu.Lock()
		if t.ws == ws {
			t.ws = nil
		}
		t.mu.Unlock()
		t.logger.Debug("transport: connection closed")
	}()

	return nil
}

func (t *Transport) receive(data []byte) error {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("transport: decode frame: %w", err)
	}

	if envelope.Type == "error" {
		if evt, err := events.Parse[events.ErrorEvent](data); err == nil {
			t.logger.Error("transport: server error", slog.Any("err", evt))
		}
	}

	msg := Message{Type: envelope.Type, Data: data}
	t.bus.Emit("server."+envelope.Type, msg)
	t.bus.Emit("server.*", msg)
	return nil
}

// Send stamps payload with a fresh event id and the given type, mirrors
// the frame to local "client.*" observers, and writes it to the wire.
// Payload may be nil, a map, or any JSON-marshalable struct; an
// event_id or type already present in the payload is overwritten.
func (t *Transport) Send(eventType string, payload any) error {
	t.mu.Lock()
	ws := t.ws
	t.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	frame := map[string]any{}
	if payload != nil {
		raw, err := sonic.Marshal(payload)
		if err != nil {
			return fmt.Errorf("transport: marshal payload: %w", err)
		}
		if err := sonic.Unmarshal(raw, &frame); err != nil {
			return fmt.Errorf("transport: payload must be an object: %w", err)
		}
	}

	base := events.NewBaseEvent(eventType)
	frame["event_id"] = base.EventID
	frame["type"] = base.Type

	data, err := sonic.Marshal(frame)
	if err != nil {
		return fmt.Errorf("transport: marshal frame: %w", err)
	}

	msg := Message{Type: eventType, Data: data}
	t.bus.Emit("client."+eventType, msg)
	t.bus.Emit("client.*", msg)

	ws.WriteText(data)
	return nil
}

// Close shuts the wire connection down if open. Close-time errors are
// logged, not returned; the handle is always cleared.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	ws := t.ws
	t.ws = nil
	t.mu.Unlock()
	if ws == nil {
		return nil
	}
	if err := ws.Close(ctx); err != nil {
		t.logger.Warn("transport: close", slog.Any("err", err))
	}
	return nil
}
