// Package datavox is the session orchestrator for a realtime
// voice/text assistant. It owns the session configuration and tool
// registry, bridges the wire transport and the conversation state
// machine, and round-trips completed function calls through their
// registered handlers.
package datavox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/datavox/datavox/audio"
	"github.com/datavox/datavox/conversation"
	"github.com/datavox/datavox/convlog"
	"github.com/datavox/datavox/emitter"
	"github.com/datavox/datavox/events"
	"github.com/datavox/datavox/tool"
	"github.com/datavox/datavox/transport"
)

// Initialized lazily so the caller can configure the global tracer
// provider first.
var tracer = otel.Tracer("github.com/datavox/datavox")

// Event is what the client publishes to its outward-facing bus:
// raw frames on "realtime.event", item updates on the
// "conversation.*" topics.
type Event struct {
	// Source is "client" or "server" for realtime.event.
	Source  string
	Message *transport.Message
	Item    *conversation.Item
	Delta   *conversation.Delta
}

// Transport is the duplex connection the client drives. Implemented by
// transport.Transport.
type Transport interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Send(eventType string, payload any) error
	Connected() bool
}

type registeredTool struct {
	registration tool.Registration
	schema       *jsonschema.Schema
}

type Client struct {
	config       *clientConfig
	logger       *slog.Logger
	bus          *emitter.Emitter[Event]
	wire         *transport.Bus
	api          Transport
	conversation *conversation.Conversation
	convlog      *convlog.Logger

	audioIO   *audio.IO
	audioOnce sync.Once
	audioOn   atomic.Bool

	mu             sync.Mutex
	session        events.SessionConfig
	remoteSession  events.Session
	tools          map[string]*registeredTool
	inputAudio     []byte
	sessionCreated bool
}

func New(opts ...Option) (*Client, error) {
	config := &clientConfig{}
	withDefaults()(config)
	WithOptions(opts...)(config)

	wire := emitter.New(emitter.WithLogger[transport.Message](config.logger))

	headers := http.Header{}
	headers.Add("Authorization", fmt.Sprintf("Bearer %s", config.apiKey))
	headers.Add("OpenAI-Beta", "realtime=v1")

	c := &Client{
		config: config,
		logger: config.logger,
		bus:    emitter.New(emitter.WithLogger[Event](config.logger)),
		wire:   wire,
		api: transport.New(wire, transport.Config{
			URL:     fmt.Sprintf("%s?model=%s", config.url, config.model),
			Headers: headers,
			Logger:  config.logger,
		}),
		conversation: conversation.New(
			conversation.WithSampleRate(config.sampleRate),
			conversation.WithLogger(config.logger),
		),
		audioIO: audio.NewIO(config.userRate, config.sampleRate, config.audioLatency),
	}

	if config.logPath != "" {
		log, err := convlog.New(config.logPath, config.logger)
		if err != nil {
			return nil, fmt.Errorf("conversation log: %w", err)
		}
		c.convlog = log
	}

	c.resetState()
	c.wireHandlers()
	return c, nil
}

func (c *Client) resetState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = c.config.sessionDefaults()
	c.remoteSession = events.Session{}
	c.tools = map[string]*registeredTool{}
	c.inputAudio = nil
	c.sessionCreated = false
}

func (c *Client) wireHandlers() {
	c.wire.On("client.*", func(msg transport.Message) { c.emitRealtime("client", msg) })
	c.wire.On("server.*", func(msg transport.Message) { c.emitRealtime("server", msg) })

	c.wire.On("server.session.created", func(msg transport.Message) {
		evt, err := events.Parse[events.SessionCreatedEvent](msg.Data)
		if err != nil {
			c.logger.Error("session.created decode failed", slog.Any("err", err))
			return
		}
		c.mu.Lock()
		c.sessionCreated = true
		c.remoteSession = evt.Session
		c.mu.Unlock()
	})
	c.wire.On("server.session.updated", func(msg transport.Message) {
		evt, err := events.Parse[events.SessionUpdatedEvent](msg.Data)
		if err != nil {
			c.logger.Error("session.updated decode failed", slog.Any("err", err))
			return
		}
		c.mu.Lock()
		c.remoteSession = evt.Session
		c.mu.Unlock()
	})

	// Events the reducer consumes directly.
	for _, topic := range []string{
		"server.response.created",
		"server.response.output_item.added",
		"server.response.content_part.added",
		"server.conversation.item.truncated",
		"server.conversation.item.deleted",
		"server.conversation.item.input_audio_transcription.completed",
		"server.response.audio_transcript.delta",
		"server.response.audio_transcript.done",
		"server.response.audio.done",
		"server.response.text.delta",
		"server.response.function_call_arguments.delta",
	} {
		c.wire.On(topic, func(msg transport.Message) {
			c.processConversationEvent(msg, nil)
		})
	}

	c.wire.On("server.response.audio.delta", c.onAudioDelta)
	c.wire.On("server.input_audio_buffer.speech_started", c.onSpeechStarted)
	c.wire.On("server.input_audio_buffer.speech_stopped", c.onSpeechStopped)
	c.wire.On("server.conversation.item.created", c.onItemCreated)
	// Tool dispatch can await handlers; keep it off the receive path.
	c.wire.OnAsync("server.response.output_item.done", c.onOutputItemDone)
}

func (c *Client) emitRealtime(source string, msg transport.Message) {
	c.bus.Emit("realtime.event", Event{Source: source, Message: &msg})
}

// processConversationEvent runs one server event through the reducer
// and propagates the item-level update. Reducer errors (protocol
// violations) are logged here, the outer boundary; they do not stop
// the session.
func (c *Client) processConversationEvent(msg transport.Message, inputAudio []byte) (*conversation.Item, *conversation.Delta) {
	item, delta, err := c.conversation.Process(msg, inputAudio)
	if err != nil {
		c.logger.Error("conversation event failed",
			slog.String("type", msg.Type),
			slog.Any("err", err),
		)
		return nil, nil
	}
	if item != nil {
		c.bus.Emit("conversation.updated", Event{Item: item, Delta: delta})
	}
	return item, delta
}

func (c *Client) onAudioDelta(msg transport.Message) {
	_, delta := c.processConversationEvent(msg, nil)
	if delta == nil || len(delta.Audio) == 0 || !c.audioOn.Load() {
		return
	}
	if _, err := c.audioIO.SessionWriter.Write(delta.Audio); err != nil {
		c.logger.Error("playback write failed", slog.Any("err", err))
	}
}

func (c *Client) onSpeechStarted(msg transport.Message) {
	c.processConversationEvent(msg, nil)
	// Playback should stop immediately when the user starts talking.
	if c.audioOn.Load() {
		c.audioIO.ClearPlayback()
	}
	c.bus.Emit("conversation.interrupted", Event{Message: &msg})
}

func (c *Client) onSpeechStopped(msg transport.Message) {
	c.mu.Lock()
	buf := append([]byte(nil), c.inputAudio...)
	c.mu.Unlock()
	c.processConversationEvent(msg, buf)
}

func (c *Client) onItemCreated(msg transport.Message) {
	item, _ := c.processConversationEvent(msg, nil)
	if item == nil {
		return
	}
	c.bus.Emit("conversation.item.appended", Event{Item: item})
	if item.Status == conversation.StatusCompleted {
		c.bus.Emit("conversation.item.completed", Event{Item: item})
	}
}

func (c *Client) onOutputItemDone(msg transport.Message) {
	item, _ := c.processConversationEvent(msg, nil)
	if item == nil {
		return
	}
	// This handler runs off the receive loop; read a locked snapshot
	// rather than the live item the reducer keeps mutating.
	snap, ok := c.conversation.CopyItem(item.ID)
	if !ok {
		return
	}
	if snap.Status == conversation.StatusCompleted {
		c.bus.Emit("conversation.item.completed", Event{Item: &snap})
		if snap.Type == conversation.TypeMessage && snap.Role == conversation.RoleAssistant {
			c.convlog.Append(convlog.EventAssistantMessageCompleted, map[string]any{
				"message_id": snap.ID,
				"content":    snap.Content,
			})
		}
	}
	if snap.Formatted.Tool != nil {
		c.dispatchTool(context.Background(), snap.Formatted.Tool)
	}
}

// --- session lifecycle ---

func (c *Client) Connected() bool {
	return c.api.Connected()
}

// Connect opens the transport and pushes the current session
// configuration. Use WaitForSessionCreated to block until the server
// confirms the session.
func (c *Client) Connect(ctx context.Context) error {
	if c.Connected() {
		return newSessionError("already connected, call Disconnect first")
	}
	if err := c.api.Connect(ctx); err != nil {
		return err
	}
	return c.UpdateSession()
}

// WaitForSessionCreated spins cooperatively until the server has
// confirmed session creation or ctx expires.
func (c *Client) WaitForSessionCreated(ctx context.Context) error {
	if !c.Connected() {
		return newSessionError("not connected, call Connect first")
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		created := c.sessionCreated
		c.mu.Unlock()
		if created {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.sessionCreated = false
	c.mu.Unlock()
	c.conversation.Clear()
	if !c.api.Connected() {
		return nil
	}
	return c.api.Close(ctx)
}

// Reset returns the client to its initial state: disconnected, default
// configuration, empty tool registry, fresh handler wiring.
func (c *Client) Reset(ctx context.Context) error {
	err := c.Disconnect(ctx)
	c.wire.Clear()
	c.bus.Clear()
	c.resetState()
	c.wireHandlers()
	return err
}

// On registers an outward-facing event handler (topics:
// realtime.event, conversation.updated, conversation.item.appended,
// conversation.item.completed, conversation.interrupted).
func (c *Client) On(topic string, h func(Event)) {
	c.bus.On(topic, h)
}

// OnAsync is On with the handler scheduled on its own goroutine.
func (c *Client) OnAsync(topic string, h func(Event)) {
	c.bus.OnAsync(topic, h)
}

// Conversation exposes the conversation state for read access.
func (c *Client) Conversation() *conversation.Conversation {
	return c.conversation
}

// ServerSession returns the server's last echoed view of the session,
// as received on session.created / session.updated.
func (c *Client) ServerSession() events.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSession
}

// TurnDetectionType returns the configured turn detection type, or ""
// for manual turn taking.
func (c *Client) TurnDetectionType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.TurnDetection == nil {
		return ""
	}
	return c.session.TurnDetection.Type
}

// --- tools ---

// AddTool registers a tool and re-advertises the tool list to the
// server. Registering a name twice fails; remove it first.
func (c *Client) AddTool(def tool.Definition, handler tool.Handler) error {
	if def.Name == "" {
		return newToolRegistrationError("missing tool name in definition")
	}
	if handler == nil {
		return newToolRegistrationError("tool %q requires a handler", def.Name)
	}

	schemaData, err := json.Marshal(def.Parameters)
	if err != nil {
		return newToolRegistrationError("tool %q parameters not serializable: %v", def.Name, err)
	}
	schema, err := jsonschema.NewCompiler().Compile(schemaData)
	if err != nil {
		return newToolRegistrationError("tool %q has an invalid parameter schema: %v", def.Name, err)
	}

	c.mu.Lock()
	if _, exists := c.tools[def.Name]; exists {
		c.mu.Unlock()
		return newToolRegistrationError("tool %q already added, remove it before adding again", def.Name)
	}
	c.tools[def.Name] = &registeredTool{
		registration: tool.Registration{Definition: def, Handler: handler},
		schema:       schema,
	}
	c.mu.Unlock()

	return c.UpdateSession()
}

func (c *Client) RemoveTool(name string) error {
	c.mu.Lock()
	if _, exists := c.tools[name]; !exists {
		c.mu.Unlock()
		return newToolRegistrationError("tool %q does not exist, cannot remove", name)
	}
	delete(c.tools, name)
	c.mu.Unlock()

	return c.UpdateSession()
}

// UpdateSession merges overrides into the session configuration,
// recomputes the advertised tool list and, when connected, pushes the
// result to the server.
func (c *Client) UpdateSession(opts ...SessionOption) error {
	c.mu.Lock()
	for _, opt := range opts {
		opt(&c.session)
	}
	payload := c.session
	payload.Tools = c.advertisedToolsLocked()
	c.mu.Unlock()

	if !c.api.Connected() {
		return nil
	}
	return c.api.Send("session.update", events.SessionUpdateEvent{Session: payload})
}

func (c *Client) advertisedToolsLocked() []tool.Definition {
	advertised := make([]tool.Definition, 0, len(c.session.Tools)+len(c.tools))
	for _, def := range c.session.Tools {
		def.Type = "function"
		advertised = append(advertised, def)
	}
	for _, entry := range c.tools {
		def := entry.registration.Definition
		def.Type = "function"
		advertised = append(advertised, def)
	}
	return advertised
}

// --- user content and responses ---

// TextContent builds an input_text content part.
func TextContent(text string) events.ContentPart {
	return events.ContentPart{Type: "input_text", Text: text}
}

// AudioContent builds an input_audio content part from raw pcm16
// bytes, encoding them for the wire.
func AudioContent(pcm []byte) events.ContentPart {
	return events.ContentPart{Type: "input_audio", Audio: audio.EncodeBase64PCM16(pcm)}
}

// SendUserContent creates a user message item from the given parts and
// requests a response.
func (c *Client) SendUserContent(parts ...events.ContentPart) error {
	if len(parts) > 0 {
		c.convlog.Append(convlog.EventUserMessageSent, map[string]any{"content": parts})
		err := c.api.Send("conversation.item.create", events.ConversationItemCreateEvent{
			Item: events.Item{
				Type:    conversation.TypeMessage,
				Role:    conversation.RoleUser,
				Content: parts,
			},
		})
		if err != nil {
			return err
		}
	}
	return c.CreateResponse()
}

// Audio returns the session's audio endpoints: a playback reader
// emitting model audio in fixed chunks at the user sample rate, and a
// microphone writer accepting raw pcm16 user audio. The first call
// starts the bridge: incoming audio deltas feed the playback side and
// a pump goroutine streams written microphone audio to the server.
func (c *Client) Audio() (playback io.Reader, microphone io.Writer) {
	c.audioOnce.Do(func() {
		c.audioOn.Store(true)
		go c.pumpInputAudio()
	})
	return c.audioIO.UserReader, c.audioIO.UserWriter
}

func (c *Client) pumpInputAudio() {
	buf := make([]byte, audio.ChunkSize(c.config.sampleRate, c.config.audioLatency, audio.BytesPerSample, 1))
	for {
		n, err := c.audioIO.SessionReader.Read(buf)
		if err != nil {
			c.logger.Error("input audio pump stopped", slog.Any("err", err))
			return
		}
		// Microphone audio written before the session is up is dropped.
		if !c.Connected() {
			continue
		}
		if err := c.AppendInputAudio(buf[:n]); err != nil {
			c.logger.Warn("input audio append failed", slog.Any("err", err))
		}
	}
}

// AppendInputAudio streams a chunk of raw pcm16 input audio to the
// server and keeps a local copy for later utterance slicing.
func (c *Client) AppendInputAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	err := c.api.Send("input_audio_buffer.append", events.InputAudioBufferAppendEvent{
		Audio: audio.EncodeBase64PCM16(pcm),
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.inputAudio = append(c.inputAudio, pcm...)
	c.mu.Unlock()
	return nil
}

// CreateResponse requests a model response. With manual turn taking
// and a non-empty rolling buffer, the buffer is committed first and
// its ownership handed to the conversation so the next user item can
// claim it.
func (c *Client) CreateResponse() error {
	c.mu.Lock()
	manual := c.session.TurnDetection == nil
	buf := c.inputAudio
	if manual && len(buf) > 0 {
		c.inputAudio = nil
	}
	c.mu.Unlock()

	if manual && len(buf) > 0 {
		if err := c.api.Send("input_audio_buffer.commit", events.InputAudioBufferCommitEvent{}); err != nil {
			return err
		}
		c.conversation.QueueInputAudio(buf)
	}
	return c.api.Send("response.create", events.ResponseCreateEvent{})
}

// CreateResponseWithPayload is CreateResponse with per-response
// overrides for modalities, instructions or the output format.
func (c *Client) CreateResponseWithPayload(payload events.ResponseCreatePayload) error {
	return c.api.Send("response.create", events.ResponseCreateEvent{Response: &payload})
}

// CancelResponse cancels the in-flight response. With an item id, the
// target assistant message's audio is additionally truncated to
// sampleCount samples.
func (c *Client) CancelResponse(itemID string, sampleCount int) error {
	if itemID == "" {
		return c.api.Send("response.cancel", events.ResponseCancelEvent{})
	}

	item, ok := c.conversation.Item(itemID)
	if !ok {
		return newSessionError("could not find item %q", itemID)
	}
	if item.Type != conversation.TypeMessage {
		return newSessionError("can only cancel response for %q items", conversation.TypeMessage)
	}
	if item.Role != conversation.RoleAssistant {
		return newSessionError("can only cancel response for %q messages", conversation.RoleAssistant)
	}

	if err := c.api.Send("response.cancel", events.ResponseCancelEvent{}); err != nil {
		return err
	}

	audioIndex := -1
	for i, part := range item.Content {
		if part.Type == "audio" {
			audioIndex = i
			break
		}
	}
	if audioIndex == -1 {
		c.logger.Warn("cancel: no audio content on item, truncate skipped",
			slog.String("item_id", itemID))
		return nil
	}

	return c.api.Send("conversation.item.truncate", events.ConversationItemTruncateEvent{
		ItemID:       itemID,
		ContentIndex: audioIndex,
		AudioEndMS:   audio.SamplesToMilliseconds(sampleCount, c.config.sampleRate),
	})
}

// DeleteItem asks the server to delete a conversation item.
func (c *Client) DeleteItem(itemID string) error {
	return c.api.Send("conversation.item.delete", events.ConversationItemDeleteEvent{ItemID: itemID})
}

// CreateConversationItem sends an explicit item creation request.
func (c *Client) CreateConversationItem(item events.Item) error {
	return c.api.Send("conversation.item.create", events.ConversationItemCreateEvent{Item: item})
}

// WaitForNextItem blocks until the next item is appended to the
// conversation.
func (c *Client) WaitForNextItem(ctx context.Context) (*conversation.Item, error) {
	evt, err := c.bus.WaitFor(ctx, "conversation.item.appended")
	if err != nil {
		return nil, err
	}
	return evt.Item, nil
}

// WaitForNextCompletedItem blocks until the next item completes.
func (c *Client) WaitForNextCompletedItem(ctx context.Context) (*conversation.Item, error) {
	evt, err := c.bus.WaitFor(ctx, "conversation.item.completed")
	if err != nil {
		return nil, err
	}
	return evt.Item, nil
}

// --- tool dispatch ---

func (c *Client) lookupTool(name string) (*registeredTool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.tools[name]
	return entry, ok
}

// dispatchTool bridges a completed function call item to its handler
// and round-trips the result as a function_call_output item. Handler
// failures are reported back to the model so it can narrate them; only
// malformed arguments skip the follow-up response request, letting the
// model retry the call instead.
func (c *Client) dispatchTool(ctx context.Context, call *conversation.ToolCall) {
	args := call.Arguments
	if args == "" {
		args = "{}"
	}

	c.convlog.Append(convlog.EventToolCallStarted, map[string]any{
		"call_id":   call.CallID,
		"tool_name": call.Name,
		"arguments": args,
	})

	var parsed map[string]any
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		c.logger.Error("tool call has malformed arguments",
			slog.String("tool", call.Name),
			slog.Any("err", err),
		)
		c.convlog.Append(convlog.EventToolCallEnded, map[string]any{
			"call_id":       call.CallID,
			"tool_name":     call.Name,
			"error":         fmt.Sprintf("invalid JSON in tool arguments: %v", err),
			"raw_arguments": args,
		})
		c.sendToolOutput(call.CallID, map[string]any{
			"error": "Invalid JSON arguments received from model.",
		})
		return
	}

	result, err := c.executeTool(ctx, call, args, parsed)
	if err != nil {
		c.logger.Error("tool call failed",
			slog.String("tool", call.Name),
			slog.Any("err", err),
		)
		c.convlog.Append(convlog.EventToolCallEnded, map[string]any{
			"call_id":   call.CallID,
			"tool_name": call.Name,
			"error":     err.Error(),
		})
		c.sendToolOutput(call.CallID, map[string]any{"error": err.Error()})
	} else {
		if result == nil {
			result = map[string]any{"success": true}
		}
		c.convlog.Append(convlog.EventToolCallEnded, map[string]any{
			"call_id":   call.CallID,
			"tool_name": call.Name,
			"result":    result,
		})
		c.sendToolOutput(call.CallID, result)
	}

	// The model reacts to the tool result, success or failure, in a
	// fresh response.
	if err := c.CreateResponse(); err != nil {
		c.logger.Error("response request after tool call failed", slog.Any("err", err))
	}
}

func (c *Client) executeTool(ctx context.Context, call *conversation.ToolCall, rawArgs string, parsed map[string]any) (any, error) {
	entry, ok := c.lookupTool(call.Name)
	if !ok {
		return nil, newToolDispatchError(nil, "tool %q has not been added", call.Name)
	}

	if result := entry.schema.ValidateJSON([]byte(rawArgs)); !result.IsValid() {
		return nil, newToolDispatchError(nil, "tool %q arguments rejected by schema: %v", call.Name, result.Errors)
	}

	var span trace.Span
	ctx, span = tracer.Start(ctx, "realtime.tool")
	defer span.End()
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "execute_tool"),
		attribute.String("gen_ai.tool.call.id", call.CallID),
		attribute.String("gen_ai.tool.name", call.Name),
		attribute.String("gen_ai.tool.type", "function"),
	)

	result, err := entry.registration.Handler(ctx, parsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

// sendToolOutput ships a function_call_output item. Send failures are
// logged, not propagated: a tool finishing after disconnect must not
// crash anything.
func (c *Client) sendToolOutput(callID string, output any) {
	text, ok := output.(string)
	if !ok {
		data, err := json.Marshal(output)
		if err != nil {
			c.logger.Error("tool output not serializable", slog.Any("err", err))
			return
		}
		text = string(data)
	}
	err := c.api.Send("conversation.item.create", events.ConversationItemCreateEvent{
		Item: events.Item{
			Type:   conversation.TypeFunctionCallOutput,
			CallID: callID,
			Output: text,
		},
	})
	if err != nil {
		c.logger.Error("tool output send failed", slog.Any("err", err))
	}
}
