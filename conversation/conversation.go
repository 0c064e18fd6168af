// Package conversation implements the event-sourced reducer over the
// realtime server event stream. It incrementally assembles conversation
// items from heterogeneous, partially ordered events: lifecycle events,
// content deltas and speech boundary markers.
package conversation

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/datavox/datavox/events"
	"github.com/datavox/datavox/transport"
)

// ErrUnknownEvent marks a server event type without a handler. The
// reducer fails loudly on protocol drift instead of skipping events.
var ErrUnknownEvent = fmt.Errorf("conversation: unknown event type")

const DefaultSampleRate = 24_000

type handlerFunc func(c *Conversation, msg transport.Message, inputAudio []byte) (*Item, *Delta, error)

var handlers = map[string]handlerFunc{
	"conversation.item.created":                             (*Conversation).handleItemCreated,
	"conversation.item.truncated":                           (*Conversation).handleItemTruncated,
	"conversation.item.deleted":                             (*Conversation).handleItemDeleted,
	"conversation.item.input_audio_transcription.completed": (*Conversation).handleTranscriptionCompleted,
	"input_audio_buffer.speech_started":                     (*Conversation).handleSpeechStarted,
	"input_audio_buffer.speech_stopped":                     (*Conversation).handleSpeechStopped,
	"response.created":                                      (*Conversation).handleResponseCreated,
	"response.output_item.added":                            (*Conversation).handleOutputItemAdded,
	"response.output_item.done":                             (*Conversation).handleOutputItemDone,
	"response.content_part.added":                           (*Conversation).handleContentPartAdded,
	"response.audio_transcript.delta":                       (*Conversation).handleAudioTranscriptDelta,
	"response.audio_transcript.done":                        (*Conversation).handleAudioTranscriptDone,
	"response.audio.delta":                                  (*Conversation).handleAudioDelta,
	"response.audio.done":                                   (*Conversation).handleAudioDone,
	"response.text.delta":                                   (*Conversation).handleTextDelta,
	"response.function_call_arguments.delta":                (*Conversation).handleFunctionCallArgumentsDelta,
}

// Conversation owns all item state. It is safe for concurrent use; the
// receive loop is the single writer in practice, but callers may read
// items from other goroutines.
type Conversation struct {
	sampleRate int
	logger     *slog.Logger

	mu                sync.Mutex
	itemLookup        map[string]*Item
	items             []*Item
	responseLookup    map[string]*Response
	responses         []*Response
	pendingSpeech     map[string]*pendingSpeech
	pendingTranscript map[string]string
	queuedInputAudio  []byte
}

type Option func(*Conversation)

func WithSampleRate(rate int) Option {
	return func(c *Conversation) {
		c.sampleRate = rate
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) {
		c.logger = logger
	}
}

func New(opts ...Option) *Conversation {
	c := &Conversation{
		sampleRate: DefaultSampleRate,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reset()
	return c
}

// Clear drops all conversation state.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Conversation) reset() {
	c.itemLookup = map[string]*Item{}
	c.items = nil
	c.responseLookup = map[string]*Response{}
	c.responses = nil
	c.pendingSpeech = map[string]*pendingSpeech{}
	c.pendingTranscript = map[string]string{}
	c.queuedInputAudio = nil
}

// QueueInputAudio hands a committed input audio buffer to the
// conversation. The next user message item created claims it.
func (c *Conversation) QueueInputAudio(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queuedInputAudio = buf
}

// TakeQueuedInputAudio returns the queued buffer and clears the slot.
func (c *Conversation) TakeQueuedInputAudio() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.queuedInputAudio
	c.queuedInputAudio = nil
	return buf
}

// Item returns the item with the given id, if present.
func (c *Conversation) Item(id string) (*Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.itemLookup[id]
	return item, ok
}

// CopyItem returns a value snapshot of the item with the given id,
// taken under the lock. Content, audio chunk list and tool descriptor
// are copied so the snapshot stays stable while the receive loop keeps
// mutating the live item.
func (c *Conversation) CopyItem(id string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.itemLookup[id]
	if !ok {
		return Item{}, false
	}
	snap := *item
	snap.Content = append([]events.ContentPart(nil), item.Content...)
	snap.Formatted.Audio = append([][]byte(nil), item.Formatted.Audio...)
	if item.Formatted.Tool != nil {
		tool := *item.Formatted.Tool
		snap.Formatted.Tool = &tool
	}
	return snap, true
}

// Items returns a copy of the ordered item list.
func (c *Conversation) Items() []*Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Item(nil), c.items...)
}

// Process applies one server event. inputAudio is only consulted by
// input_audio_buffer.speech_stopped, which slices the rolling buffer
// into the utterance bounded by the recorded speech marks. The returned
// item is nil when the event carries no item-level update; the delta is
// non-nil only for fine-grained content updates.
func (c *Conversation) Process(msg transport.Message, inputAudio []byte) (*Item, *Delta, error) {
	h, ok := handlers[msg.Type]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Type)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return h(c, msg, inputAudio)
}

func (c *Conversation) handleItemCreated(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.ItemCreatedEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	if existing, ok := c.itemLookup[evt.Item.ID]; ok {
		return existing, nil, nil
	}

	item := newItem(evt.Item)
	c.itemLookup[item.ID] = item
	c.items = append(c.items, item)

	if speech, ok := c.pendingSpeech[item.ID]; ok {
		item.Formatted.Audio = speech.audio
		delete(c.pendingSpeech, item.ID)
	}
	for _, part := range item.Content {
		if part.Type == "text" || part.Type == "input_text" {
			item.Formatted.Text += part.Text
		}
	}
	if transcript, ok := c.pendingTranscript[item.ID]; ok {
		item.Formatted.Transcript = transcript
		delete(c.pendingTranscript, item.ID)
	}

	switch item.Type {
	case TypeMessage:
		if item.Role == RoleUser {
			item.Status = StatusCompleted
			// A completed user utterance is exactly the audio
			// collected since the last response.create.
			if c.queuedInputAudio != nil {
				item.Formatted.Audio = [][]byte{c.queuedInputAudio}
				c.queuedInputAudio = nil
			}
		} else {
			item.Status = StatusInProgress
		}
	case TypeFunctionCall:
		item.Formatted.Tool = &ToolCall{
			Type:      "function",
			Name:      item.Name,
			CallID:    item.CallID,
			Arguments: item.Arguments,
		}
		item.Status = StatusInProgress
	case TypeFunctionCallOutput:
		item.Status = StatusCompleted
		item.Formatted.Output = item.Output
	}
	return item, nil, nil
}

func (c *Conversation) handleItemTruncated(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.ItemTruncatedEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		c.logger.Warn("item.truncated: item not found", slog.String("item_id", evt.ItemID))
		return nil, nil, nil
	}
	endIndex := evt.AudioEndMS * c.sampleRate / 1000
	item.Formatted.Transcript = ""
	item.Formatted.Audio = truncateAudio(item.Formatted.Audio, endIndex)
	return item, nil, nil
}

// truncateAudio trims the chunk list to at most n leading bytes.
func truncateAudio(chunks [][]byte, n int) [][]byte {
	if n <= 0 {
		return nil
	}
	var out [][]byte
	remaining := n
	for _, chunk := range chunks {
		if remaining <= 0 {
			break
		}
		if len(chunk) > remaining {
			out = append(out, chunk[:remaining])
			break
		}
		out = append(out, chunk)
		remaining -= len(chunk)
	}
	return out
}

func (c *Conversation) handleItemDeleted(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.ItemDeletedEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		c.logger.Warn("item.deleted: item not found", slog.String("item_id", evt.ItemID))
		return nil, nil, nil
	}
	delete(c.itemLookup, item.ID)
	for i, x := range c.items {
		if x == item {
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	return item, nil, nil
}

func (c *Conversation) handleTranscriptionCompleted(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.InputAudioTranscriptionCompletedEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	formatted := evt.Transcript
	if formatted == "" {
		formatted = " "
	}
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		// Transcription can finish before the item exists; keep it for
		// creation-time merge.
		c.pendingTranscript[evt.ItemID] = formatted
		return nil, nil, nil
	}
	c.growContent(item, evt.ContentIndex, "input_audio")
	item.Content[evt.ContentIndex].Transcript = evt.Transcript
	item.Formatted.Transcript = formatted
	return item, &Delta{Transcript: evt.Transcript}, nil
}

func (c *Conversation) handleSpeechStarted(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.SpeechStartedEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	// The item does not exist yet; the boundary event always precedes
	// item creation in the protocol.
	c.pendingSpeech[evt.ItemID] = &pendingSpeech{audioStartMS: evt.AudioStartMS}
	return nil, nil, nil
}

func (c *Conversation) handleSpeechStopped(msg transport.Message, inputAudio []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.SpeechStoppedEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	speech, ok := c.pendingSpeech[evt.ItemID]
	if !ok {
		c.logger.Warn("speech_stopped: no speech_started recorded", slog.String("item_id", evt.ItemID))
		return nil, nil, nil
	}
	speech.audioEndMS = evt.AudioEndMS
	if len(inputAudio) > 0 {
		start := clamp(speech.audioStartMS*c.sampleRate/1000, 0, len(inputAudio))
		end := clamp(speech.audioEndMS*c.sampleRate/1000, start, len(inputAudio))
		speech.audio = [][]byte{inputAudio[start:end]}
	}
	if item, ok := c.itemLookup[evt.ItemID]; ok {
		item.Formatted.Audio = speech.audio
		delete(c.pendingSpeech, evt.ItemID)
	}
	return nil, nil, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (c *Conversation) handleResponseCreated(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.ResponseCreatedEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := c.responseLookup[evt.Response.ID]; !ok {
		response := &Response{ID: evt.Response.ID}
		c.responseLookup[response.ID] = response
		c.responses = append(c.responses, response)
	}
	return nil, nil, nil
}

func (c *Conversation) handleOutputItemAdded(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.OutputItemAddedEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	response, ok := c.responseLookup[evt.ResponseID]
	if !ok {
		c.logger.Warn("output_item.added: response not found", slog.String("response_id", evt.ResponseID))
		return nil, nil, nil
	}
	response.Output = append(response.Output, evt.Item.ID)
	return nil, nil, nil
}

func (c *Conversation) handleOutputItemDone(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.OutputItemDoneEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	if evt.Item.ID == "" {
		return nil, nil, fmt.Errorf("conversation: output_item.done: missing item")
	}
	item, ok := c.itemLookup[evt.Item.ID]
	if !ok {
		c.logger.Warn("output_item.done: item not found", slog.String("item_id", evt.Item.ID))
		return nil, nil, nil
	}
	item.Status = evt.Item.Status
	if item.Status == "" {
		item.Status = StatusCompleted
	}
	return item, nil, nil
}

func (c *Conversation) handleContentPartAdded(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.ContentPartAddedEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		c.logger.Warn("content_part.added: item not found", slog.String("item_id", evt.ItemID))
		return nil, nil, nil
	}
	item.Content = append(item.Content, evt.Part)
	return item, nil, nil
}

// growContent appends empty placeholder parts until index is
// addressable, so deltas addressing a not-yet-announced slot still
// land in the right place.
func (c *Conversation) growContent(item *Item, index int, partType string) {
	for len(item.Content) <= index {
		item.Content = append(item.Content, events.ContentPart{Type: partType})
	}
}

func (c *Conversation) handleAudioTranscriptDelta(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.AudioTranscriptDeltaEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		c.logger.Warn("audio_transcript.delta: item not found", slog.String("item_id", evt.ItemID))
		return nil, nil, nil
	}
	c.growContent(item, evt.ContentIndex, "audio_transcript")
	item.Content[evt.ContentIndex].Transcript += evt.Delta
	item.Formatted.Transcript += evt.Delta
	return item, &Delta{Transcript: evt.Delta}, nil
}

func (c *Conversation) handleAudioDelta(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.AudioDeltaEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		c.logger.Debug("audio.delta: item not found, delta dropped", slog.String("item_id", evt.ItemID))
		return nil, nil, nil
	}
	chunk, err := base64.StdEncoding.DecodeString(evt.Delta)
	if err != nil {
		return nil, nil, fmt.Errorf("conversation: audio.delta decode: %w", err)
	}
	item.Formatted.Audio = append(item.Formatted.Audio, chunk)
	return item, &Delta{Audio: chunk}, nil
}

// handleAudioDone closes out an item's audio stream. No content
// changes; the item is surfaced once more so consumers see the fully
// assembled audio.
func (c *Conversation) handleAudioDone(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.AudioDoneEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		c.logger.Debug("audio.done: item not found", slog.String("item_id", evt.ItemID))
		return nil, nil, nil
	}
	return item, nil, nil
}

// handleAudioTranscriptDone replaces the accumulated transcript with
// the server's authoritative final text.
func (c *Conversation) handleAudioTranscriptDone(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.AudioTranscriptDoneEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		c.logger.Warn("audio_transcript.done: item not found", slog.String("item_id", evt.ItemID))
		return nil, nil, nil
	}
	c.growContent(item, evt.ContentIndex, "audio_transcript")
	item.Content[evt.ContentIndex].Transcript = evt.Transcript
	item.Formatted.Transcript = evt.Transcript
	return item, nil, nil
}

func (c *Conversation) handleTextDelta(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.TextDeltaEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		c.logger.Warn("text.delta: item not found", slog.String("item_id", evt.ItemID))
		return nil, nil, nil
	}
	c.growContent(item, evt.ContentIndex, "text")
	item.Content[evt.ContentIndex].Text += evt.Delta
	item.Formatted.Text += evt.Delta
	return item, &Delta{Text: evt.Delta}, nil
}

func (c *Conversation) handleFunctionCallArgumentsDelta(msg transport.Message, _ []byte) (*Item, *Delta, error) {
	evt, err := events.Parse[events.FunctionCallArgumentsDeltaEvent](msg.Data)
	if err != nil {
		return nil, nil, err
	}
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		c.logger.Warn("function_call_arguments.delta: item not found", slog.String("item_id", evt.ItemID))
		return nil, nil, nil
	}
	item.Arguments += evt.Delta
	if item.Formatted.Tool == nil {
		item.Formatted.Tool = &ToolCall{Type: "function", Name: item.Name, CallID: item.CallID}
	}
	item.Formatted.Tool.Arguments += evt.Delta
	return item, &Delta{Arguments: evt.Delta}, nil
}
