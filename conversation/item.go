package conversation

import "github.com/datavox/datavox/events"

// Item statuses and types as they appear on the wire.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"

	TypeMessage            = "message"
	TypeFunctionCall       = "function_call"
	TypeFunctionCallOutput = "function_call_output"

	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Item is one unit of conversation content: a user or assistant
// message, a function call, or a function call's output. Streamed
// deltas are merged into Content and mirrored into Formatted.
type Item struct {
	ID        string
	Type      string
	Role      string
	Status    string
	Content   []events.ContentPart
	CallID    string
	Name      string
	Arguments string
	Output    string
	Formatted Formatted
}

// Formatted is the denormalized projection of an item's raw content:
// concatenated text and transcript, assembled audio chunks and, for
// function calls, the tool descriptor with its accumulating argument
// string.
type Formatted struct {
	Text       string
	Transcript string
	Audio      [][]byte
	Tool       *ToolCall
	Output     string
}

type ToolCall struct {
	Type      string
	Name      string
	CallID    string
	Arguments string
}

// Delta is the incremental fragment a single event contributed to an
// item, for consumers that want fine-grained updates instead of the
// whole item.
type Delta struct {
	Text       string
	Transcript string
	Audio      []byte
	Arguments  string
}

// Response tracks a server-side generation by id and the ids of the
// items it produced.
type Response struct {
	ID     string
	Output []string
}

type pendingSpeech struct {
	audioStartMS int
	audioEndMS   int
	audio        [][]byte
}

func newItem(wire events.Item) *Item {
	return &Item{
		ID:        wire.ID,
		Type:      wire.Type,
		Role:      wire.Role,
		Status:    wire.Status,
		Content:   append([]events.ContentPart(nil), wire.Content...),
		CallID:    wire.CallID,
		Name:      wire.Name,
		Arguments: wire.Arguments,
		Output:    wire.Output,
	}
}
