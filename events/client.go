package events

type SessionUpdateEvent struct {
	BaseEvent
	Session SessionConfig `json:"session"`
}

type ConversationItemCreateEvent struct {
	BaseEvent
	Item Item `json:"item"`
}

type ConversationItemDeleteEvent struct {
	BaseEvent
	ItemID string `json:"item_id"`
}

type ConversationItemTruncateEvent struct {
	BaseEvent
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

type InputAudioBufferAppendEvent struct {
	BaseEvent
	Audio string `json:"audio"`
}

type InputAudioBufferCommitEvent struct {
	BaseEvent
}

type ResponseCreateEvent struct {
	BaseEvent
	Response *ResponseCreatePayload `json:"response,omitempty"`
}

type ResponseCreatePayload struct {
	Modalities        []string    `json:"modalities,omitempty"`
	Instructions      string      `json:"instructions,omitempty"`
	Voice             string      `json:"voice,omitempty"`
	OutputAudioFormat AudioFormat `json:"output_audio_format,omitempty"`
	Temperature       float64     `json:"temperature,omitempty"`
	MaxOutputTokens   int         `json:"max_output_tokens,omitempty"`
}

type ResponseCancelEvent struct {
	BaseEvent
	ResponseID string `json:"response_id,omitempty"`
}
