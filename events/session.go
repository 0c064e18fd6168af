package events

import "github.com/datavox/datavox/tool"

// Session is the server's view of the session, echoed back on
// session.created / session.updated.
type Session struct {
	ID                      string              `json:"id,omitempty"`
	Object                  string              `json:"object,omitempty"`
	ExpiresAt               int64               `json:"expires_at,omitempty"`
	Model                   string              `json:"model,omitempty"`
	Modalities              []string            `json:"modalities,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string              `json:"output_audio_format,omitempty"`
	InputAudioTranscription *AudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty"`
	ToolChoice              string              `json:"tool_choice,omitempty"`
	Temperature             float64             `json:"temperature,omitempty"`
	MaxResponseOutputTokens any                 `json:"max_response_output_tokens,omitempty"`
	Tools                   []tool.Definition   `json:"tools,omitempty"`
}

// SessionConfig is the client-owned session configuration pushed to the
// server on session.update.
type SessionConfig struct {
	Modalities              []string            `json:"modalities,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	InputAudioFormat        AudioFormat         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       AudioFormat         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *AudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty"`
	Tools                   []tool.Definition   `json:"tools,omitempty"`
	ToolChoice              tool.Choice         `json:"tool_choice,omitempty"`
	Temperature             float64             `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                 `json:"max_response_output_tokens,omitempty"`
}

type AudioTranscription struct {
	Model string `json:"model"`
}

// TurnDetection holds the VAD configuration. A nil TurnDetection on the
// session config means manual turn taking: the client commits the input
// audio buffer explicitly before requesting a response.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response,omitempty"`
	InterruptResponse bool    `json:"interrupt_response,omitempty"`
}
