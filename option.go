package datavox

import (
	"log/slog"
	"os"
	"time"

	"github.com/datavox/datavox/events"
	"github.com/datavox/datavox/tool"
)

const (
	ApiKeyEnvVarName = "OPENAI_API_KEY"

	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2024-10-01"
)

type clientConfig struct {
	url          string
	model        string
	apiKey       string
	instructions string
	voice        string
	temperature  float64
	maxTokens    int
	sampleRate   int
	userRate     int
	audioLatency time.Duration
	logPath      string
	logger       *slog.Logger
	tools        []tool.Definition
}

func (c *clientConfig) sessionDefaults() events.SessionConfig {
	return events.SessionConfig{
		Modalities:              []string{"text", "audio"},
		Instructions:            c.instructions,
		Voice:                   c.voice,
		InputAudioFormat:        events.AudioFormatPCM16,
		OutputAudioFormat:       events.AudioFormatPCM16,
		InputAudioTranscription: &events.AudioTranscription{Model: "whisper-1"},
		TurnDetection:           &events.TurnDetection{Type: "server_vad"},
		Tools:                   c.tools,
		ToolChoice:              tool.ChoiceAuto,
		Temperature:             c.temperature,
		MaxResponseOutputTokens: c.maxTokens,
	}
}

type Option func(*clientConfig)

func WithURL(url string) Option {
	return func(c *clientConfig) {
		c.url = url
	}
}

func WithModel(model string) Option {
	return func(c *clientConfig) {
		c.model = model
	}
}

func WithKey(apiKey string) Option {
	return func(c *clientConfig) {
		c.apiKey = apiKey
	}
}

func WithEnvKey(vars ...string) Option {
	return func(c *clientConfig) {
		for _, name := range vars {
			if k := os.Getenv(name); k != "" {
				c.apiKey = k
				return
			}
		}
	}
}

func WithInstructions(instructions string) Option {
	return func(c *clientConfig) {
		c.instructions = instructions
	}
}

func WithVoice(voice string) Option {
	return func(c *clientConfig) {
		c.voice = voice
	}
}

func WithTemperature(temperature float64) Option {
	return func(c *clientConfig) {
		c.temperature = temperature
	}
}

func WithMaxResponseOutputTokens(n int) Option {
	return func(c *clientConfig) {
		c.maxTokens = n
	}
}

// WithSampleRate sets the wire sample rate used for utterance slicing
// and truncation math.
func WithSampleRate(rate int) Option {
	return func(c *clientConfig) {
		c.sampleRate = rate
	}
}

// WithUserSampleRate sets the sample rate of the user's audio device.
// The audio bridge resamples between this and the wire rate.
func WithUserSampleRate(rate int) Option {
	return func(c *clientConfig) {
		c.userRate = rate
	}
}

// WithAudioLatency sets the chunk duration of the audio bridge.
func WithAudioLatency(d time.Duration) Option {
	return func(c *clientConfig) {
		c.audioLatency = d
	}
}

// WithConversationLog enables the append-only JSONL conversation log
// at the given path.
func WithConversationLog(path string) Option {
	return func(c *clientConfig) {
		c.logPath = path
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithTools sets session-level static tool definitions advertised in
// addition to dynamically registered ones. These have no local handler;
// the model is expected to receive their outputs some other way.
func WithTools(tools ...tool.Definition) Option {
	return func(c *clientConfig) {
		c.tools = tools
	}
}

func WithOptions(opts ...Option) Option {
	return func(c *clientConfig) {
		for _, opt := range opts {
			opt(c)
		}
	}
}

func withDefaults() Option {
	return WithOptions(
		WithURL(DefaultURL),
		WithModel(DefaultModel),
		WithInstructions("You are a helpful assistant."),
		WithVoice("shimmer"),
		WithTemperature(0.8),
		WithMaxResponseOutputTokens(4096),
		WithSampleRate(24_000),
		WithUserSampleRate(24_000),
		WithAudioLatency(100*time.Millisecond),
		WithLogger(slog.Default()),
		WithEnvKey(ApiKeyEnvVarName),
	)
}

// SessionOption mutates the session configuration in UpdateSession.
type SessionOption func(*events.SessionConfig)

func SessionInstructions(instructions string) SessionOption {
	return func(s *events.SessionConfig) {
		s.Instructions = instructions
	}
}

func SessionVoice(voice string) SessionOption {
	return func(s *events.SessionConfig) {
		s.Voice = voice
	}
}

func SessionModalities(modalities ...string) SessionOption {
	return func(s *events.SessionConfig) {
		s.Modalities = modalities
	}
}

func SessionTemperature(temperature float64) SessionOption {
	return func(s *events.SessionConfig) {
		s.Temperature = temperature
	}
}

// SessionTurnDetection sets the turn detection mode. Passing nil
// switches to manual turn taking: CreateResponse commits the input
// audio buffer explicitly.
func SessionTurnDetection(td *events.TurnDetection) SessionOption {
	return func(s *events.SessionConfig) {
		s.TurnDetection = td
	}
}

func SessionToolChoice(choice tool.Choice) SessionOption {
	return func(s *events.SessionConfig) {
		s.ToolChoice = choice
	}
}

func SessionMaxResponseOutputTokens(n int) SessionOption {
	return func(s *events.SessionConfig) {
		s.MaxResponseOutputTokens = n
	}
}

func SessionInputAudioTranscription(model string) SessionOption {
	return func(s *events.SessionConfig) {
		if model == "" {
			s.InputAudioTranscription = nil
			return
		}
		s.InputAudioTranscription = &events.AudioTranscription{Model: model}
	}
}
