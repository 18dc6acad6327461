// Package speech provides the voice front end of a consultation: speech to
// text for patient input and text to speech for replies.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/llm"
)

// Transcriber converts recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer converts text to encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config describes an OpenAI-compatible audio endpoint.
type Config struct {
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey             string        `mapstructure:"api_key" yaml:"api_key"`
	TranscriptionModel string        `mapstructure:"transcription_model" yaml:"transcription_model"`
	Language           string        `mapstructure:"language" yaml:"language"`
	SpeechModel        string        `mapstructure:"speech_model" yaml:"speech_model"`
	Voice              string        `mapstructure:"voice" yaml:"voice"`
	Format             string        `mapstructure:"format" yaml:"format"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Defaults applied by NewOpenAI to empty fields.
const (
	DefaultTranscriptionModel = "whisper-1"
	DefaultSpeechModel        = "tts-1"
	DefaultVoice              = "alloy"
	DefaultFormat             = "mp3"
	DefaultTimeout            = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = DefaultTranscriptionModel
	}
	if c.SpeechModel == "" {
		c.SpeechModel = DefaultSpeechModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.Format == "" {
		c.Format = DefaultFormat
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// OpenAI implements Transcriber and Synthesizer against the audio API of
// an OpenAI-compatible server.
type OpenAI struct {
	client *azopenai.Client
	cfg    Config
}

// NewOpenAI creates the audio client.
func NewOpenAI(cfg Config, opts ...llm.ProviderOption) (*OpenAI, error) {
	cfg = cfg.withDefaults()
	client, err := llm.NewAzOpenAIClient(llm.ModelConfig{
		Model:   cfg.TranscriptionModel,
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &OpenAI{client: client, cfg: cfg}, nil
}

// Transcribe implements Transcriber.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("no audio")
	}

	opts := azopenai.AudioTranscriptionOptions{
		File:           audio,
		Filename:       to.Ptr("speech.wav"),
		DeploymentName: to.Ptr(o.cfg.TranscriptionModel),
		ResponseFormat: to.Ptr(azopenai.AudioTranscriptionFormatJSON),
	}
	if o.cfg.Language != "" {
		opts.Language = to.Ptr(o.cfg.Language)
	}

	resp, err := o.client.GetAudioTranscription(ctx, opts, nil)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if resp.Text == nil {
		return "", nil
	}
	return strings.TrimSpace(*resp.Text), nil
}

// Synthesize implements Synthesizer.
func (o *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := o.client.GenerateSpeechFromText(ctx, azopenai.SpeechGenerationOptions{
		Input:          to.Ptr(text),
		Voice:          to.Ptr(azopenai.SpeechVoice(o.cfg.Voice)),
		DeploymentName: to.Ptr(o.cfg.SpeechModel),
		ResponseFormat: to.Ptr(azopenai.SpeechGenerationResponseFormat(o.cfg.Format)),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	return audio, nil
}
