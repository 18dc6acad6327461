package speech

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/randalmurphal/medconsult/pkg/consult"
)

// SafeTranscriber never fails: errors are logged and yield empty text.
type SafeTranscriber struct {
	next   Transcriber
	logger *slog.Logger
}

// NewSafeTranscriber wraps next.
func NewSafeTranscriber(next Transcriber, logger *slog.Logger) *SafeTranscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeTranscriber{next: next, logger: logger}
}

// Transcribe returns the trimmed transcript, or "" when there is no audio
// or transcription failed.
func (s *SafeTranscriber) Transcribe(ctx context.Context, audio []byte) string {
	if len(audio) == 0 {
		return ""
	}
	text, err := s.next.Transcribe(ctx, audio)
	if err != nil {
		s.logger.Warn("transcription failed",
			slog.Int("audio_bytes", len(audio)),
			slog.String("error", err.Error()))
		return ""
	}
	return strings.TrimSpace(text)
}

// SafeSynthesizer never fails: errors are logged and yield no audio.
type SafeSynthesizer struct {
	next   Synthesizer
	logger *slog.Logger
}

// NewSafeSynthesizer wraps next.
func NewSafeSynthesizer(next Synthesizer, logger *slog.Logger) *SafeSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeSynthesizer{next: next, logger: logger}
}

// Synthesize returns audio for text with line breaks read as spaces, or
// nil for blank text or a failed synthesis.
func (s *SafeSynthesizer) Synthesize(ctx context.Context, text string) []byte {
	text = strings.Join(strings.Fields(strings.ReplaceAll(text, "\n", " ")), " ")
	if text == "" {
		return nil
	}
	audio, err := s.next.Synthesize(ctx, text)
	if err != nil {
		s.logger.Warn("speech synthesis failed",
			slog.Int("text_len", len(text)),
			slog.String("error", err.Error()))
		return nil
	}
	if len(audio) == 0 {
		return nil
	}
	return audio
}

// Sentences synthesizes streamed text one complete sentence at a time, so
// playback can start before the reply is finished. Text left without a
// terminator is spoken when chunks ends. Failed sentences are skipped.
func (s *SafeSynthesizer) Sentences(ctx context.Context, chunks iter.Seq[string]) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		var pending string
		for chunk := range chunks {
			sentences, rest := consult.SplitSentences(pending + chunk)
			pending = rest
			for _, sentence := range sentences {
				if audio := s.Synthesize(ctx, sentence); audio != nil {
					if !yield(audio) {
						return
					}
				}
			}
		}
		if audio := s.Synthesize(ctx, pending); audio != nil {
			yield(audio)
		}
	}
}
