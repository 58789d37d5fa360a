package seed

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/keshucs12345/voicematch/internal/domain"
	"github.com/keshucs12345/voicematch/internal/protocol"
)

// Summarizer shortens a transcript into a context note.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string, topics []string) (string, error)
}

type Config struct {
	// SummarizeAbove is the transcript length in bytes above which the
	// summarizer is consulted.
	SummarizeAbove int
	Timeout        time.Duration
	// MaxTranscript caps the transcript sent to the service; the newest text is kept.
	MaxTranscript int
}

// Builder turns a ConversationSession into the start_session user context.
type Builder struct {
	cfg        Config
	summarizer Summarizer
	logger     *zap.Logger
}

// NewBuilder returns a builder. summarizer may be nil.
func NewBuilder(cfg Config, summarizer Summarizer, logger *zap.Logger) *Builder {
	if cfg.SummarizeAbove <= 0 {
		cfg.SummarizeAbove = 2000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTranscript <= 0 {
		cfg.MaxTranscript = 8000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, summarizer: summarizer, logger: logger.Named("seed")}
}

func (b *Builder) Build(ctx context.Context, s domain.ConversationSession) protocol.UserContext {
	topics := clean(s.Topics)
	hashtags := clean(s.Hashtags)
	transcript := strings.TrimSpace(s.TranscriptSeed)

	uc := protocol.UserContext{
		Topics:              topics,
		Hashtags:            hashtags,
		Transcription:       keepTail(transcript, b.cfg.MaxTranscript),
		ConversationContext: describe(topics, hashtags),
	}

	if b.summarizer == nil || len(transcript) <= b.cfg.SummarizeAbove {
		return uc
	}

	sctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	start := time.Now()
	summary, err := b.summarizer.Summarize(sctx, transcript, topics)
	if err != nil || summary == "" {
		b.logger.Warn("transcript summary unavailable, using plain context", zap.Error(err))
		return uc
	}
	b.logger.Debug("transcript summarized",
		zap.Int("transcript_len", len(transcript)),
		zap.Int("summary_len", len(summary)),
		zap.Duration("took", time.Since(start)))

	if uc.ConversationContext != "" {
		uc.ConversationContext += " "
	}
	uc.ConversationContext += "Earlier: " + summary
	return uc
}

func describe(topics, hashtags []string) string {
	var parts []string
	if len(topics) > 0 {
		parts = append(parts, "Topics: "+strings.Join(topics, ", ")+".")
	}
	if len(hashtags) > 0 {
		parts = append(parts, "Hashtags: "+strings.Join(hashtags, " ")+".")
	}
	return strings.Join(parts, " ")
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func keepTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, ' '); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return s
}
