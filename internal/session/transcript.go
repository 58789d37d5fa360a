package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TranscriptBuffer joins the AI's streamed text deltas into lines. A line is
// emitted once no delta has arrived for the grace period, or on Flush.
type TranscriptBuffer struct {
	mu          sync.Mutex
	gracePeriod time.Duration
	pending     strings.Builder
	timer       *time.Timer
	output      chan<- string
	logger      *zap.Logger
}

func NewTranscriptBuffer(gracePeriod time.Duration, out chan<- string, logger *zap.Logger) *TranscriptBuffer {
	if gracePeriod <= 0 {
		gracePeriod = 800 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptBuffer{
		gracePeriod: gracePeriod,
		output:      out,
		logger:      logger.Named("transcript"),
	}
}

// Run feeds deltas from in until ctx ends or in is closed, then flushes.
func (b *TranscriptBuffer) Run(ctx context.Context, in <-chan string) {
	defer b.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		case delta, ok := <-in:
			if !ok {
				return
			}
			b.Add(delta)
		}
	}
}

func (b *TranscriptBuffer) Add(delta string) {
	if delta == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending.WriteString(delta)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.gracePeriod, b.Flush)
}

// Flush emits the pending text, if any.
func (b *TranscriptBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	text := strings.Join(strings.Fields(b.pending.String()), " ")
	b.pending.Reset()
	if text == "" {
		return
	}

	b.logger.Debug("transcript line", zap.String("text", text))
	select {
	case b.output <- text:
	default:
		b.logger.Warn("dropping transcript line, output full")
	}
}
