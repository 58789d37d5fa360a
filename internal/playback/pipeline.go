package playback

import (
	"time"

	"go.uber.org/zap"

	"github.com/keshucs12345/voicematch/internal/metrics"
)

type Config struct {
	Assembler AssemblerConfig
	FadeIn    time.Duration
	FadeOut   time.Duration
}

// Pipeline turns streamed utterance audio into scheduled playback. Every
// method only posts to the executor and returns immediately, so it is safe to
// call from channel callbacks and from teardown. onTurnComplete runs on the
// executor goroutine.
type Pipeline struct {
	exec    *Executor
	asm     *Assembler
	sched   *Scheduler
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewPipeline(out Output, cfg Config, onTurnComplete func(), logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FadeIn <= 0 {
		cfg.FadeIn = 30 * time.Millisecond
	}
	if cfg.FadeOut <= 0 {
		cfg.FadeOut = 40 * time.Millisecond
	}
	logger = logger.Named("playback")

	exec := NewExecutor()
	return &Pipeline{
		exec: exec,
		asm:  NewAssembler(cfg.Assembler),
		sched: &Scheduler{
			out:            out,
			post:           exec.Post,
			fadeIn:         cfg.FadeIn,
			fadeOut:        cfg.FadeOut,
			logger:         logger,
			metrics:        m,
			onTurnComplete: onTurnComplete,
		},
		logger:  logger,
		metrics: m,
	}
}

// Begin starts a new utterance: current playback fades out, the queue and the
// partial buffer are cleared.
func (p *Pipeline) Begin() {
	p.exec.Post(func() {
		p.sched.StopAll()
		p.asm.Begin()
	})
}

// Append adds one streamed fragment. Malformed fragments are dropped.
func (p *Pipeline) Append(fragment string) {
	p.exec.Post(func() {
		p.metrics.RecordDelta()
		if err := p.asm.Append(fragment); err != nil {
			p.metrics.RecordDecodeError()
			p.logger.Debug("dropping audio fragment", zap.Int("length", len(fragment)), zap.Error(err))
		}
	})
}

// Finish finalizes the utterance and queues it. An empty utterance reports
// turn-complete straight away when nothing else is playing.
func (p *Pipeline) Finish() {
	p.exec.Post(func() {
		item, ok, err := p.asm.Finish()
		if err != nil {
			p.logger.Warn("failed to finalize utterance", zap.Error(err))
		}
		if !ok {
			if p.sched.Idle() {
				p.sched.turnComplete()
			}
			return
		}
		p.metrics.RecordUtterance(item.Duration().Seconds())
		p.logger.Debug("utterance queued",
			zap.String("item", item.ID),
			zap.Int("pcm_bytes", item.PCMBytes))
		p.sched.Enqueue(item)
	})
}

// StopAll fades out playback, clears the queue and discards any partial
// utterance without reporting turn-complete.
func (p *Pipeline) StopAll() {
	p.exec.Post(func() {
		p.sched.StopAll()
		p.asm.Begin()
	})
}

// Sync waits until all previously posted work has run.
func (p *Pipeline) Sync() {
	p.exec.Sync()
}

// Close stops playback and shuts down the executor.
func (p *Pipeline) Close() {
	p.StopAll()
	p.exec.Close()
}
