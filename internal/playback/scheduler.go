package playback

import (
	"time"

	"go.uber.org/zap"

	"github.com/keshucs12345/voicematch/internal/domain"
	"github.com/keshucs12345/voicematch/internal/metrics"
)

// Output is the speaker. Play starts item, ramping it in over fadeIn, and calls
// done once when it ends. The returned function fades it out early.
type Output interface {
	Play(item domain.PlaybackItem, fadeIn time.Duration, done func()) (fadeOut func(time.Duration), err error)
}

// Scheduler plays queued items strictly one at a time. Like Assembler it is
// confined to the Pipeline's executor.
type Scheduler struct {
	out     Output
	post    func(func()) bool
	fadeIn  time.Duration
	fadeOut time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	queue   []domain.PlaybackItem
	current string
	stop    func(time.Duration)
	gen     uint64

	onTurnComplete func()
}

// Enqueue appends item and starts playback if idle.
func (s *Scheduler) Enqueue(item domain.PlaybackItem) {
	s.queue = append(s.queue, item)
	s.metrics.SetPlaybackQueue(len(s.queue))
	if s.current == "" {
		s.startNext()
	}
}

// Idle reports whether nothing is playing or queued.
func (s *Scheduler) Idle() bool {
	return s.current == "" && len(s.queue) == 0
}

// StopAll fades out the current item and clears the queue. Completions from
// items started before the call are ignored and no turn-complete is reported.
func (s *Scheduler) StopAll() {
	s.gen++
	s.fadeOutCurrent()
	s.current = ""
	s.queue = nil
	s.metrics.SetPlaybackQueue(0)
}

func (s *Scheduler) fadeOutCurrent() {
	if s.stop != nil {
		s.stop(s.fadeOut)
		s.stop = nil
	}
}

func (s *Scheduler) startNext() {
	for len(s.queue) > 0 {
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.metrics.SetPlaybackQueue(len(s.queue))

		s.fadeOutCurrent()

		gen := s.gen
		id := item.ID
		stop, err := s.out.Play(item, s.fadeIn, func() {
			s.post(func() { s.finished(gen, id) })
		})
		if err != nil {
			s.logger.Warn("dropping unplayable item", zap.String("item", id), zap.Error(err))
			continue
		}
		s.current = id
		s.stop = stop
		s.logger.Debug("playing item",
			zap.String("item", id),
			zap.Duration("duration", item.Duration()),
			zap.Int("queued", len(s.queue)))
		return
	}

	s.current = ""
	s.stop = nil
	s.turnComplete()
}

func (s *Scheduler) finished(gen uint64, id string) {
	if gen != s.gen || id != s.current {
		return
	}
	s.current = ""
	s.stop = nil
	s.startNext()
}

func (s *Scheduler) turnComplete() {
	s.logger.Debug("playback queue drained")
	if s.onTurnComplete != nil {
		s.onTurnComplete()
	}
}
