//go:build !android
// +build !android

package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/keshucs12345/voicematch/internal/audio"
	"github.com/keshucs12345/voicematch/internal/auth"
	"github.com/keshucs12345/voicematch/internal/config"
	"github.com/keshucs12345/voicematch/internal/conversation"
	"github.com/keshucs12345/voicematch/internal/domain"
	"github.com/keshucs12345/voicematch/internal/logging"
	"github.com/keshucs12345/voicematch/internal/matching"
	"github.com/keshucs12345/voicematch/internal/metrics"
	"github.com/keshucs12345/voicematch/internal/playback"
	"github.com/keshucs12345/voicematch/internal/roster"
	"github.com/keshucs12345/voicematch/internal/seed"
	"github.com/keshucs12345/voicematch/internal/session"
	"github.com/keshucs12345/voicematch/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	mainLog := logger.Named("main")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, reg, mainLog)
	}

	if err := audio.Init(logger); err != nil {
		mainLog.Fatal("failed to init audio", zap.Error(err))
	}
	defer audio.Shutdown(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens := tokenSource(cfg.Auth)

	var summarizer seed.Summarizer
	if cfg.OpenAI.APIKey != "" {
		summarizer = seed.NewOpenAISummarizer(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	}
	seeds := seed.NewBuilder(seed.Config{SummarizeAbove: cfg.OpenAI.SummarizeAbove}, summarizer, logger)

	capture := audio.NewCaptureConverter(
		audio.NewPortAudioInput(cfg.Audio.InputDevice, cfg.Audio.FramesPerBuffer),
		nil,
		audio.CaptureConfig{
			PreferredRate: cfg.Audio.CaptureRate,
			FallbackRates: cfg.Audio.FallbackRates,
			ChunkDuration: cfg.Audio.ChunkDuration,
		},
		logger,
	)
	speaker := audio.NewPortAudioOutput(cfg.Audio.FramesPerBuffer, logger)
	dialer := transport.WebSocketDialer{}

	deltas := make(chan string, 64)
	lines := make(chan string, 16)
	matches := make(chan struct{}, 1)
	transcript := session.NewTranscriptBuffer(1500*time.Millisecond, lines, logger)

	listener := &consoleListener{logger: mainLog, deltas: deltas, matches: matches}
	coord := session.New(session.Deps{
		NewConversation: func(ev conversation.Events) session.ConversationClient {
			return conversation.New(conversation.Config{
				URL:        cfg.Conversation.URL,
				Language:   cfg.Conversation.Language,
				QueueDepth: cfg.Conversation.QueueDepth,
			}, dialer, ev, logger, m)
		},
		NewMatching: func(ev matching.Events) session.MatchingClient {
			return matching.New(matching.Config{URL: cfg.Matching.URL}, dialer, ev, logger, m)
		},
		NewPlayback: func(onTurnComplete func()) session.Playback {
			return playback.NewPipeline(speaker, playback.Config{
				Assembler: playback.AssemblerConfig{
					Format:           domain.MonoPCM16(cfg.Conversation.OutputSampleRate),
					CrossfadeSamples: cfg.Audio.CrossfadeSamples,
					AttackSamples:    cfg.Audio.AttackSamples,
				},
				FadeIn:  cfg.Audio.FadeIn,
				FadeOut: cfg.Audio.FadeOut,
			}, onTurnComplete, logger, m)
		},
		Capture:  capture,
		Seed:     seeds,
		Listener: listener,
	}, logger, m)

	call := roster.NewManager(roster.Config{
		StripPrefixes: cfg.Call.StripPrefixes,
		AIHostPrefix:  cfg.Call.AIHostPrefix,
		AIHostName:    cfg.Call.AIHostName,
		SelfUserID:    cfg.Call.SelfUserID,
	}, roster.NewLiveKitConnector(cfg.Call.LiveKitURL, logger), rosterLogger{mainLog}, logger, m)

	start := func() {
		token, err := tokens.Token(ctx)
		if err != nil {
			mainLog.Error("failed to get auth token", zap.Error(err))
			return
		}
		s := domain.ConversationSession{
			AuthToken:      token,
			Topics:         cfg.Session.Topics,
			Hashtags:       cfg.Session.Hashtags,
			TranscriptSeed: readTranscript(cfg.Session.TranscriptFile, mainLog),
		}
		if err := coord.Initialize(ctx, s); err != nil {
			mainLog.Error("failed to start session", zap.Error(err))
		}
	}

	var wg sync.WaitGroup

	// AI text deltas → transcript lines
	wg.Add(1)
	go func() {
		defer wg.Done()
		transcript.Run(ctx, deltas)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		appendTranscript(ctx, cfg.Session.TranscriptFile, lines, mainLog)
	}()

	// Match hand-off: leave the AI conversation and join the live call.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-matches:
				rec, ok := coord.ConsumeMatch()
				if !ok {
					continue
				}
				coord.Stop()
				mainLog.Info("joining matched call", zap.String("match_id", rec.MatchID), zap.String("room", rec.RoomID))
				if err := call.JoinMatch(ctx, rec); err != nil {
					mainLog.Error("failed to join call", zap.String("status", domain.Describe(err)), zap.Error(err))
				}
			}
		}
	}()

	go readCommands(coord, call, start, cancel, mainLog)

	start()
	mainLog.Info("Microphone started. Speak now... (m=mute, i=interrupt, r=restart, l=leave call, q=quit, Ctrl+C to exit)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	mainLog.Info("Shutting down...")
	call.Leave()
	coord.Close()
	cancel()
	wg.Wait()
	mainLog.Info("Shutdown complete.")
}

func tokenSource(cfg config.AuthConfig) auth.TokenSource {
	if cfg.Token != "" {
		return auth.Static(cfg.Token)
	}
	return auth.NewHTTPTokenSource(cfg.TokenURL, cfg.RefreshToken, nil)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func readCommands(coord *session.Coordinator, call *roster.Manager, start, quit func(), logger *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "m":
			logger.Info("mute", zap.Bool("muted", coord.ToggleMute()))
		case "i":
			coord.Interrupt()
		case "r":
			coord.Stop()
			start()
		case "l":
			call.Leave()
		case "q":
			quit()
			return
		}
	}
}

func readTranscript(path string, logger *zap.Logger) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to read transcript", zap.String("path", path), zap.Error(err))
		}
		return ""
	}
	return string(data)
}

func appendTranscript(ctx context.Context, path string, lines <-chan string, logger *zap.Logger) {
	var f *os.File
	if path != "" {
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("transcript file unavailable", zap.String("path", path), zap.Error(err))
		} else {
			defer f.Close()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case line := <-lines:
			logger.Info("AI", zap.String("text", line))
			if f != nil {
				if _, err := f.WriteString("AI: " + line + "\n"); err != nil {
					logger.Warn("failed to append transcript", zap.Error(err))
				}
			}
		}
	}
}

type consoleListener struct {
	session.NopListener
	logger  *zap.Logger
	deltas  chan<- string
	matches chan<- struct{}
}

func (l *consoleListener) OnStateChanged(state domain.SessionState) {
	l.logger.Info("session state", zap.String("state", string(state)))
}

func (l *consoleListener) OnError(err error) {
	l.logger.Warn(domain.Describe(err), zap.Error(err))
}

func (l *consoleListener) OnTranscriptDelta(delta string) {
	select {
	case l.deltas <- delta:
	default:
		l.logger.Debug("transcript delta dropped")
	}
}

func (l *consoleListener) OnUserSpeech(speaking bool) {
	l.logger.Debug("user speech", zap.Bool("speaking", speaking))
}

func (l *consoleListener) OnMatchFound(match domain.MatchRecord) {
	l.logger.Info("match found", zap.String("match_id", match.MatchID), zap.Int("participants", len(match.Participants)))
	select {
	case l.matches <- struct{}{}:
	default:
	}
}

func (l *consoleListener) OnQueueUpdate(position int, wait time.Duration) {
	l.logger.Info("matching queue", zap.Int("position", position), zap.Duration("estimated_wait", wait))
}

type rosterLogger struct {
	logger *zap.Logger
}

func (r rosterLogger) OnParticipantJoined(p domain.Participant) {
	r.logger.Info("participant joined call", zap.String("name", p.DisplayName), zap.Bool("ai_host", p.IsAIHost))
}

func (r rosterLogger) OnParticipantLeft(p domain.Participant) {
	r.logger.Info("participant left call", zap.String("name", p.DisplayName))
}

func (r rosterLogger) OnCallEnded() {
	r.logger.Info("call ended")
}
