package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/meeting-copilot/internal/api"
	"github.com/snarg/meeting-copilot/internal/archive"
	"github.com/snarg/meeting-copilot/internal/classify"
	"github.com/snarg/meeting-copilot/internal/config"
	"github.com/snarg/meeting-copilot/internal/database"
	"github.com/snarg/meeting-copilot/internal/feedback"
	"github.com/snarg/meeting-copilot/internal/ingest"
	"github.com/snarg/meeting-copilot/internal/llm"
	"github.com/snarg/meeting-copilot/internal/metrics"
	"github.com/snarg/meeting-copilot/internal/mqttclient"
	"github.com/snarg/meeting-copilot/internal/orchestrator"
	"github.com/snarg/meeting-copilot/internal/retrieval"
	"github.com/snarg/meeting-copilot/internal/session"
	"github.com/snarg/meeting-copilot/internal/speech"
	"github.com/snarg/meeting-copilot/internal/storage"
	"github.com/snarg/meeting-copilot/internal/transcript"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "Postgres URL of the passage index")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-url", "", "MQTT broker URL for transcript ingress")
	flag.StringVar(&overrides.TranscriptPath, "transcript", "", "transcript log path")
	flag.StringVar(&overrides.ArchiveDir, "archive-dir", "", "analysis archive directory")
	flag.Parse()

	if *showVersion {
		fmt.Println("meeting-copilot", version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("meeting-copilot starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session: transcript log and feedback guard
	sess, err := session.New(session.Options{
		TranscriptPath:  cfg.TranscriptPath,
		ResetTranscript: cfg.ResetTranscript,
		Feedback: feedback.Options{
			FeedbackDelay:    cfg.FeedbackDelay,
			ResponseTTL:      cfg.ResponseTTL,
			MinResponseChars: cfg.FeedbackMinResponseChars,
			MaxPhraseWords:   cfg.FeedbackMaxPhraseWords,
			MinPhraseChars:   cfg.FeedbackMinPhraseChars,
		},
		Log: log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start session")
	}
	go sess.Guard.Run(ctx)

	// Database (passage index)
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	sess.OnEnd("database", func(context.Context) error { db.Close(); return nil })
	if err := db.Migrate(ctx, cfg.VectorTable, cfg.EmbeddingDimensions); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate passage index")
	}

	// LLM
	client, err := llm.NewClient(llm.Options{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		SpeechModel:    cfg.TTSModel,
		Voice:          cfg.TTSVoice,
		Timeout:        cfg.GenerationTimeout,
		Log:            log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create llm client")
	}

	// Archive storage
	storeLog := log.With().Str("component", "storage").Logger()
	objStore, services, err := storage.New(cfg.S3, cfg.ArchiveDir, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize archive storage")
	}
	for _, svc := range services {
		svc.Start()
	}
	sess.OnEnd("storage", func(context.Context) error {
		for _, svc := range services {
			svc.Stop()
		}
		return nil
	})
	arch := archive.New(objStore, log)
	log.Info().Str("type", objStore.Type()).Str("dir", cfg.ArchiveDir).Msg("analysis archive ready")

	prompts, err := orchestrator.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load prompts")
	}

	classifier := classify.NewClassifier(client, classify.Options{Model: cfg.ClassifierModel, Log: log})
	ranker := retrieval.NewRanker(client, db.Passages(cfg.VectorTable, cfg.EmbeddingDimensions), retrieval.Options{
		TopK:                cfg.RetrievalTopK,
		SimilarityThreshold: cfg.SimilarityThreshold,
		MinRelevantChunks:   cfg.MinRelevantChunks,
		MaxContextLength:    cfg.MaxContextLength,
		Log:                 log,
	})
	ranker.OnDegraded = metrics.RetrievalDegradedTotal.Inc

	// Speech output
	var player *speech.Player
	if cfg.SpeakResponses {
		player, err = newPlayer(cfg, client, log)
		if err != nil {
			log.Warn().Err(err).Msg("speech output disabled")
		} else {
			player.OnStateChange(sess.SetSpeaking)
			player.Start()
			sess.OnEnd("speech", func(ctx context.Context) error {
				done := make(chan struct{})
				go func() {
					player.Stop()
					close(done)
				}()
				select {
				case <-done:
					return nil
				case <-ctx.Done():
					player.Abort()
					return ctx.Err()
				}
			})
		}
	}

	// Event fan-out: SSE bus and, when configured, MQTT
	bus := ingest.NewEventBus(256)
	publishers := fanout{bus}

	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topics:    cfg.MQTTTranscriptTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		publishers = append(publishers, mqttclient.NewEventPublisher(mqtt, cfg.MQTTAnalysisTopic, log,
			orchestrator.EventAnalysis, orchestrator.EventSuppressed))
	}

	deps := orchestrator.Deps{
		Gate:       sess.Guard,
		Classifier: classifier,
		Retriever:  ranker,
		Generator:  client,
		Archive:    arch,
		Publisher:  publishers,
	}
	if player != nil {
		deps.Speaker = player
	}
	orch := orchestrator.New(deps, orchestrator.Options{
		SpeakResponses:    player != nil,
		GenerationTimeout: cfg.GenerationTimeout,
		Prompts:           prompts,
		Log:               log,
	})
	sess.OnEnd("orchestrations", orch.Wait)

	// Transcript sink: the single writer for pushed deliveries
	sink := ingest.NewSink(sess.Transcript, 256, log)
	sinkCtx, stopSink := context.WithCancel(context.Background())
	sinkDone := make(chan struct{})
	go func() {
		sink.Run(sinkCtx)
		close(sinkDone)
	}()
	sess.OnEnd("sink", func(ctx context.Context) error {
		stopSink()
		select {
		case <-sinkDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	// Change watcher
	watcher := ingest.NewChangeWatcher(ingest.WatcherOptions{
		Store: sess.Transcript,
		Handler: func(ctx context.Context, u transcript.Utterance) error {
			_, err := orch.Process(ctx, u)
			return err
		},
		Publisher:    bus,
		PollInterval: cfg.WatchPollInterval,
		StartAtEnd:   !cfg.ResetTranscript,
		Log:          log,
	})
	if err := watcher.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start transcript watcher")
	}
	sess.OnEnd("watcher", func(ctx context.Context) error {
		watcher.Stop()
		return watcher.WaitCycles(ctx)
	})

	if mqtt != nil {
		mqtt.SetMessageHandler(sink.HandleMessage)
		sess.OnEnd("mqtt", func(context.Context) error { mqtt.Close(); return nil })
	}

	live := &liveState{orch: orch, watcher: watcher, guard: sess.Guard, player: player, bus: bus}
	prometheus.MustRegister(metrics.NewCollector(db.Pool, live))

	// HTTP Server
	var mqttStatus api.ConnStatus
	if mqtt != nil {
		mqttStatus = mqtt
	}
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		DB:        db,
		MQTT:      mqttStatus,
		Live:      live,
		Archive:   arch,
		Asker:     orch,
		Version:   version,
		StartTime: startTime,
		Log:       log,
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Past the grace period the process exits regardless of what is still running.
	time.AfterFunc(cfg.ShutdownGrace, func() {
		log.Error().Dur("grace", cfg.ShutdownGrace).Msg("shutdown grace expired, forcing exit")
		os.Exit(1)
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if err := sess.End(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("session shutdown incomplete")
	}

	log.Info().Msg("meeting-copilot stopped")
}

func newPlayer(cfg *config.Config, synth speech.Synthesizer, log zerolog.Logger) (*speech.Player, error) {
	sink, err := speech.NewCommandSink(cfg.PlayerCmd)
	if err != nil {
		return nil, err
	}
	if err := sink.Check(); err != nil {
		return nil, err
	}
	return speech.NewPlayer(speech.PlayerOptions{
		Synth:     synth,
		Sink:      sink,
		QueueSize: cfg.SpeechQueueSize,
		Log:       log,
	}), nil
}

// fanout delivers pipeline events to several publishers.
type fanout []orchestrator.Publisher

func (f fanout) Publish(kind string, payload any) {
	for _, p := range f {
		p.Publish(kind, payload)
	}
}
