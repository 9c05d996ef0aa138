package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opencatalyst/catalyst/admin"
	"github.com/opencatalyst/catalyst/audit"
	"github.com/opencatalyst/catalyst/bus"
	"github.com/opencatalyst/catalyst/cfg"
	"github.com/opencatalyst/catalyst/notify"
	"github.com/opencatalyst/catalyst/registry"
	"github.com/opencatalyst/catalyst/rules"
	"github.com/opencatalyst/catalyst/search"
	"github.com/opencatalyst/catalyst/subject"
	"github.com/opencatalyst/catalyst/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Catalyst - Change Event Distribution Engine")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry(cfg.Config.Prometheus.Enabled, cfg.Config.InstanceID)

	// Subject directory backing rule evaluation
	directory, closeDirectory, err := buildSubjectDirectory()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open subject directory")
		return
	}
	defer closeDirectory()

	resolver := subject.NewResolver(
		directory,
		cfg.Config.Subjects.CacheSize,
		time.Duration(cfg.Config.Subjects.CacheTTLSeconds)*time.Second,
	)
	evaluator := rules.NewEvaluator(resolver)

	// Event bus
	log.Info().Int("capacity", cfg.Config.Bus.Capacity).Msg("Initializing event bus")
	eventBus, err := bus.New(cfg.Config.Bus.Capacity)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event bus")
		return
	}
	defer eventBus.Close()

	// Audit log consumer
	var auditLog *audit.Log
	if cfg.Config.Audit.Enabled {
		log.Info().Strs("masked_fields", cfg.Config.Audit.MaskedFields).Msg("Opening audit log")
		auditLog, err = audit.Open(cfg.Config.DataDir, cfg.Config.Audit.MaskedFields)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open audit log")
			return
		}
		defer auditLog.Close()

		if _, err := eventBus.Subscribe("audit", audit.NewConsumer(auditLog)); err != nil {
			log.Fatal().Err(err).Msg("Failed to attach audit consumer")
			return
		}
	}

	// Notification hub consumer, served to clients through the admin API
	var hub *notify.Hub
	if cfg.Config.Notify.Enabled {
		hub = notify.NewHub()
		if _, err := eventBus.Subscribe("notify", hub); err != nil {
			log.Fatal().Err(err).Msg("Failed to attach notification hub")
			return
		}
	}

	// Search index sync consumer
	var syncer *search.Syncer
	if cfg.Config.Search.Enabled {
		log.Info().
			Str("endpoint", cfg.Config.Search.Endpoint).
			Str("index", cfg.Config.Search.Index).
			Msg("Initializing search index sync")
		transport, err := search.NewHTTPTransport(cfg.Config.Search.Endpoint, cfg.Config.Search.Index)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create search transport")
			return
		}
		syncer = search.NewSyncer(search.NewSink(transport, cfg.Config.Search.MaxPayloadBytes))
		if _, err := eventBus.Subscribe("search", syncer); err != nil {
			log.Fatal().Err(err).Msg("Failed to attach search syncer")
			return
		}
	}

	// Publisher registry with seed subscriptions
	reg := registry.New(eventBus, evaluator)
	defer reg.Close()

	for _, sub := range cfg.Config.Subscriptions {
		if err := reg.Upsert(sub); err != nil {
			log.Fatal().Err(err).Str("subscription", sub.ID).Msg("Failed to start seed subscription")
			return
		}
	}

	// Admin HTTP API
	handlers := admin.NewHandlers(eventBus, reg, auditLog, syncer, hub)
	router := admin.NewRouter(handlers, cfg.Config.Prometheus.Enabled)

	addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.Address, cfg.Config.Admin.Port)
	server := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Info().Str("address", addr).Msg("Admin API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Admin API failed")
		}
	}()
	defer server.Close()

	log.Info().
		Str("instance_id", cfg.Config.InstanceID).
		Str("data_dir", cfg.Config.DataDir).
		Int("subscriptions", len(cfg.Config.Subscriptions)).
		Msg("Catalyst is operational")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
}

// buildSubjectDirectory opens the configured user/team directory. An empty
// DSN yields an empty static directory; owner rules then simply never match.
func buildSubjectDirectory() (subject.Directory, func(), error) {
	if cfg.Config.Subjects.DSN == "" {
		log.Warn().Msg("No subject directory configured, owner rules will not match")
		return subject.NewStaticDirectory(nil), func() {}, nil
	}

	dir, err := subject.OpenSQLDirectory(cfg.Config.Subjects.Driver, cfg.Config.Subjects.DSN)
	if err != nil {
		return nil, nil, err
	}
	return dir, func() {
		if err := dir.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close subject directory")
		}
	}, nil
}
