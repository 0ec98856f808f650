package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prismbridge/internal/api"
	"prismbridge/internal/clock"
	"prismbridge/internal/config"
	"prismbridge/internal/engine"
	"prismbridge/internal/export"
	"prismbridge/internal/integral"
	"prismbridge/internal/metrics"
	"prismbridge/internal/mqtt"
	"prismbridge/internal/prism"
	"prismbridge/internal/state"
	"prismbridge/internal/storage"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	// Load environment variables before the log level is known
	envErr := godotenv.Load()

	logger, err := newLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	active := &activeLogger{Logger: logger}
	defer active.sync()

	if envErr != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	cfg, err := config.NewLoader(*configPath, logger).Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.LogLevel != os.Getenv("LOG_LEVEL") {
		if l, err := newLogger(cfg.LogLevel); err != nil {
			logger.Warn("Ignoring invalid log level", zap.String("level", cfg.LogLevel), zap.Error(err))
		} else {
			active.replace(l)
			logger = l
		}
	}

	rt, err := prism.NewRuntime(cfg.Prism.Topic, cfg.Prism.Ports, cfg.Prism.Serial, cfg.Prism.VSensors)
	if err != nil {
		logger.Fatal("Invalid device configuration", zap.Error(err))
	}

	logger.Info("Starting Silla Prism bridge",
		zap.String("broker", cfg.MQTT.Broker),
		zap.String("topic", rt.Prefix),
		zap.Int("ports", rt.Ports))

	var store integral.Store
	if cfg.Storage.Path != "" {
		bolt, err := storage.NewBoltStore(cfg.Storage.Path)
		if err != nil {
			logger.Fatal("Failed to open state store", zap.String("path", cfg.Storage.Path), zap.Error(err))
		}
		writer := storage.NewWriter(bolt, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("Failed to close state store", zap.Error(err))
			}
		}()
		store = writer
	} else {
		logger.Warn("No storage path configured, integrals restart from zero")
		store = storage.NewMemoryStore()
	}

	topics := mqtt.Topics{
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		StatePrefix:     cfg.MQTT.StatePrefix,
	}

	client, err := mqtt.NewClient(mqtt.Config{
		Broker:    cfg.MQTT.Broker,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		QoS:       1,
		WillTopic: topics.Bridge(),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create MQTT client", zap.Error(err))
	}

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer client.Disconnect()

	if cfg.Prism.Probe.Enabled {
		if err := mqtt.Probe(ctx, client, rt.ProbeTopic(), cfg.Prism.Probe.Timeout); err != nil {
			logger.Fatal("Device did not answer", zap.String("topic", rt.ProbeTopic()), zap.Error(err))
		}
		logger.Info("Device is reachable")
	}

	m := metrics.New()
	clk := clock.NewRealClock()
	hub := state.NewHub(clk, logger.Named("state"))

	eng, err := engine.New(engine.Options{
		Runtime:   rt,
		Transport: client,
		Hub:       hub,
		Store:     store,
		Clock:     clk,
		Logger:    logger,
		Metrics:   m,
		Topics:    topics,
	})
	if err != nil {
		logger.Fatal("Failed to create engine", zap.Error(err))
	}
	if err := eng.SetupError(); err != nil {
		logger.Error("Some entities were skipped", zap.Error(err))
	}

	var publisher *export.Publisher
	kafkaCfg := export.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}
	if kafkaCfg.Enabled() {
		publisher, err = export.NewPublisher(kafkaCfg, logger, m)
		if err != nil {
			logger.Fatal("Failed to create Kafka publisher", zap.Error(err))
		}
		publisher.Start(ctx)
		sub := hub.SubscribeAll(publisher.Handle)
		defer sub.Unsubscribe()
	}

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("Failed to start engine", zap.Error(err))
	}

	server := api.NewServer(hub, eng, m.Handler(), logger, cfg.API.Port)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start HTTP server", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Bridge running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")

	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error("Failed to stop engine cleanly", zap.Error(err))
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to stop Kafka publisher", zap.Error(err))
		}
	}
}
