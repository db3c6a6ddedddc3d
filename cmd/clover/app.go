package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/repositories/link"
	"github.com/Ramsey-B/clover/internal/repositories/memory"
	"github.com/Ramsey-B/clover/internal/repositories/record"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/linking"
	"github.com/Ramsey-B/clover/pkg/locks"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/processor"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/routes"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/Ramsey-B/clover/pkg/startup"
)

// recordStore is what the workflow, the processor and the record routes need from record storage.
type recordStore interface {
	linking.RecordStore
	linking.CandidateFinder
	UpsertSourceRecord(ctx context.Context, ref models.RecordReference, data map[string]any) (*models.Record, error)
	DeleteRecord(ctx context.Context, ref models.RecordReference) error
}

// containerID names the dependency container the HTTP handlers resolve from.
const containerID = "clover"

type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	matcher *matching.Matcher
	startup *startup.Startup
	health  *health.Checker

	db       database.DB
	graph    *graph.Client
	redis    *redis.Client
	records  recordStore
	links    linking.LinkStore
	locker   linking.Locker
	producer *kafka.Producer
	service  *linking.Service
	consumer *kafka.Consumer
	server   *http.Server

	serverErrors chan error
}

func newApp(cfg *config.Config, logger ectologger.Logger, matcher *matching.Matcher) *app {
	a := &app{
		cfg:          cfg,
		logger:       logger,
		matcher:      matcher,
		startup:      startup.NewStartup(logger, cfg.StartupMaxAttempts),
		health:       health.NewChecker(cfg.Version),
		serverErrors: make(chan error, 1),
	}

	linkingRequires := []string{}
	if cfg.LinkStore != config.LinkStoreMemory {
		a.startup.Add(startup.Func{DependencyName: "postgres", StartFunc: a.startPostgres, StopFunc: a.stopPostgres})
		linkingRequires = append(linkingRequires, "postgres")
	}
	if cfg.LinkStore == config.LinkStoreGraph {
		a.startup.Add(startup.Func{DependencyName: "graph", StartFunc: a.startGraph, StopFunc: a.stopGraph})
		linkingRequires = append(linkingRequires, "graph")
	}
	if cfg.Locker == config.LockerRedis {
		a.startup.Add(startup.Func{DependencyName: "redis", StartFunc: a.startRedis, StopFunc: a.stopRedis})
		linkingRequires = append(linkingRequires, "redis")
	}
	if cfg.KafkaProducerEnabled {
		a.startup.Add(startup.Func{DependencyName: "producer", StartFunc: a.startProducer, StopFunc: a.stopProducer})
		linkingRequires = append(linkingRequires, "producer")
	}
	a.startup.Add(startup.Func{DependencyName: "linking", Requires: linkingRequires, StartFunc: a.startLinking})
	if cfg.KafkaConsumerEnabled {
		a.startup.Add(startup.Func{DependencyName: "consumer", Requires: []string{"linking"}, StartFunc: a.startConsumer, StopFunc: a.stopConsumer})
	}
	a.startup.Add(startup.Func{DependencyName: "http", Requires: []string{"linking"}, StartFunc: a.startHTTP, StopFunc: a.stopHTTP})
	return a
}

func (a *app) start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		return err
	}
	a.health.SetReady(true)
	return nil
}

func (a *app) stop() error {
	a.health.SetReady(false)
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	return a.startup.Stop(ctx)
}

func (a *app) startPostgres(ctx context.Context) error {
	db, err := database.Connect(ctx, database.Config{
		Host:            a.cfg.DatabaseHost,
		Port:            a.cfg.DatabasePort,
		UserName:        a.cfg.DatabaseUserName,
		Password:        a.cfg.DatabasePassword,
		Name:            a.cfg.DatabaseName,
		SSLMode:         a.cfg.DatabaseSSLMode,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		AutoRollback:        true,
	})
	if err := migrations.Migrate(a.cfg.DatabaseName, db.SQL()); err != nil {
		_ = db.Close()
		return err
	}

	a.db = db
	a.health.AddCheck("database", db.PingContext)
	return nil
}

func (a *app) stopPostgres(context.Context) error {
	return a.db.Close()
}

func (a *app) startGraph(ctx context.Context) error {
	client, err := graph.NewClient(graph.Config{
		Host:     a.cfg.GraphDBHost,
		Port:     a.cfg.GraphDBPort,
		Username: a.cfg.GraphDBUser,
		Password: a.cfg.GraphDBPassword,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return err
	}
	client.EnsureIndexes(ctx)

	a.graph = client
	a.health.AddCheck("graph", client.VerifyConnectivity)
	return nil
}

func (a *app) stopGraph(ctx context.Context) error {
	return a.graph.Close(ctx)
}

func (a *app) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	a.health.AddCheck("redis", client.Ping)
	return nil
}

func (a *app) stopRedis(context.Context) error {
	return a.redis.Close()
}

func (a *app) startProducer(context.Context) error {
	a.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        a.cfg.KafkaOutputTopic,
		BatchSize:    a.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeoutMs) * time.Millisecond,
		Compression:  a.cfg.KafkaCompression,
	}, a.logger)
	return nil
}

func (a *app) stopProducer(context.Context) error {
	return a.producer.Close()
}

// startLinking picks the stores and the locker, builds the workflow and
// registers it in the container the HTTP handlers resolve from.
func (a *app) startLinking(context.Context) error {
	switch a.cfg.LinkStore {
	case config.LinkStoreMemory:
		a.records = memory.NewRecordStore()
		a.links = memory.NewLinkStore()
	case config.LinkStoreGraph:
		a.records = record.NewRepository(a.db, a.logger)
		a.links = graph.NewLinkStore(a.graph, a.logger)
	default:
		a.records = record.NewRepository(a.db, a.logger)
		a.links = link.NewRepository(a.db, a.logger)
	}

	lockerName := config.LockerLocal
	a.locker = locks.NewKeyedMutex()
	if a.cfg.Locker == config.LockerRedis {
		lockerName = config.LockerRedis
		a.locker = locks.NewRedisLocker(a.redis, locks.RedisConfig{
			TTL:     a.cfg.LockTTL,
			Timeout: a.cfg.LockTimeout,
		}, a.logger)
	}

	deps := linking.Dependencies{
		Matcher:    a.matcher,
		Records:    a.records,
		Candidates: a.records,
		Links:      a.links,
		Locker:     a.locker,
		Logger:     a.logger,
	}
	if a.producer != nil {
		deps.Events = a.producer
	}
	a.service = linking.NewService(deps, linking.Config{
		CandidateLimit: a.cfg.CandidateLimit,
		MaxLockRetries: a.cfg.MaxLockRetries,
		BatchWorkers:   a.cfg.BatchWorkers,
		LockerName:     lockerName,
		Retry: linking.RetryPolicy{
			MaxAttempts: a.cfg.StoreRetryAttempts,
			BaseDelay:   a.cfg.StoreRetryBaseDelay,
		},
	})

	_, err := routes.NewContainer(containerID, routes.Dependencies{
		Logger:    a.logger,
		Records:   a.records,
		Linker:    a.service,
		Links:     a.service,
		Evaluator: a.matcher,
	})
	return err
}

func (a *app) startConsumer(ctx context.Context) error {
	p := processor.NewProcessor(a.logger, a.records, a.service)
	a.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       a.cfg.KafkaBrokers,
		Topic:         a.cfg.KafkaInputTopic,
		ConsumerGroup: a.cfg.KafkaConsumerGroup,
		MaxAttempts:   a.cfg.KafkaMaxAttempts,
		RetryDelay:    a.cfg.KafkaRetryDelay,
	}, a.logger, p.HandleMessage)
	// the consumer outlives startup, so it gets a context of its own
	return a.consumer.Start(context.Background())
}

func (a *app) stopConsumer(context.Context) error {
	return a.consumer.Stop()
}

func (a *app) startHTTP(context.Context) error {
	e := routes.New(a.logger, routes.Options{
		ServiceName:  a.cfg.AppName,
		AllowOrigins: a.cfg.AllowOrigins,
		ContainerID:  containerID,
		Health:       a.health,
	})

	a.server = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Port)),
		Handler:           e,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serverErrors <- err
		}
	}()
	a.logger.WithField("addr", a.server.Addr).Info("HTTP server listening")
	return nil
}

func (a *app) stopHTTP(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
