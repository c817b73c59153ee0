// Command forumsync consumes course forum events into Postgres and sweeps
// the saga journal for runs that need an operator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fortressi/resourcesaga"
	"github.com/fortressi/resourcesaga/consumer"
	"github.com/fortressi/resourcesaga/forum"
	"github.com/fortressi/resourcesaga/internal/config"
	"github.com/fortressi/resourcesaga/internal/logger"
	"github.com/fortressi/resourcesaga/internal/metrics"
	"github.com/fortressi/resourcesaga/ledger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, errOut io.Writer) int {
	fs := flag.NewFlagSet("forumsync", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	log, err := logger.New(cfg.Service, errOut, cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	if err := serve(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("forumsync stopped")
		return 1
	}
	log.Info().Msg("forumsync stopped")
	return 0
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	m := metrics.New()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	db, err := sqlx.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	journal, err := resourcesaga.NewFileJournal(cfg.Journal.Dir)
	if err != nil {
		return err
	}

	var ledgerOpts []ledger.RedisOption
	if cfg.Ledger.KeyPrefix != "" {
		ledgerOpts = append(ledgerOpts, ledger.WithKeyPrefix(cfg.Ledger.KeyPrefix))
	}
	claims := ledger.NewRedis(rdb, ledgerOpts...)
	repo := forum.NewPostgresRepository(db)

	procOpts := []forum.Option{
		forum.WithTTL(cfg.Ledger.TTL),
		forum.WithLogger(log),
		forum.WithMetrics(m),
	}
	groups := forum.NewGroupCreationProcessor(claims, repo, procOpts...)
	members := forum.NewMembershipProcessor(claims, repo, procOpts...)

	consumerOpts := []consumer.Option{
		consumer.WithBatchSize(cfg.Kafka.BatchSize),
		consumer.WithBatchWait(cfg.Kafka.BatchWait),
	}
	groupTopic, purchaseTopic := subscriptions(cfg.Kafka)
	groupConsumer := consumer.New(
		consumer.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.GroupID, groupTopic),
		groups.Process,
		append(consumerOpts, consumer.WithLogger(log.With().Str("consumer", "group_created").Logger()))...,
	)
	defer groupConsumer.Close()
	memberConsumer := consumer.New(
		consumer.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.GroupID, purchaseTopic),
		members.Process,
		append(consumerOpts, consumer.WithLogger(log.With().Str("consumer", "course_purchased").Logger()))...,
	)
	defer memberConsumer.Close()

	sweeper := newSweeper(journal, cfg.Journal.StaleAfter, m, log)
	stopSweep, err := sweeper.schedule(cfg.Journal.SweepCron)
	if err != nil {
		return err
	}
	defer stopSweep()

	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	runConsumer := func(name string, fn func(context.Context) error) {
		defer wg.Done()
		if err := fn(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			mu.Unlock()
			// one consumer failing stops the process so both restart together
			cancelAll()
		}
	}

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("group_topic", groupTopic).
		Str("membership_topic", purchaseTopic).
		Msg("forumsync started")

	wg.Add(2)
	go runConsumer("group consumer", groupConsumer.Run)
	go runConsumer("membership consumer", memberConsumer.Run)
	wg.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return errors.Join(errs...)
}

// subscriptions returns the topics read by the group creation and the
// membership consumers. Neither is a topic the sagas publish to.
func subscriptions(cfg config.KafkaConfig) (groupCreated, purchased string) {
	return cfg.GroupCreatedTopic, cfg.MembershipTopic
}
