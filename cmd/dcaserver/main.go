package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vultisig/dca-exchange/api"
	"github.com/vultisig/dca-exchange/config"
	"github.com/vultisig/dca-exchange/events"
	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/internal/scheduler"
	"github.com/vultisig/dca-exchange/internal/tasks"
	"github.com/vultisig/dca-exchange/service"
	"github.com/vultisig/dca-exchange/storage"
	"github.com/vultisig/dca-exchange/storage/postgres"
)

const (
	flushInterval   = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.GetConfigure()
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Errorf("invalid config: %w", err))
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("dca server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	clk := clock.New()

	sdClient, err := statsd.New(net.JoinHostPort(cfg.Datadog.Host, cfg.Datadog.Port))
	if err != nil {
		return fmt.Errorf("fail to create statsd client, err: %w", err)
	}
	defer sdClient.Close()

	db, err := postgres.NewPostgresBackend(ctx, false, cfg.Server.Database.DSN)
	if err != nil {
		return fmt.Errorf("fail to connect to database, err: %w", err)
	}
	defer db.Close()

	redisStorage, err := storage.NewRedisStorage(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisStorage.Close()

	redisOptions := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := asynq.NewClient(redisOptions)
	defer func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Error("fail to close asynq client")
		}
	}()

	be, err := newBackend(ctx, cfg, clk, logger)
	if err != nil {
		return fmt.Errorf("fail to create %s backend, err: %w", cfg.Backend.Type, err)
	}
	defer be.close()

	projector := events.NewProjector(0)
	eventLog := events.NewLog(projector)

	opts := cfg.Exchange.Options()
	opts.Address = be.address
	svc, err := service.NewExchangeService(
		opts,
		exchange.NewOwnerAccess(common.HexToAddress(cfg.Exchange.Owner)),
		be.custody,
		be.resolver,
		db,
		eventLog,
		clk,
		logger,
	)
	if err != nil {
		return err
	}
	if err := svc.Load(ctx); err != nil {
		return err
	}

	worker, err := service.NewWorker(svc, client, sdClient, logger)
	if err != nil {
		return err
	}
	srv := asynq.NewServer(
		redisOptions,
		asynq.Config{
			Logger:      logger,
			Concurrency: cfg.Scheduler.Concurrency,
			Queues: map[string]int{
				tasks.QUEUE_NAME: 10,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeExecuteDCA, worker.HandleExecuteDCA)

	sched, err := scheduler.NewSchedulerService(svc, logger, client, cfg.Scheduler.Spec, cfg.Scheduler.Unique)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server, svc, projector, redisStorage, client, sdClient, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.StartServer)
	g.Go(func() error {
		return srv.Start(mux)
	})
	g.Go(sched.Start)
	g.Go(func() error {
		ticker := clk.Ticker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if svc.Pending() > 0 {
					svc.Flush(gctx)
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		sched.Stop(shutdownCtx)
		srv.Shutdown()
		svc.Flush(shutdownCtx)
		if n := svc.Pending(); n > 0 {
			errs = append(errs, fmt.Errorf("%d event records were not saved", n))
		}
		return errors.Join(errs...)
	})

	logger.WithFields(logrus.Fields{
		"port":    cfg.Server.Port,
		"backend": cfg.Backend.Type,
		"custody": be.address.Hex(),
	}).Info("dca server started")
	return g.Wait()
}
