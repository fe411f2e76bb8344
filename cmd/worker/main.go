package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailflow/internal/api"
	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/handler"
	"github.com/ignite/mailflow/internal/idempotency"
	"github.com/ignite/mailflow/internal/metrics"
	"github.com/ignite/mailflow/internal/pkg/distlock"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/pkg/retry"
	"github.com/ignite/mailflow/internal/queue"
	"github.com/ignite/mailflow/internal/ratelimit"
	"github.com/ignite/mailflow/internal/relay"
	"github.com/ignite/mailflow/internal/storage"
	"github.com/ignite/mailflow/internal/worker"
)

func main() {
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logger.DEBUG)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		// Optional in containerized deployments where everything
		// arrives through the environment
		if _, err := os.Stat("config/config.yaml"); err == nil {
			configPath = "config/config.yaml"
		}
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("loading config", "path", configPath, "error", err.Error())
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("loading aws config", "error", err.Error())
		os.Exit(1)
	}

	store := storage.NewS3Store(awsCfg)
	queues := queue.NewCachedExists(queue.NewSQSQueue(awsCfg))
	ses := relay.NewSESRelay(awsCfg)
	idem := idempotency.NewDynamoStore(awsCfg, cfg.Idempotency.Table)
	recorder := buildRecorder(cfg, awsCfg)
	limiter, redisClient := buildLimiter(cfg, awsCfg)
	dlq := handler.NewDLQ(queues, cfg.Queues.DLQURL, recorder)
	retryCfg := retry.DefaultConfig()

	inbound := handler.NewInbound(handler.InboundDeps{
		Config:   cfg,
		Store:    store,
		Queues:   queues,
		Limiter:  limiter,
		DLQ:      dlq,
		Recorder: recorder,
		Retry:    retryCfg,
	})
	outbound := handler.NewOutbound(handler.OutboundDeps{
		Config:   cfg,
		Store:    store,
		Queues:   queues,
		Relay:    ses,
		Idem:     idem,
		DLQ:      dlq,
		Recorder: recorder,
		Retry:    retryCfg,
	})

	wait := time.Duration(cfg.Worker.PollWaitSeconds) * time.Second
	var wg sync.WaitGroup

	if cfg.Queues.IngressURL != "" {
		p := &worker.Poller{
			Name:        "inbound",
			Queue:       queues,
			QueueURL:    cfg.Queues.IngressURL,
			MaxMessages: cfg.Worker.MaxMessages,
			Wait:        wait,
			Lock:        distlock.NewLock(redisClient, "poller:inbound", time.Minute),
			Handle: func(ctx context.Context, msg queue.Message) error {
				return inbound.Handle(ctx, msg.Body)
			},
			DeleteOnSuccess: true,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	} else {
		logger.Warn("no ingress queue configured, inbound poller disabled")
	}

	if cfg.Queues.OutboundURL != "" {
		p := &worker.Poller{
			Name:        "outbound",
			Queue:       queues,
			QueueURL:    cfg.Queues.OutboundURL,
			MaxMessages: cfg.Worker.MaxMessages,
			Wait:        wait,
			Lock:        distlock.NewLock(redisClient, "poller:outbound", time.Minute),
			Handle:      outbound.Handle,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	} else {
		logger.Warn("no outbound queue configured, outbound poller disabled")
	}

	srv := api.NewServer(cfg, queues)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("ops server failed", "error", err.Error())
		}
	}()

	go heartbeat(ctx, cfg.Worker.HeartbeatSeconds)

	logger.Info("worker running", "region", cfg.AWS.Region)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown", "error", err.Error())
	}
	wg.Wait()

	if cw, ok := recorder.(*metrics.CloudWatch); ok {
		cw.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("worker stopped")
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.AccessKey != "" && cfg.AWS.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKey, cfg.AWS.SecretKey, "")))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func buildRecorder(cfg *config.Config, awsCfg aws.Config) metrics.Recorder {
	if !cfg.Metrics.Enabled {
		return metrics.Noop{}
	}
	return metrics.NewCloudWatch(awsCfg, cfg.Metrics.Namespace, 10*time.Second)
}

// buildLimiter selects the rate-limit backend and returns the shared
// Redis client, if one was opened, for reuse by the poller locks.
func buildLimiter(cfg *config.Config, awsCfg aws.Config) (ratelimit.Limiter, *redis.Client) {
	switch cfg.RateLimit.Backend {
	case "redis":
		if cfg.RateLimit.RedisURL == "" {
			logger.Warn("redis rate limit backend selected without redis_url, using in-process limiter")
			return ratelimit.NewMemoryLimiter(), nil
		}
		limiter, err := ratelimit.NewRedisLimiterFromURL(cfg.RateLimit.RedisURL)
		if err != nil {
			logger.Error("connecting redis rate limiter", "error", err.Error())
			os.Exit(1)
		}
		return limiter, limiter.Client()
	default:
		if cfg.RateLimit.Table == "" {
			logger.Warn("no rate limit table configured, using in-process limiter")
			return ratelimit.NewMemoryLimiter(), nil
		}
		return ratelimit.NewDynamoLimiter(awsCfg, cfg.RateLimit.Table), nil
	}
}

func heartbeat(ctx context.Context, intervalSeconds int) {
	if intervalSeconds <= 0 {
		intervalSeconds = 30
	}
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("worker heartbeat")
		}
	}
}
