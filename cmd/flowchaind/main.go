package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"FlowChain/internal/api"
	"FlowChain/internal/config"
	"FlowChain/internal/definition"
	"FlowChain/internal/job"
	"FlowChain/internal/workflow"
	"FlowChain/pkg/logger"
)

// main 是 FlowChain 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("flowchaind 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("FLOWCHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "flowchain.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("关闭日志失败: %v", err)
		}
	}()

	store, err := createStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.L().Error("关闭存储失败", slog.Any("error", err))
		}
	}()

	queue, err := createQueue(cfg)
	if err != nil {
		return err
	}
	if queue != nil {
		defer func() {
			if err := queue.Close(); err != nil {
				logger.L().Error("关闭任务队列失败", slog.Any("error", err))
			}
		}()
	}

	var producer workflow.Producer
	var consumer workflow.Consumer
	if queue != nil {
		producer = queue
		consumer = queue
	}

	registry := job.Defaults()
	aggregator := workflow.NewAggregator(store,
		workflow.WithAggregatorProducer(producer),
		workflow.WithAggregatorLogger(logger.Named("aggregator")),
	)
	executor := workflow.NewExecutor(store, registry, aggregator,
		workflow.WithExecutorLogger(logger.Named("executor")),
	)
	scheduler := workflow.NewScheduler(executor, store, consumer,
		workflow.WithWorkerCount(cfg.Scheduler.Workers),
		workflow.WithPollInterval(cfg.Scheduler.PollInterval()),
		workflow.WithSchedulerLogger(logger.Named("scheduler")),
	)
	service := workflow.NewService(store, producer)

	schedulerCtx, schedulerCancel := context.WithCancel(ctx)
	defer schedulerCancel()
	go func() {
		if err := scheduler.Start(schedulerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("调度循环异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Definitions != "" {
		if err := submitDefinitions(ctx, service, cfg.Definitions); err != nil {
			return err
		}
	}

	server := api.NewServer(cfg.Server.Address, service)
	logger.L().Info("flowchaind 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("scheduler", cfg.Scheduler.Driver),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createStore(cfg *config.Config) (workflow.Store, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return workflow.NewMemoryStore(), nil
	case config.StorageMySQL:
		return workflow.NewMySQLStore(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

// createQueue 按配置构建队列。轮询调度模式不需要队列，返回 nil。
func createQueue(cfg *config.Config) (workflow.Queue, error) {
	if cfg.Scheduler.Driver == config.SchedulerPoll {
		return nil, nil
	}
	switch cfg.Queue.Driver {
	case config.QueueMemory:
		return workflow.NewMemoryQueue(cfg.Queue.Size), nil
	case config.QueueRedis:
		return workflow.NewRedisQueue(workflow.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWaitMS) * time.Millisecond,
		})
	case config.QueueRabbitMQ:
		return workflow.NewRabbitMQQueue(workflow.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

// submitDefinitions 启动时加载并提交目录里的工作流定义。
func submitDefinitions(ctx context.Context, service *workflow.Service, dir string) error {
	requests, err := definition.LoadDir(dir)
	if err != nil {
		return err
	}
	for _, req := range requests {
		wf, err := service.Submit(ctx, req)
		if err != nil {
			return fmt.Errorf("提交工作流定义 %q 失败: %w", req.Name, err)
		}
		logger.L().Info("已提交工作流定义",
			slog.String("workflow_id", wf.ID),
			slog.String("name", wf.Name),
		)
	}
	return nil
}
