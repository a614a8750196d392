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

	"AgentGuard-Chain/internal/api"
	"AgentGuard-Chain/internal/chain"
	"AgentGuard-Chain/internal/chain/devnet"
	"AgentGuard-Chain/internal/chain/ethereum"
	"AgentGuard-Chain/internal/config"
	"AgentGuard-Chain/internal/executor"
	"AgentGuard-Chain/internal/observability/alerting"
	"AgentGuard-Chain/internal/observability/metrics"
	"AgentGuard-Chain/internal/policy"
	"AgentGuard-Chain/internal/signer"
	"AgentGuard-Chain/internal/signer/keystore"
	"AgentGuard-Chain/internal/submit"
	"AgentGuard-Chain/internal/wallet"
	"AgentGuard-Chain/pkg/logger"
)

// main 是 AgentGuard 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agentguardd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTGUARD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentguard.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// 密钥存储与签名器。
	keyStore, err := createKeyStore(cfg)
	if err != nil {
		return err
	}
	sg := signer.New(keyStore)

	// 链路由与钱包注册表。注册表同时充当适配器的地址解析器。
	router := chain.NewRouter()
	defer router.Close()
	wallets := wallet.NewRegistry(router)

	if err := registerChains(ctx, cfg.Files.Chains, router, wallets, sg); err != nil {
		return err
	}

	walletDefs, err := wallet.LoadDefinitions(cfg.Files.Wallets)
	if err != nil {
		return err
	}
	for _, w := range walletDefs {
		if err := wallets.Add(w); err != nil {
			return err
		}
	}

	// 策略引擎。白名单实例单独持有，供热加载时替换目标集合。
	engine, whitelist, err := buildEngine(cfg.Files.Policies)
	if err != nil {
		return err
	}

	// 执行流水线。
	pipeline := executor.New(router, engine, sg, wallets,
		executor.WithAlerts(alerting.NewFanout(&alerting.LogNotifier{})),
	)

	// 提交存储与队列。
	store, err := createStore(cfg)
	if err != nil {
		return err
	}
	queue, err := createQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭提交队列失败", slog.Any("error", err))
		}
	}()

	service := submit.NewService(store, queue, cfg.Pipeline.MaxRetries)
	defer func() { _ = service.Close() }()

	processor := submit.NewProcessor(pipeline, store, queue, queue,
		submit.WithWorkerCount(cfg.Pipeline.Workers),
		submit.WithProcessorLogger(logger.L()),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("提交处理器异常退出", slog.Any("error", err))
		}
	}()

	// 策略文件热加载：只有白名单目标即时生效，
	// 限额与频率参数仍需重启。
	if whitelist != nil {
		watcher, err := config.NewWatcher([]string{cfg.Files.Policies}, func() {
			policies, err := config.LoadPolicies(cfg.Files.Policies)
			if err != nil {
				logger.L().Error("热加载策略失败", slog.Any("error", err))
				return
			}
			whitelist.Replace(policies.Whitelist.Targets)
			logger.Audit().Info("白名单已热加载",
				slog.Int("targets", len(policies.Whitelist.Targets)))
		})
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.L().Warn("策略监听器退出", slog.Any("error", err))
			}
		}()
	}

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	logger.L().Info("agentguardd 启动",
		slog.String("address", cfg.Server.Address),
		slog.Int("workers", cfg.Pipeline.Workers),
	)

	server := api.NewServer(cfg.Server.Address, service)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// registerChains 按链配置创建适配器并注册到路由器。
func registerChains(ctx context.Context, path string, router *chain.Router, wallets *wallet.Registry, sg *signer.Signer) error {
	defs, err := chain.LoadDefinitions(path)
	if err != nil {
		return err
	}
	for name, def := range defs.Chains {
		var adapter chain.Adapter
		switch def.Type {
		case "", "evm":
			interval, err := parseConfirmInterval(def.ConfirmInterval)
			if err != nil {
				return fmt.Errorf("链 %s: %w", name, err)
			}
			adapter, err = ethereum.NewAdapter(ctx, ethereum.Config{
				Name:            name,
				RPCURL:          def.RPCURL,
				ConfirmAttempts: def.ConfirmAttempts,
				ConfirmInterval: interval,
				Notes:           def.Description,
			}, wallets, ethereum.WithKeyAccess(sg))
			if err != nil {
				return fmt.Errorf("创建链 %s 的适配器失败: %w", name, err)
			}
		case "devnet":
			adapter = devnet.NewAdapter(name, wallets)
		default:
			return fmt.Errorf("链 %s: 未知的链类型 %q", name, def.Type)
		}
		if err := router.Register(name, adapter); err != nil {
			return err
		}
	}
	return nil
}

func parseConfirmInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	interval, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("confirm_interval 非法: %w", err)
	}
	return interval, nil
}

// buildEngine 根据策略文件装配引擎。返回白名单实例供热加载使用。
func buildEngine(path string) (*policy.Engine, *policy.ProgramWhitelist, error) {
	policies, err := config.LoadPolicies(path)
	if err != nil {
		return nil, nil, err
	}

	engine := policy.NewEngine()
	if policies.SpendLimit.Enabled {
		max, err := policies.SpendLimitMax()
		if err != nil {
			return nil, nil, err
		}
		window, err := policies.SpendLimitWindow()
		if err != nil {
			return nil, nil, err
		}
		engine.Register(policy.NewSpendLimit(max, window))
	}
	if policies.RateLimit.Enabled {
		engine.Register(policy.NewRateLimit(policies.RateLimit.MaxPerMinute))
	}

	var whitelist *policy.ProgramWhitelist
	if policies.Whitelist.Enabled {
		whitelist = policy.NewProgramWhitelist(policies.Whitelist.Targets)
		engine.Register(whitelist)
	}
	return engine, whitelist, nil
}

func createKeyStore(cfg *config.Config) (keystore.Store, error) {
	switch cfg.Keystore.Driver {
	case "", "memory":
		return keystore.NewMemoryStore(), nil
	case "file":
		entries, err := keystore.LoadManifest(cfg.Keystore.Path)
		if err != nil {
			return nil, err
		}
		return keystore.NewFileStore(entries), nil
	default:
		return nil, fmt.Errorf("未知的密钥存储驱动: %s", cfg.Keystore.Driver)
	}
}

func createStore(cfg *config.Config) (submit.Store, error) {
	switch cfg.Storage.ExecutionStore.Driver {
	case "", "memory":
		return submit.NewMemoryStore(), nil
	case "mysql":
		return submit.NewMySQLStore(cfg.Storage.ExecutionStore.DSN)
	default:
		return nil, fmt.Errorf("未知的执行存储驱动: %s", cfg.Storage.ExecutionStore.Driver)
	}
}

func createQueue(cfg *config.Config) (submit.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return submit.NewMemoryQueue(1024), nil
	case "redis":
		return submit.NewRedisQueue(submit.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Address,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.Queue,
		})
	case "rabbitmq":
		return submit.NewRabbitMQQueue(submit.RabbitMQConfig{
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
