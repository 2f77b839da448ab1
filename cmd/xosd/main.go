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

	"XOS-Runner/internal/account"
	"XOS-Runner/internal/captcha"
	"XOS-Runner/internal/chain"
	"XOS-Runner/internal/config"
	"XOS-Runner/internal/discovery"
	"XOS-Runner/internal/kvstore"
	"XOS-Runner/internal/observability/metrics"
	"XOS-Runner/internal/proxy"
	"XOS-Runner/internal/report"
	"XOS-Runner/internal/scheduler"
	"XOS-Runner/internal/session"
	"XOS-Runner/internal/useragent"
	"XOS-Runner/pkg/logger"
)

// main 是 xosd 的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("xosd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("XOS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "xos.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Debug:       cfg.Log.Debug,
	}); err != nil {
		return err
	}
	defer logger.Sync()
	l := logger.L()

	accounts, err := account.Load(cfg.Runtime.PrivateKeysFile, cfg.Runtime.ProxyFile, cfg.Proxy.Enabled)
	if err != nil {
		return err
	}
	if !cfg.Proxy.Enabled {
		l.Warn("未启用代理运行")
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	tokens, err := openStore(ctx, cfg, cfg.Storage.TokenFile, "tokens")
	if err != nil {
		return err
	}
	defer tokens.Close()
	agentStore, err := openStore(ctx, cfg, cfg.Storage.UserAgentFile, "user_agents")
	if err != nil {
		return err
	}
	defer agentStore.Close()

	binder := useragent.NewBinder(agentStore, cfg.UserAgents)
	for _, acc := range accounts {
		if _, _, err := binder.Bind(ctx, acc.Address); err != nil {
			return fmt.Errorf("为账号 %s 创建 User-Agent 失败: %w", acc.Label(), err)
		}
	}

	endpoint, err := discoverer(cfg).Discover(ctx)
	if err != nil {
		return fmt.Errorf("无法获取 API 地址，请稍后重试: %w", err)
	}
	if endpoint.Message != "" {
		l.Warn(endpoint.Message)
	}

	defs, err := chain.LoadDefinitions(cfg.Chain.TokensFile)
	if err != nil {
		return err
	}
	shared, closeRPC := sharedOperator(ctx, cfg, defs)
	defer closeRPC()

	sink, err := report.Open(cfg.Report)
	if err != nil {
		return err
	}
	defer sink.Close()

	collector := metrics.NewCollector("xos")
	if cfg.Metrics.Address != "" {
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.Address); err != nil {
				l.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	factory := session.Factory{
		Deps: session.Deps{
			Tokens:   tokens,
			Agents:   binder,
			Resolver: proxy.NewResolver(proxy.WithEchoURL(cfg.Proxy.IPEchoURL)),
			Captcha:  captchaSolver(cfg),
			Onchain:  onchainFactory(cfg, defs, shared),
		},
		Settings: session.NewSettings(cfg, endpoint.URL),
	}
	sched := scheduler.New(factory, cfg.Concurrency(),
		scheduler.WithWorkerTimeout(time.Duration(cfg.Scheduler.WorkerTimeoutHours)*time.Hour),
		scheduler.WithBatchPause(time.Duration(cfg.Scheduler.BatchPauseSeconds)*time.Second),
		scheduler.WithRest(time.Duration(cfg.Scheduler.RestMinutes)*time.Minute),
		scheduler.WithSink(sink),
		scheduler.WithMetrics(collector),
	)

	l.Info("开始调度", slog.Int("accounts", len(accounts)), slog.Int("concurrency", cfg.Concurrency()))
	if err := sched.Run(ctx, accounts); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, path, namespace string) (kvstore.Store, error) {
	return kvstore.Open(ctx, kvstore.Config{
		Driver:        cfg.Storage.Driver,
		Path:          path,
		DSN:           cfg.Storage.DSN,
		RedisAddress:  cfg.Storage.Redis.Address,
		RedisPassword: cfg.Storage.Redis.Password,
		RedisDB:       cfg.Storage.Redis.DB,
		RedisPrefix:   cfg.Storage.Redis.Prefix,
	}, namespace)
}

func discoverer(cfg *config.Config) discovery.Discoverer {
	if cfg.API.DiscoveryURL != "" {
		return discovery.NewHTTP(cfg.API.DiscoveryURL, 30*time.Second)
	}
	return discovery.Static{URL: cfg.API.BaseURL}
}

func captchaSolver(cfg *config.Config) session.CaptchaSolver {
	if !cfg.Features.AutoFaucet {
		return nil
	}
	solver, err := captcha.NewClient(captcha.Config{
		Provider:   cfg.Captcha.Provider,
		Endpoint:   cfg.Captcha.Endpoint,
		APIKey:     cfg.Captcha.APIKey,
		WebsiteURL: cfg.Captcha.WebsiteURL,
		WebsiteKey: cfg.Captcha.WebsiteKey,
	})
	if err != nil {
		logger.L().Warn("验证码服务不可用，水龙头将被跳过", slog.Any("error", err))
		return nil
	}
	return solver
}
