package session

import (
	"strings"
	"time"

	"XOS-Runner/internal/chain"
	"XOS-Runner/internal/config"
)

// Settings 是一个会话运行所需的全部配置。
type Settings struct {
	BaseURL     string
	FaucetURL   string
	ExplorerURL string
	RefCode     string
	UseProxy    bool

	StartDelay [2]time.Duration
	SpinPacing time.Duration
	StepPacing time.Duration

	Retries           int
	Timeout           time.Duration
	Backoff           time.Duration
	RateLimitCooldown time.Duration
	MaxCooldowns      int

	AutoFaucet   bool
	AutoSwap     bool
	AutoRegister bool
	Swap         chain.SwapPlan
}

// NewSettings 从配置构造 Settings，baseURL 为服务发现得到的 API 地址。
func NewSettings(cfg *config.Config, baseURL string) Settings {
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return Settings{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		FaucetURL:   strings.TrimRight(cfg.API.FaucetURL, "/"),
		ExplorerURL: cfg.Chain.ExplorerURL,
		RefCode:     cfg.API.RefCode,
		UseProxy:    cfg.Proxy.Enabled,

		StartDelay: [2]time.Duration{seconds(cfg.Scheduler.StartDelaySeconds[0]), seconds(cfg.Scheduler.StartDelaySeconds[1])},
		SpinPacing: seconds(cfg.Scheduler.SpinPacingSeconds),
		StepPacing: seconds(cfg.Scheduler.StepPacingSeconds),

		Retries:           retries(cfg.API.Retries),
		Timeout:           seconds(cfg.API.TimeoutSeconds),
		Backoff:           seconds(cfg.API.RetryBackoffSeconds),
		RateLimitCooldown: seconds(cfg.API.RateLimitCooldownSeconds),
		MaxCooldowns:      cfg.API.MaxRateLimitCooldowns,

		AutoFaucet:   cfg.Features.AutoFaucet,
		AutoSwap:     cfg.Features.AutoSwap,
		AutoRegister: cfg.Features.AutoRegister,
		Swap: chain.SwapPlan{
			Targets:      cfg.Swap.Tokens,
			CountRange:   cfg.Swap.AmountRange,
			PercentRange: cfg.Swap.PercentRange,
			DelayRange:   [2]time.Duration{seconds(cfg.Swap.DelayRange[0]), seconds(cfg.Swap.DelayRange[1])},
		},
	}
}

// retries 把配置中的重试次数转换为 httpx.Options 的约定：0 表示不重试。
func retries(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
