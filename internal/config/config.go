package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Config 描述了 XOS-Runner 在启动阶段需要加载的全部配置。
type Config struct {
	Runtime    RuntimeConfig   `json:"runtime"`
	Proxy      ProxyConfig     `json:"proxy"`
	Scheduler  SchedulerConfig `json:"scheduler"`
	API        APIConfig       `json:"api"`
	Chain      ChainConfig     `json:"chain"`
	Features   FeatureConfig   `json:"features"`
	Swap       SwapConfig      `json:"swap"`
	Captcha    CaptchaConfig   `json:"captcha"`
	Storage    StorageConfig   `json:"storage"`
	Report     ReportConfig    `json:"report"`
	Log        LogConfig       `json:"log"`
	Metrics    MetricsConfig   `json:"metrics"`
	UserAgents []string        `json:"user_agents"`
}

// RuntimeConfig 放置输入文件与数据目录。
type RuntimeConfig struct {
	DataDir         string `json:"data_dir"`
	PrivateKeysFile string `json:"private_keys_file"`
	ProxyFile       string `json:"proxy_file"`
	EnvFile         string `json:"env_file"`
}

// ProxyConfig 控制代理模式。
type ProxyConfig struct {
	Enabled   bool   `json:"enabled"`
	UseForRPC bool   `json:"use_for_rpc"`
	IPEchoURL string `json:"ip_echo_url"`
}

// SchedulerConfig 控制批次并发、批次间隔与轮次间隔。
type SchedulerConfig struct {
	MaxWorkers         int    `json:"max_workers"`
	MaxWorkersNoProxy  int    `json:"max_workers_no_proxy"`
	RestMinutes        int    `json:"rest_minutes"`
	BatchPauseSeconds  int    `json:"batch_pause_seconds"`
	WorkerTimeoutHours int    `json:"worker_timeout_hours"`
	StartDelaySeconds  [2]int `json:"start_delay_seconds"`
	SpinPacingSeconds  int    `json:"spin_pacing_seconds"`
	StepPacingSeconds  int    `json:"step_pacing_seconds"`
}

// APIConfig 描述远端服务与请求重试策略。
type APIConfig struct {
	BaseURL                  string `json:"base_url"`
	DiscoveryURL             string `json:"discovery_url"`
	FaucetURL                string `json:"faucet_url"`
	RefCode                  string `json:"ref_code"`
	Retries                  int    `json:"retries"`
	RetryBackoffSeconds      int    `json:"retry_backoff_seconds"`
	RateLimitCooldownSeconds int    `json:"rate_limit_cooldown_seconds"`
	MaxRateLimitCooldowns    int    `json:"max_rate_limit_cooldowns"`
	TimeoutSeconds           int    `json:"timeout_seconds"`
}

// ChainConfig 包含访问区块链节点所需的 RPC 地址与代币定义文件。
type ChainConfig struct {
	RPCURL      string `json:"rpc_url"`
	ChainID     int64  `json:"chain_id"`
	TokensFile  string `json:"tokens_file"`
	ExplorerURL string `json:"explorer_url"`
}

// FeatureConfig 是各可选步骤的开关。
type FeatureConfig struct {
	AutoFaucet   bool `json:"auto_faucet"`
	AutoSwap     bool `json:"auto_swap"`
	AutoRegister bool `json:"auto_register"`
}

// SwapConfig 控制链上兑换的随机区间。
type SwapConfig struct {
	Tokens       []string   `json:"tokens"`
	AmountRange  [2]int     `json:"amount_range"`
	PercentRange [2]float64 `json:"percent_range"`
	DelayRange   [2]int     `json:"delay_range_seconds"`
}

// CaptchaConfig 选择验证码服务。
type CaptchaConfig struct {
	Provider   string `json:"provider"`
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"api_key"`
	APIKeyEnv  string `json:"api_key_env"`
	WebsiteURL string `json:"website_url"`
	WebsiteKey string `json:"website_key"`
}

// StorageConfig 选择令牌与 UA 绑定的持久化后端。
type StorageConfig struct {
	Driver        string      `json:"driver"`
	TokenFile     string      `json:"token_file"`
	UserAgentFile string      `json:"user_agent_file"`
	DSN           string      `json:"dsn"`
	Redis         RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// ReportConfig 决定会话结果的去向。
type ReportConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// LogConfig 映射到 pkg/logger。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Debug       bool     `json:"debug"`
}

// MetricsConfig 控制 Prometheus 指标端点，地址为空时不启动。
type MetricsConfig struct {
	Address string `json:"address"`
}

// Load 负责解析指定路径的 JSON 配置文件，并叠加 .env 中的敏感配置。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := newConfig()
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	baseDir := filepath.Dir(path)
	cfg.applyDefaults(baseDir)
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newConfig 预置允许显式写 0 的字段，JSON 中未出现的字段保留这些默认值。
func newConfig() Config {
	return Config{
		Scheduler: SchedulerConfig{
			RestMinutes:       1440,
			BatchPauseSeconds: 3,
			SpinPacingSeconds: 1,
			StepPacingSeconds: 1,
		},
		API: APIConfig{
			Retries:                  2,
			RetryBackoffSeconds:      5,
			RateLimitCooldownSeconds: 60,
			MaxRateLimitCooldowns:    5,
		},
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = baseDir
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	c.Runtime.PrivateKeysFile = c.resolve(c.Runtime.PrivateKeysFile, "privateKeys.txt")
	c.Runtime.ProxyFile = c.resolve(c.Runtime.ProxyFile, "proxy.txt")
	c.Runtime.EnvFile = c.resolve(c.Runtime.EnvFile, ".env")

	if c.Proxy.IPEchoURL == "" {
		c.Proxy.IPEchoURL = "https://api.ipify.org?format=json"
	}

	if c.Scheduler.MaxWorkers <= 0 {
		c.Scheduler.MaxWorkers = 10
	}
	if c.Scheduler.MaxWorkersNoProxy <= 0 {
		c.Scheduler.MaxWorkersNoProxy = 2
	}
	if c.Scheduler.WorkerTimeoutHours <= 0 {
		c.Scheduler.WorkerTimeoutHours = 24
	}

	if c.API.BaseURL == "" && c.API.DiscoveryURL == "" {
		c.API.BaseURL = "https://api.x.ink/v1"
	}
	if c.API.FaucetURL == "" {
		c.API.FaucetURL = "https://faucet.x.ink"
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = 120
	}

	if c.Chain.RPCURL == "" {
		c.Chain.RPCURL = "https://testnet-rpc.x.ink"
	}
	if c.Chain.ChainID == 0 {
		c.Chain.ChainID = 1267
	}
	if c.Chain.TokensFile != "" && !filepath.IsAbs(c.Chain.TokensFile) {
		c.Chain.TokensFile = filepath.Join(baseDir, c.Chain.TokensFile)
	}
	if c.Chain.ExplorerURL == "" {
		c.Chain.ExplorerURL = "https://testnet.xoscan.io/tx/"
	}

	if c.Swap.AmountRange == [2]int{} {
		c.Swap.AmountRange = [2]int{1, 3}
	}
	if c.Swap.PercentRange == [2]float64{} {
		c.Swap.PercentRange = [2]float64{1, 5}
	}
	if c.Swap.DelayRange == [2]int{} {
		c.Swap.DelayRange = [2]int{5, 10}
	}

	if c.Captcha.Provider == "" {
		c.Captcha.Provider = "2captcha"
	}
	if c.Captcha.APIKeyEnv == "" {
		c.Captcha.APIKeyEnv = "XOS_CAPTCHA_API_KEY"
	}
	if c.Captcha.WebsiteURL == "" {
		c.Captcha.WebsiteURL = c.API.FaucetURL
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	c.Storage.TokenFile = c.resolve(c.Storage.TokenFile, "localStorage.json")
	c.Storage.UserAgentFile = c.resolve(c.Storage.UserAgentFile, "session_user_agents.json")
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "xos"
	}

	if c.Report.Driver == "" {
		c.Report.Driver = "log"
	}
	if c.Report.RabbitMQ.Queue == "" {
		c.Report.RabbitMQ.Queue = "xos.session_results"
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func (c *Config) resolve(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Runtime.DataDir, path)
}

// applyEnv 加载 .env 文件（不存在时忽略），再用环境变量覆盖敏感字段。
func (c *Config) applyEnv() error {
	if err := godotenv.Load(c.Runtime.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}
	if v := strings.TrimSpace(os.Getenv("XOS_REF_CODE")); v != "" {
		c.API.RefCode = v
	}
	if v := strings.TrimSpace(os.Getenv("XOS_RPC_URL")); v != "" {
		c.Chain.RPCURL = v
	}
	if c.Captcha.APIKey == "" {
		c.Captcha.APIKey = strings.TrimSpace(os.Getenv(c.Captcha.APIKeyEnv))
	}
	return nil
}

// Validate 检查配置的一致性。
func (c *Config) Validate() error {
	if c.Scheduler.MaxWorkers <= 0 || c.Scheduler.MaxWorkersNoProxy <= 0 {
		return errors.New("并发数必须为正数")
	}
	for name, v := range map[string]int{
		"scheduler.rest_minutes":          c.Scheduler.RestMinutes,
		"scheduler.batch_pause_seconds":   c.Scheduler.BatchPauseSeconds,
		"scheduler.spin_pacing_seconds":   c.Scheduler.SpinPacingSeconds,
		"scheduler.step_pacing_seconds":   c.Scheduler.StepPacingSeconds,
		"api.retries":                     c.API.Retries,
		"api.retry_backoff_seconds":       c.API.RetryBackoffSeconds,
		"api.rate_limit_cooldown_seconds": c.API.RateLimitCooldownSeconds,
		"api.max_rate_limit_cooldowns":    c.API.MaxRateLimitCooldowns,
	} {
		if v < 0 {
			return fmt.Errorf("%s 不能为负数", name)
		}
	}
	if c.Scheduler.StartDelaySeconds[0] > c.Scheduler.StartDelaySeconds[1] {
		return errors.New("start_delay_seconds 区间无效")
	}
	if c.Swap.AmountRange[0] > c.Swap.AmountRange[1] {
		return errors.New("swap.amount_range 区间无效")
	}
	if c.Swap.PercentRange[0] > c.Swap.PercentRange[1] || c.Swap.PercentRange[1] > 100 {
		return errors.New("swap.percent_range 区间无效")
	}
	if c.Swap.DelayRange[0] > c.Swap.DelayRange[1] {
		return errors.New("swap.delay_range_seconds 区间无效")
	}
	switch c.Storage.Driver {
	case "file", "redis", "mysql":
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}
	switch c.Report.Driver {
	case "log", "rabbitmq":
	default:
		return fmt.Errorf("未知的结果上报驱动: %s", c.Report.Driver)
	}
	return nil
}

// Concurrency 返回当前代理模式下的批次大小上限。
func (c *Config) Concurrency() int {
	if c.Proxy.Enabled {
		return c.Scheduler.MaxWorkers
	}
	return c.Scheduler.MaxWorkersNoProxy
}
