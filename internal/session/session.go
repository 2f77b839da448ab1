package session

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"math/rand/v2"
	"time"

	"XOS-Runner/internal/account"
	"XOS-Runner/internal/auth"
	"XOS-Runner/internal/chain"
	"XOS-Runner/internal/clock"
	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/internal/httpx"
	"XOS-Runner/internal/kvstore"
	"XOS-Runner/pkg/logger"
)

// Outcome 是会话的终止状态。
type Outcome string

const (
	// OutcomeCompleted 表示所有步骤都已执行。
	OutcomeCompleted Outcome = "completed"
	// OutcomeAborted 表示会话在某一步被中止。
	OutcomeAborted Outcome = "aborted"
)

// Result 汇总一次会话的结果。
type Result struct {
	AccountIndex int
	Address      string
	IP           string
	Outcome      Outcome
	Reason       string
	Err          error
	Points       float64
	CheckIns     int64
	Spins        int
	Duration     time.Duration
}

// UABinder 为地址分配固定的 User-Agent。
type UABinder interface {
	Bind(ctx context.Context, address string) (ua string, created bool, err error)
}

// IPResolver 通过代理查询出口 IP。
type IPResolver interface {
	Resolve(ctx context.Context, proxyURL string) (string, error)
}

// CaptchaSolver 为水龙头领取提供验证码 token。
type CaptchaSolver interface {
	Solve(ctx context.Context, proxyURL string) (string, error)
}

// Onchain 是会话需要的链上能力，由 chain.Operator 实现。
type Onchain interface {
	Balances(ctx context.Context, owner string) []chain.Balance
	RegisterIdentity(ctx context.Context, key *ecdsa.PrivateKey) error
	RunSwaps(ctx context.Context, key *ecdsa.PrivateKey, plan chain.SwapPlan) error
}

// OnchainFactory 为会话准备链上客户端，release 在会话结束时调用。
type OnchainFactory func(ctx context.Context, acc account.Account, l *slog.Logger) (oc Onchain, release func(), err error)

// Deps 是所有会话共享的协作者。Captcha 与 Onchain 可以为 nil。
type Deps struct {
	Tokens   kvstore.Store
	Agents   UABinder
	Resolver IPResolver
	Captcha  CaptchaSolver
	Onchain  OnchainFactory
}

// Session 执行单个账号的一轮流程，不可复用。
type Session struct {
	acc      account.Account
	deps     Deps
	settings Settings

	now    clock.NowFunc
	sleep  clock.SleepFunc
	intn   func(n int) int
	fatal  httpx.FatalHandler
	logger *slog.Logger

	client  *httpx.Client
	auth    *auth.Manager
	onchain Onchain
	release func()
	ip      string
}

// Option 定义可选配置。
type Option func(*Session)

// WithNow 注入时钟。
func WithNow(now clock.NowFunc) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSleep 注入等待函数，测试中使用 clock.NoSleep。
func WithSleep(sleep clock.SleepFunc) Option {
	return func(s *Session) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithFatalHandler 替换不可恢复 401 的处理方式。
func WithFatalHandler(h httpx.FatalHandler) Option {
	return func(s *Session) {
		s.fatal = h
	}
}

// WithLogger 指定基础日志。
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// New 创建会话。
func New(acc account.Account, deps Deps, settings Settings, opts ...Option) *Session {
	s := &Session{
		acc:      acc,
		deps:     deps,
		settings: settings,
		now:      time.Now,
		sleep:    clock.Sleep,
		intn:     rand.IntN,
		logger:   logger.L(),
		ip:       "local",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run 按顺序执行全部步骤并返回结果。
func (s *Session) Run(ctx context.Context) Result {
	started := s.now()
	res := s.run(ctx)
	res.AccountIndex = s.acc.Index
	res.Address = s.acc.Address
	res.IP = s.ip
	res.Duration = s.now().Sub(started)
	if s.release != nil {
		s.release()
	}
	return res
}

func (s *Session) run(ctx context.Context) Result {
	if err := s.bind(ctx); err != nil {
		return s.abort("绑定会话失败", err)
	}

	if _, ok := s.auth.ValidToken(ctx, false); !ok {
		return s.abort("登录失败", xerrors.New(xerrors.CodeAuthFailure, "cannot obtain token"))
	}

	profile, err := s.syncData(ctx)
	if err != nil {
		return s.abort("无法获取用户信息", err)
	}

	res := Result{Outcome: OutcomeCompleted, Points: profile.Points, CheckIns: profile.CheckInCount}
	if profile.HasSocial() {
		if err := s.pace(ctx); err != nil {
			return s.abort("会话被取消", err)
		}
		s.checkIn(ctx, profile)
		if err := s.pace(ctx); err != nil {
			return s.abort("会话被取消", err)
		}
		spins, err := s.spin(ctx, profile.CurrentDraws)
		res.Spins = spins
		if err != nil {
			return s.abort("会话被取消", err)
		}
	} else {
		s.logger.Warn("需要绑定 X 或 Discord 才能签到")
	}

	if s.settings.AutoFaucet {
		s.faucet(ctx)
	}
	if err := s.pace(ctx); err != nil {
		return s.abort("会话被取消", err)
	}
	s.runOnchain(ctx)

	if ctx.Err() != nil {
		return s.abort("会话被取消", ctx.Err())
	}
	logger.Success(s.logger, "本轮完成")
	return res
}

func (s *Session) abort(reason string, err error) Result {
	s.logger.Error(reason, slog.Any("error", err))
	return Result{Outcome: OutcomeAborted, Reason: reason, Err: err}
}

func (s *Session) pace(ctx context.Context) error {
	return s.sleep(ctx, s.settings.StepPacing)
}
