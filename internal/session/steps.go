package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"XOS-Runner/internal/auth"
	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/internal/httpx"
	"XOS-Runner/pkg/logger"
)

// bind 准备会话身份：UA、请求头、出口 IP、请求客户端与 token 管理器。
func (s *Session) bind(ctx context.Context) error {
	ua, created, err := s.deps.Agents.Bind(ctx, s.acc.Address)
	if err != nil {
		return err
	}

	if s.settings.UseProxy {
		ip, err := s.deps.Resolver.Resolve(ctx, s.acc.ProxyURL)
		if err != nil {
			return err
		}
		s.ip = ip
	}
	s.logger = s.logger.With(
		slog.String("account", s.acc.Label()),
		slog.String("address", s.acc.Address),
		slog.String("ip", s.ip),
	)
	if created {
		s.logger.Info("已创建 User-Agent", slog.String("platform", httpx.Platform(ua)))
	}

	opts := []httpx.Option{
		httpx.WithSleep(s.sleep),
		httpx.WithLogger(s.logger),
		httpx.WithTimeout(s.settings.Timeout),
		httpx.WithBackoff(s.settings.Backoff),
		httpx.WithRateLimit(s.settings.RateLimitCooldown, s.settings.MaxCooldowns),
		httpx.WithFatalHandler(s.fatal),
	}
	if s.settings.UseProxy {
		opts = append(opts, httpx.WithProxy(s.acc.ProxyURL))
	}
	s.client = httpx.NewClient(httpx.NewHeaders(ua), &httpx.TokenHolder{}, opts...)
	s.auth = auth.NewManager(s.acc, s.client, s.deps.Tokens, s.settings.BaseURL, s.settings.RefCode,
		auth.WithNow(s.now), auth.WithLogger(s.logger))
	s.client.SetRefresher(s.auth)

	if s.deps.Onchain != nil {
		oc, release, err := s.deps.Onchain(ctx, s.acc, s.logger)
		if err != nil {
			s.logger.Warn("连接 RPC 失败，跳过链上查询与操作", slog.Any("error", err))
		} else {
			s.onchain, s.release = oc, release
		}
	}

	if s.settings.UseProxy {
		delay := s.randomDelay(s.settings.StartDelay)
		s.logger.Info("等待开始", slog.Duration("delay", delay))
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) options() httpx.Options {
	return httpx.Options{Retries: s.settings.Retries}
}

func (s *Session) randomDelay(r [2]time.Duration) time.Duration {
	if r[1] <= r[0] {
		return r[0]
	}
	return r[0] + time.Duration(s.intn(int((r[1]-r[0])/time.Second)+1))*time.Second
}

// syncData 获取账号资料并输出余额。资料获取失败时额外重试一次，
// 400 除外。
func (s *Session) syncData(ctx context.Context) (Profile, error) {
	s.logger.Info("同步数据")
	var res httpx.Result
	for attempt := 0; attempt < 2; attempt++ {
		res = s.client.Get(ctx, s.settings.BaseURL+"/me", s.options())
		if res.Success || res.Status == http.StatusBadRequest || ctx.Err() != nil {
			break
		}
	}

	if !res.Success {
		s.logger.Warn("无法同步数据")
		if res.Err != nil {
			return Profile{}, res.Err
		}
		return Profile{}, xerrors.New(xerrors.CodeClientProtocol, "cannot get user info", xerrors.WithStatus(res.Status))
	}
	profile := profileFrom(res)

	attrs := make([]any, 0, 10)
	if s.onchain != nil {
		for _, b := range s.onchain.Balances(ctx, s.acc.Address) {
			attrs = append(attrs, slog.String(b.Symbol, b.Amount))
		}
	}
	attrs = append(attrs,
		slog.Int64("check_in_days", profile.CheckInCount),
		slog.Float64("points", profile.Points),
	)
	s.logger.Info("账号信息", attrs...)
	return profile, nil
}

func (s *Session) checkIn(ctx context.Context, profile Profile) {
	if CheckedInToday(profile.LastCheckIn, s.now()) {
		s.logger.Warn("今天已签到")
		return
	}
	res := s.client.Post(ctx, s.settings.BaseURL+"/check-in", map[string]any{}, s.options())
	if !res.Success {
		s.logger.Warn("签到失败", slog.String("error", res.Error))
		return
	}
	logger.Success(s.logger, "签到成功")
}

// spin 用完全部抽奖次数，返回成功次数。
func (s *Session) spin(ctx context.Context, draws int64) (int, error) {
	done := 0
	for draws > 0 {
		if err := s.sleep(ctx, s.settings.SpinPacing); err != nil {
			return done, err
		}
		draws--
		res := s.client.Post(ctx, s.settings.BaseURL+"/draw", map[string]any{}, s.options())
		if !res.Success {
			s.logger.Warn("抽奖失败", slog.String("error", res.Error))
			continue
		}
		done++
		logger.Success(s.logger, "抽奖成功", slog.String("points_earned", res.Get("pointsEarned").String()))
	}
	return done, nil
}

func (s *Session) faucet(ctx context.Context) {
	s.logger.Info("开始领取水龙头")
	opts := s.options()
	opts.Headers = map[string]string{"origin": s.settings.FaucetURL}

	eligibility := s.client.Get(ctx,
		s.settings.FaucetURL+"/api/checkAddressEligibility?address="+url.QueryEscape(s.acc.Address), opts)
	if !eligibility.Success || !eligibility.Get("canClaim").Bool() {
		msg := eligibility.Get("message").String()
		if msg == "" {
			msg = "该钱包今天无法领取"
		}
		s.logger.Warn(msg)
		return
	}

	if s.deps.Captcha == nil {
		s.logger.Warn("未配置验证码服务，跳过领取")
		return
	}
	s.logger.Info("正在识别验证码")
	token, err := s.deps.Captcha.Solve(ctx, s.acc.ProxyURL)
	if err != nil || token == "" {
		s.logger.Warn("验证码识别失败", slog.Any("error", err))
		return
	}

	body := map[string]string{
		"address":  s.acc.Address,
		"token":    "",
		"v2Token":  token,
		"chain":    "XOS",
		"couponId": "",
	}
	res := s.client.Post(ctx, s.settings.FaucetURL+"/api/sendToken", body, opts)
	txHash := res.Get("txHash").String()
	if !res.Success || txHash == "" {
		s.logger.Warn("领取失败", slog.Int("status", res.Status), slog.String("error", res.Error))
		return
	}
	logger.Success(s.logger, "领取成功", slog.String("tx", s.settings.ExplorerURL+txHash))
}

func (s *Session) runOnchain(ctx context.Context) {
	if s.onchain == nil || (!s.settings.AutoRegister && !s.settings.AutoSwap) {
		return
	}
	if s.settings.AutoRegister {
		if err := s.onchain.RegisterIdentity(ctx, s.acc.PrivateKey); err != nil {
			s.logger.Warn("注册域名失败", slog.Any("error", err))
		}
	}
	if s.settings.AutoSwap {
		if err := s.onchain.RunSwaps(ctx, s.acc.PrivateKey, s.settings.Swap); err != nil {
			s.logger.Warn(fmt.Sprintf("兑换中止: %v", err))
		}
	}
}
