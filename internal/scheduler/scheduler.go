// Package scheduler 按批次并发执行账号会话，并在每轮结束后休息再开始下一轮。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"

	"XOS-Runner/internal/account"
	"XOS-Runner/internal/clock"
	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/internal/report"
	"XOS-Runner/internal/session"
	"XOS-Runner/pkg/logger"
)

// 调度器在会话结果之外追加的终止状态。
const (
	OutcomeTimeout   = "timeout"
	OutcomePanic     = "panic"
	OutcomeCancelled = "cancelled"
)

// Runner 执行单个账号的一轮会话，由 session.Factory 实现。
type Runner interface {
	Run(ctx context.Context, acc account.Account) session.Result
}

// Metrics 记录调度指标，由 metrics.Collector 实现。
type Metrics interface {
	RecordSession(outcome string, duration time.Duration)
	RecordPass(finished time.Time)
	SetInFlight(n int)
	SetAccounts(n int)
}

// Result 是一个账号在一轮中的结果。
type Result struct {
	PassID       string
	AccountIndex int
	Address      string
	Outcome      string
	Err          string
	Session      session.Result
}

// Failed 报告该账号本轮是否未完成。
func (r Result) Failed() bool {
	return r.Outcome != string(session.OutcomeCompleted)
}

// Record 转换为可投递的结果记录。
func (r Result) Record(finished time.Time) report.Record {
	rec := report.Record{
		PassID:       r.PassID,
		AccountIndex: r.AccountIndex,
		Address:      r.Address,
		IP:           r.Session.IP,
		Outcome:      r.Outcome,
		Reason:       r.Session.Reason,
		Error:        r.Err,
		Points:       r.Session.Points,
		CheckIns:     r.Session.CheckIns,
		Spins:        r.Session.Spins,
		DurationMS:   r.Session.Duration.Milliseconds(),
		FinishedAt:   finished,
	}
	if r.Session.Err != nil {
		rec.Code = string(xerrors.CodeOf(r.Session.Err))
	}
	return rec
}

// Scheduler 将账号切分为不超过 concurrency 的批次依次执行。
type Scheduler struct {
	runner        Runner
	concurrency   int
	workerTimeout time.Duration
	batchPause    time.Duration
	rest          time.Duration

	sleep   clock.SleepFunc
	now     clock.NowFunc
	newID   func() string
	sink    report.Sink
	metrics Metrics
	logger  *slog.Logger
}

// Option 定义可选配置。
type Option func(*Scheduler)

// WithWorkerTimeout 设置单个会话的硬性超时。
func WithWorkerTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.workerTimeout = d
		}
	}
}

// WithBatchPause 设置批次之间的间隔。
func WithBatchPause(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.batchPause = d
		}
	}
}

// WithRest 设置每轮结束后的休息时间。
func WithRest(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.rest = d
		}
	}
}

// WithSleep 注入等待函数。
func WithSleep(sleep clock.SleepFunc) Option {
	return func(s *Scheduler) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithNow 注入时钟。
func WithNow(now clock.NowFunc) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPassID 替换轮次 ID 生成器。
func WithPassID(gen func() string) Option {
	return func(s *Scheduler) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithSink 设置结果投递目标。
func WithSink(sink report.Sink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// WithMetrics 设置指标收集器。
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New 构造 Scheduler。concurrency 小于 1 时按 1 处理。
func New(runner Runner, concurrency int, opts ...Option) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	s := &Scheduler{
		runner:        runner,
		concurrency:   concurrency,
		workerTimeout: 24 * time.Hour,
		batchPause:    3 * time.Second,
		rest:          24 * time.Hour,
		sleep:         clock.Sleep,
		now:           time.Now,
		newID:         uuid.NewString,
		logger:        logger.Named("scheduler"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Batches 按原始顺序把 items 切成长度不超过 limit 的批次。
func Batches[T any](items []T, limit int) [][]T {
	if limit < 1 {
		limit = 1
	}
	out := make([][]T, 0, (len(items)+limit-1)/limit)
	for start := 0; start < len(items); start += limit {
		end := min(start+limit, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// Run 无限循环执行轮次，只在 ctx 结束时返回。
func (s *Scheduler) Run(ctx context.Context, accounts []account.Account) error {
	if len(accounts) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "没有可调度的账号")
	}
	if s.metrics != nil {
		s.metrics.SetAccounts(len(accounts))
	}
	for {
		s.RunPass(ctx, accounts)
		if err := ctx.Err(); err != nil {
			return err
		}
		s.logger.Info("所有账号已完成，进入休息",
			slog.Duration("rest", s.rest),
			slog.String("resume_at", s.now().Add(s.rest).Format(time.DateTime)))
		if err := s.sleep(ctx, s.rest); err != nil {
			return err
		}
	}
}

// RunPass 执行一轮，返回按账号序号排序的结果。
func (s *Scheduler) RunPass(ctx context.Context, accounts []account.Account) []Result {
	passID := s.newID()
	l := s.logger.With(slog.String("pass", passID))
	batches := Batches(accounts, s.concurrency)
	l.Info("开始新一轮", slog.Int("accounts", len(accounts)), slog.Int("batches", len(batches)))

	results := make([]Result, 0, len(accounts))
	for i, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		results = append(results, s.runBatch(ctx, passID, batch)...)
		if i < len(batches)-1 {
			if err := s.sleep(ctx, s.batchPause); err != nil {
				break
			}
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].AccountIndex < results[j].AccountIndex })

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	finished := s.now()
	if s.metrics != nil {
		s.metrics.RecordPass(finished)
	}
	l.Info("本轮结束", slog.Int("completed", len(results)-failed), slog.Int("failed", failed))
	return results
}

// runBatch 为批次中每个账号启动一个 goroutine，并等待全部返回或超时。
func (s *Scheduler) runBatch(ctx context.Context, passID string, batch []account.Account) []Result {
	out := make(chan Result, len(batch))
	for _, acc := range batch {
		go s.worker(ctx, passID, acc, out)
	}

	pending := len(batch)
	if s.metrics != nil {
		s.metrics.SetInFlight(pending)
	}
	results := make([]Result, 0, len(batch))
	for pending > 0 {
		r := <-out
		pending--
		if s.metrics != nil {
			s.metrics.SetInFlight(pending)
			s.metrics.RecordSession(r.Outcome, r.Session.Duration)
		}
		s.publish(ctx, r)
		results = append(results, r)
	}
	return results
}

// worker 在超时后不再等待会话，同时取消会话的 ctx，会话中的请求随之以取消结束。
func (s *Scheduler) worker(ctx context.Context, passID string, acc account.Account, out chan<- Result) {
	wctx, cancel := context.WithTimeout(ctx, s.workerTimeout)
	defer cancel()

	base := Result{PassID: passID, AccountIndex: acc.Index, Address: acc.Address}
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("会话发生 panic",
					slog.Int("index", acc.Index+1),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())))
				r := base
				r.Outcome = OutcomePanic
				r.Err = fmt.Sprint(rec)
				done <- r
			}
		}()
		sr := s.runner.Run(wctx, acc)
		r := base
		r.Session = sr
		r.Outcome = string(sr.Outcome)
		if sr.Err != nil {
			r.Err = sr.Err.Error()
		}
		done <- r
	}()

	select {
	case r := <-done:
		out <- r
	case <-wctx.Done():
		r := base
		if ctx.Err() != nil {
			r.Outcome = OutcomeCancelled
			r.Err = ctx.Err().Error()
		} else {
			r.Outcome = OutcomeTimeout
			r.Err = fmt.Sprintf("会话超过 %s 未结束", s.workerTimeout)
			s.logger.Warn("会话超时", slog.Int("index", acc.Index+1), slog.String("wallet", acc.Address))
		}
		out <- r
	}
}

func (s *Scheduler) publish(ctx context.Context, r Result) {
	if s.sink == nil {
		return
	}
	// 投递不受本轮取消影响，但有单独的超时。
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.sink.Publish(pctx, r.Record(s.now())); err != nil {
		s.logger.Warn("投递会话结果失败", slog.Any("error", err))
	}
}
