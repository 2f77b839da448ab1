// Package report 将会话结果投递到日志或消息队列，供外部统计使用。
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"XOS-Runner/internal/config"
	xerrors "XOS-Runner/internal/errors"
	"XOS-Runner/pkg/logger"
)

// Record 描述一次会话的结果。
type Record struct {
	PassID       string    `json:"pass_id"`
	AccountIndex int       `json:"account_index"`
	Address      string    `json:"address"`
	IP           string    `json:"ip,omitempty"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	Error        string    `json:"error,omitempty"`
	Code         string    `json:"code,omitempty"`
	Points       float64   `json:"points"`
	CheckIns     int64     `json:"check_ins"`
	Spins        int       `json:"spins"`
	DurationMS   int64     `json:"duration_ms"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Sink 接收会话结果。
type Sink interface {
	Publish(ctx context.Context, record Record) error
	Close() error
}

// LogSink 把结果写入日志。
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink 创建 LogSink，l 为空时使用全局日志。
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = logger.Named("report")
	}
	return &LogSink{logger: l}
}

// Publish 实现 Sink。
func (s *LogSink) Publish(_ context.Context, r Record) error {
	attrs := []any{
		slog.String("pass", r.PassID),
		slog.Int("index", r.AccountIndex+1),
		slog.String("wallet", r.Address),
		slog.String("outcome", r.Outcome),
		slog.Int64("duration_ms", r.DurationMS),
	}
	if r.Error != "" {
		s.logger.Warn("会话结果", append(attrs, slog.String("reason", r.Reason), slog.String("error", r.Error))...)
		return nil
	}
	s.logger.Debug("会话结果", append(attrs, slog.Float64("points", r.Points), slog.Int("spins", r.Spins))...)
	return nil
}

// Close 实现 Sink。
func (s *LogSink) Close() error { return nil }

// Fanout 把结果投递给多个 Sink，单个失败不影响其他。
type Fanout []Sink

// Publish 实现 Sink。
func (f Fanout) Publish(ctx context.Context, r Record) error {
	var errs []error
	for i, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close 实现 Sink。
func (f Fanout) Close() error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open 根据配置创建 Sink。rabbitmq 模式同时保留日志输出。
func Open(cfg config.ReportConfig) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log":
		return NewLogSink(nil), nil
	case "rabbitmq":
		mq, err := NewRabbitMQSink(RabbitMQConfig{URL: cfg.RabbitMQ.URL, Queue: cfg.RabbitMQ.Queue, Durable: cfg.RabbitMQ.Durable})
		if err != nil {
			return nil, err
		}
		return Fanout{NewLogSink(nil), mq}, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的结果输出: %s", cfg.Driver))
	}
}
