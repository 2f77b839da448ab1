package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"XOS-Runner/internal/config"
)

type recordingChannel struct {
	key    string
	msg    amqp.Publishing
	closed bool
}

func (c *recordingChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.key = key
	c.msg = msg
	return nil
}

func (c *recordingChannel) Close() error {
	c.closed = true
	return nil
}

func TestRabbitMQSinkPublishesJSON(t *testing.T) {
	ch := &recordingChannel{}
	sink := &RabbitMQSink{ch: ch, queue: "xos.session_results"}
	rec := Record{PassID: "p1", AccountIndex: 0, Address: "0xabc", Outcome: "completed", Spins: 3, FinishedAt: time.Unix(0, 0).UTC()}

	if err := sink.Publish(context.Background(), rec); err != nil {
		t.Fatalf("发布失败: %v", err)
	}
	if ch.key != "xos.session_results" || ch.msg.ContentType != "application/json" {
		t.Fatalf("消息路由不正确: %q %q", ch.key, ch.msg.ContentType)
	}
	var got Record
	if err := json.Unmarshal(ch.msg.Body, &got); err != nil {
		t.Fatalf("消息体不是 JSON: %v", err)
	}
	if got.Address != "0xabc" || got.Spins != 3 || ch.msg.MessageId != "p1/0xabc" {
		t.Fatalf("消息内容不正确: %+v", got)
	}
	if err := sink.Close(); err != nil || !ch.closed {
		t.Fatalf("关闭失败: %v", err)
	}
}

func TestLogSinkWritesFailures(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))
	_ = sink.Publish(context.Background(), Record{PassID: "p", Outcome: "timeout", Reason: "超时", Error: "deadline exceeded"})
	if !strings.Contains(buf.String(), "outcome=timeout") || !strings.Contains(buf.String(), "deadline exceeded") {
		t.Fatalf("失败结果应以 WARN 输出: %s", buf.String())
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Publish(context.Context, Record) error {
	f.calls++
	return errors.New("down")
}

func (f *failingSink) Close() error { return nil }

func TestFanoutContinuesAfterFailure(t *testing.T) {
	a, b := &failingSink{}, &failingSink{}
	err := Fanout{a, nil, b}.Publish(context.Background(), Record{})
	if err == nil || a.calls != 1 || b.calls != 1 {
		t.Fatalf("每个 sink 都应被调用并汇总错误: %v", err)
	}
}

func TestOpen(t *testing.T) {
	sink, err := Open(config.ReportConfig{Driver: "log"})
	if err != nil {
		t.Fatalf("log 模式应可用: %v", err)
	}
	if _, ok := sink.(*LogSink); !ok {
		t.Fatalf("期望 LogSink，得到 %T", sink)
	}
	if _, err := Open(config.ReportConfig{Driver: "kafka"}); err == nil {
		t.Fatal("未知输出应报错")
	}
	if _, err := Open(config.ReportConfig{Driver: "rabbitmq"}); err == nil {
		t.Fatal("缺少 URL 时应报错")
	}
}
