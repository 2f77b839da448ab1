package session

import (
	"testing"

	"XOS-Runner/internal/config"
)

func TestNewSettingsMapsRetries(t *testing.T) {
	cfg := &config.Config{}
	cfg.API.Retries = 0
	if got := NewSettings(cfg, "https://api.example/v1/").Retries; got != -1 {
		t.Fatalf("retries=0 应关闭重试, 实际 %d", got)
	}
	cfg.API.Retries = 3
	s := NewSettings(cfg, "https://api.example/v1/")
	if s.Retries != 3 {
		t.Fatalf("期望 3 次重试, 实际 %d", s.Retries)
	}
	if s.BaseURL != "https://api.example/v1" {
		t.Fatalf("BaseURL 应去掉结尾斜杠: %s", s.BaseURL)
	}
}
