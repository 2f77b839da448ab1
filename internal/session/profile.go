package session

import (
	"strconv"
	"strings"
	"time"

	"XOS-Runner/internal/httpx"
)

// Profile 是 /me 返回的账号资料中本流程关心的字段。
type Profile struct {
	CheckInCount int64
	Points       float64
	CurrentDraws int64
	LastCheckIn  string
	TwitterID    string
	DiscordID    string
}

func profileFrom(res httpx.Result) Profile {
	return Profile{
		CheckInCount: res.Get("check_in_count").Int(),
		Points:       res.Get("points").Float(),
		CurrentDraws: res.Get("currentDraws").Int(),
		LastCheckIn:  res.Get("lastCheckIn").String(),
		TwitterID:    res.Get("twitter.id").String(),
		DiscordID:    res.Get("discord.id").String(),
	}
}

// HasSocial 报告是否绑定了 X 或 Discord，签到与抽奖都需要绑定。
func (p Profile) HasSocial() bool {
	return p.TwitterID != "" || p.DiscordID != ""
}

// CheckedInToday 判断 lastCheckIn 是否与 now 处于同一个 UTC 日历日。
// 支持 RFC 3339 字符串与毫秒时间戳，无法解析时视为未签到。
func CheckedInToday(lastCheckIn string, now time.Time) bool {
	last, ok := parseTimestamp(lastCheckIn)
	if !ok {
		return false
	}
	ly, lm, ld := last.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	return ly == ny && lm == nm && ld == nd
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
