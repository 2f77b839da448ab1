package httpx

import (
	"fmt"
	"regexp"
)

var baseHeaders = map[string]string{
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "en-US,en;q=0.9",
	"Content-Type":    "application/json",
	"Origin":          "https://x.ink",
	"Referer":         "https://x.ink/",
	"Sec-Fetch-Dest":  "empty",
	"Sec-Fetch-Mode":  "cors",
	"Sec-Fetch-Site":  "same-site",
}

var platformPatterns = []struct {
	re       *regexp.Regexp
	platform string
}{
	{regexp.MustCompile(`(?i)iPhone`), "ios"},
	{regexp.MustCompile(`(?i)Android`), "android"},
	{regexp.MustCompile(`(?i)iPad`), "ios"},
}

// Platform guesses the client platform advertised in sec-ch-ua headers.
func Platform(userAgent string) string {
	for _, p := range platformPatterns {
		if p.re.MatchString(userAgent) {
			return p.platform
		}
	}
	return "Unknown"
}

// Headers is an immutable header set built once per session.
type Headers struct {
	m map[string]string
}

// NewHeaders builds the base header set for userAgent.
func NewHeaders(userAgent string) Headers {
	m := make(map[string]string, len(baseHeaders)+3)
	for k, v := range baseHeaders {
		m[k] = v
	}
	platform := Platform(userAgent)
	m["sec-ch-ua"] = fmt.Sprintf(`"Not)A;Brand";v="99", "%s WebView";v="127", "Chromium";v="127"`, platform)
	m["sec-ch-ua-platform"] = platform
	m["User-Agent"] = userAgent
	return Headers{m: m}
}

// With returns a copy of h with key set to value.
func (h Headers) With(key, value string) Headers {
	m := h.Map()
	m[key] = value
	return Headers{m: m}
}

// Get returns a single header value.
func (h Headers) Get(key string) string {
	return h.m[key]
}

// Map returns a copy of the headers.
func (h Headers) Map() map[string]string {
	m := make(map[string]string, len(h.m)+1)
	for k, v := range h.m {
		m[k] = v
	}
	return m
}
