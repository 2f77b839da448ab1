package proxy

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize turns a proxy file line into a proxy URL. Lines without a scheme
// default to http; credentials may be given as user:pass@host:port.
func Normalize(line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("empty proxy line")
	}

	scheme := "http"
	if i := strings.Index(line, "://"); i >= 0 {
		scheme = strings.ToLower(line[:i])
		line = line[i+3:]
	}
	switch scheme {
	case "http", "https", "socks5":
	default:
		return "", fmt.Errorf("unsupported proxy protocol: %s", scheme)
	}

	var user *url.Userinfo
	if at := strings.LastIndex(line, "@"); at >= 0 {
		creds := strings.SplitN(line[:at], ":", 2)
		if len(creds) != 2 || creds[0] == "" {
			return "", fmt.Errorf("invalid proxy credentials format")
		}
		user = url.UserPassword(creds[0], creds[1])
		line = line[at+1:]
	}
	if line == "" || strings.ContainsAny(line, "/ ") {
		return "", fmt.Errorf("invalid proxy host: %q", line)
	}

	u := url.URL{Scheme: scheme, User: user, Host: line}
	return u.String(), nil
}

// Redact hides proxy credentials for logging.
func Redact(proxyURL string) string {
	u, err := url.Parse(proxyURL)
	if err != nil || u.User == nil {
		return proxyURL
	}
	return u.Scheme + "://" + u.Host
}
