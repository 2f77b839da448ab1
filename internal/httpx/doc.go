// Package httpx is the request engine every session talks to the remote
// service through. It injects the session's bearer token and headers, routes
// through the session proxy, and applies the retry policy: a single token
// refresh on 401, fixed cooldowns on 429, immediate return on 400 or an
// aborted stream, and a fixed backoff for everything else.
package httpx
