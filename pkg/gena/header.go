package gena

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/uri"
)

// Header values.
const (
	NTEvent       = "upnp:event"
	NTSPropChange = "upnp:propchange"

	timeoutPrefix   = "Second-"
	timeoutInfinite = "infinite"
)

// Infinite marks a subscription that never expires.
const Infinite time.Duration = -1

// Header errors.
var (
	ErrInvalidTimeout  = errors.New("invalid TIMEOUT header")
	ErrInvalidCallback = errors.New("invalid CALLBACK header")
	ErrInvalidSEQ      = errors.New("invalid SEQ header")
)

// ParseTimeout parses "Second-N" or "Second-infinite". The prefix is
// matched case-insensitively.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < len(timeoutPrefix) || !strings.EqualFold(s[:len(timeoutPrefix)], timeoutPrefix) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeout, s)
	}
	v := s[len(timeoutPrefix):]
	if strings.EqualFold(v, timeoutInfinite) {
		return Infinite, nil
	}
	n, err := strconv.ParseUint(v, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeout, s)
	}
	return time.Duration(n) * time.Second, nil
}

// FormatTimeout formats d as a TIMEOUT value. Negative durations are
// infinite.
func FormatTimeout(d time.Duration) string {
	if d < 0 {
		return timeoutPrefix + timeoutInfinite
	}
	return timeoutPrefix + strconv.FormatInt(int64(d/time.Second), 10)
}

// ParseCallback returns the http URLs of a CALLBACK header
// ("<url1><url2>"). URLs of other schemes are skipped; at least one http
// URL is required.
func ParseCallback(s string) ([]string, error) {
	var urls []string
	for {
		start := strings.IndexByte(s, '<')
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '>')
		if end < 0 {
			break
		}
		raw := strings.TrimSpace(s[start+1 : start+end])
		s = s[start+end+1:]
		if u, err := uri.Parse(raw); err == nil && u.IsHTTP() {
			urls = append(urls, raw)
		}
	}
	if len(urls) == 0 {
		return nil, ErrInvalidCallback
	}
	return urls, nil
}

// ParseSEQ parses an event key.
func ParseSEQ(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSEQ, s)
	}
	return uint32(n), nil
}

// nextSEQ returns the event key after seq. Zero is only used for the
// initial event.
func nextSEQ(seq uint32) uint32 {
	if seq == ^uint32(0) {
		return 1
	}
	return seq + 1
}
