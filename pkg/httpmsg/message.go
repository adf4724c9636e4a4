package httpmsg

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Parse errors.
var (
	ErrMalformed      = errors.New("malformed http message")
	ErrUnknownMethod  = errors.New("unknown http method")
	ErrBadVersion     = errors.New("unsupported http version")
	ErrIncompleteBody = errors.New("incomplete message body")
)

// Message is a parsed or to-be-sent HTTP message.
type Message struct {
	// Request is set for requests, clear for responses.
	Request bool

	// Method and MethodName describe the request method. MethodName keeps
	// the text of unknown methods.
	Method     Method
	MethodName string
	// URI is the request target ("*" for SSDP).
	URI string

	// StatusCode and Reason describe a response.
	StatusCode int
	Reason     string

	Major, Minor int

	Header Header
	Body   []byte
}

// NewRequest returns an HTTP/1.1 request message.
func NewRequest(m Method, uri string) *Message {
	return &Message{Request: true, Method: m, MethodName: m.String(), URI: uri, Major: 1, Minor: 1}
}

// NewResponse returns an HTTP/1.1 response message.
func NewResponse(code int) *Message {
	return &Message{StatusCode: code, Reason: StatusText(code), Major: 1, Minor: 1}
}

// ParseDatagram parses one HTTPU request or response. Line ends may be CRLF
// or bare LF. A body is taken up to CONTENT-LENGTH when present, otherwise
// the rest of the datagram.
func ParseDatagram(b []byte) (*Message, error) {
	head, body, found := cutHeaderEnd(b)
	if !found {
		// A datagram without the blank line still carries all headers.
		head = b
		body = nil
	}
	lines := splitLines(head)
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("%w: empty start line", ErrMalformed)
	}

	m := &Message{}
	if err := m.parseStartLine(lines[0]); err != nil {
		return nil, err
	}
	if err := m.parseHeaders(lines[1:]); err != nil {
		return nil, err
	}

	if cl := m.Header.Get("CONTENT-LENGTH"); cl != "" {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: content-length %q", ErrMalformed, cl)
		}
		if n > len(body) {
			return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrIncompleteBody, n, len(body))
		}
		body = body[:n]
	}
	if len(body) > 0 {
		m.Body = append([]byte(nil), body...)
	}
	return m, nil
}

func cutHeaderEnd(b []byte) (head, body []byte, found bool) {
	if i := bytes.Index(b, []byte("\r\n\r\n")); i >= 0 {
		return b[:i], b[i+4:], true
	}
	if i := bytes.Index(b, []byte("\n\n")); i >= 0 {
		return b[:i], b[i+2:], true
	}
	return b, nil, false
}

func splitLines(b []byte) []string {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func (m *Message) parseStartLine(line string) error {
	if strings.HasPrefix(line, "HTTP/") {
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			return fmt.Errorf("%w: status line %q", ErrMalformed, line)
		}
		major, minor, ok := http.ParseHTTPVersion(parts[0])
		if !ok {
			return fmt.Errorf("%w: %q", ErrBadVersion, parts[0])
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil || code < 100 || code > 999 {
			return fmt.Errorf("%w: status code %q", ErrMalformed, parts[1])
		}
		m.Major, m.Minor, m.StatusCode = major, minor, code
		if len(parts) == 3 {
			m.Reason = parts[2]
		}
		return nil
	}

	parts := strings.Fields(line)
	switch len(parts) {
	case 2:
		// HTTP/0.9 simple request.
		if parts[0] != "GET" {
			return fmt.Errorf("%w: simple request with method %q", ErrMalformed, parts[0])
		}
		m.Request = true
		m.Method = MethodSimpleGet
		m.MethodName = parts[0]
		m.URI = collapseSlashes(parts[1])
		m.Major, m.Minor = 0, 9
		return nil
	case 3:
	default:
		return fmt.Errorf("%w: request line %q", ErrMalformed, line)
	}
	major, minor, ok := http.ParseHTTPVersion(parts[2])
	if !ok {
		return fmt.Errorf("%w: %q", ErrBadVersion, parts[2])
	}
	m.Request = true
	m.MethodName = parts[0]
	m.Method = MethodFromString(parts[0])
	if m.Method == MethodUnknown {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, parts[0])
	}
	m.URI = collapseSlashes(parts[1])
	m.Major, m.Minor = major, minor
	return nil
}

// collapseSlashes keeps one of several leading slashes.
func collapseSlashes(s string) string {
	for len(s) >= 2 && s[0] == '/' && s[1] == '/' {
		s = s[1:]
	}
	return s
}

func (m *Message) parseHeaders(lines []string) error {
	for _, line := range lines {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Continuation of the previous value.
			if len(m.Header) == 0 {
				return fmt.Errorf("%w: continuation without header", ErrMalformed)
			}
			last := &m.Header[len(m.Header)-1]
			last.Value = strings.TrimSpace(last.Value + " " + strings.TrimSpace(line))
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t") {
			return fmt.Errorf("%w: header line %q", ErrMalformed, line)
		}
		m.Header.Add(name, strings.TrimSpace(value))
	}
	return nil
}

// Bytes serialises the message with CRLF line ends. A CONTENT-LENGTH header
// is added for a non-empty body when missing.
func (m *Message) Bytes() []byte {
	var b bytes.Buffer
	if m.Request {
		name := m.MethodName
		if name == "" {
			name = m.Method.String()
		}
		fmt.Fprintf(&b, "%s %s HTTP/%d.%d\r\n", name, m.URI, m.Major, m.Minor)
	} else {
		reason := m.Reason
		if reason == "" {
			reason = StatusText(m.StatusCode)
		}
		fmt.Fprintf(&b, "HTTP/%d.%d %d %s\r\n", m.Major, m.Minor, m.StatusCode, reason)
	}
	for _, f := range m.Header {
		fmt.Fprintf(&b, "%s: %s\r\n", f.Name, f.Value)
	}
	if len(m.Body) > 0 && !m.Header.Has("CONTENT-LENGTH") {
		fmt.Fprintf(&b, "CONTENT-LENGTH: %d\r\n", len(m.Body))
	}
	b.WriteString("\r\n")
	b.Write(m.Body)
	return b.Bytes()
}

// FormatDate formats t for a DATE header.
func FormatDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// ParseDate parses a DATE header in any of the HTTP date formats.
func ParseDate(s string) (time.Time, error) {
	return http.ParseTime(s)
}

// StatusText returns the reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	return http.StatusText(code)
}
