package uri

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
)

// ErrInvalidURL is returned for text that is not a valid URI.
var ErrInvalidURL = errors.New("invalid URL")

// Type tells absolute and relative URIs apart.
type Type uint8

const (
	// Absolute URIs carry a scheme.
	Absolute Type = 0
	// Relative URIs have no scheme.
	Relative Type = 1
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case Absolute:
		return "ABSOLUTE"
	case Relative:
		return "RELATIVE"
	default:
		return "UNKNOWN"
	}
}

// PathType classifies the path component.
type PathType uint8

const (
	// AbsPath is a path starting with '/'.
	AbsPath PathType = 0
	// RelPath is a relative path.
	RelPath PathType = 1
	// OpaquePart is the part after the scheme of an absolute URI without
	// an absolute path, e.g. "mailto:x@y".
	OpaquePart PathType = 2
)

// String returns the path type name.
func (p PathType) String() string {
	switch p {
	case AbsPath:
		return "ABS_PATH"
	case RelPath:
		return "REL_PATH"
	case OpaquePart:
		return "OPAQUE_PART"
	default:
		return "UNKNOWN"
	}
}

// HostPort is the authority of a URI.
type HostPort struct {
	// Text is the hostport as written, including the port if present.
	Text string

	// Addr is the socket address. It is unset for host names that were
	// not resolved.
	Addr sockaddr.SockAddr

	// Host is the host part without brackets or port.
	Host string
}

// URI is a parsed URI.
type URI struct {
	Scheme    string
	Type      Type
	PathType  PathType
	HostPort  HostPort
	PathQuery string
	Fragment  string
}

// Parse parses s without resolving host names.
func Parse(s string) (*URI, error) {
	return parse(context.Background(), s, nil)
}

// ParseResolve parses s and resolves host names with r (net.DefaultResolver
// when nil).
func ParseResolve(ctx context.Context, s string, r sockaddr.Resolver) (*URI, error) {
	if r == nil {
		r = defaultResolver{}
	}
	return parse(ctx, s, r)
}

func parse(ctx context.Context, in string, r sockaddr.Resolver) (*URI, error) {
	u := &URI{}
	begin := parseScheme(in)
	if begin > 0 {
		u.Scheme = in[:begin]
		u.Type = Absolute
		u.PathType = OpaquePart
		begin++
	} else {
		u.Type = Relative
		u.PathType = RelPath
	}

	if begin+1 < len(in) && in[begin] == '/' && in[begin+1] == '/' {
		begin += 2
		defaultPort := uint16(80)
		if strings.EqualFold(u.Scheme, "https") {
			defaultPort = 443
		}
		hp, n, err := parseHostPort(ctx, in[begin:], defaultPort, r)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, in, err)
		}
		u.HostPort = hp
		begin += n
	}

	n := parseURIC(in[begin:])
	u.PathQuery = in[begin : begin+n]
	if u.PathQuery != "" && u.PathQuery[0] == '/' {
		u.PathType = AbsPath
	}
	begin += n
	if begin < len(in) && in[begin] == '#' {
		begin++
		u.Fragment = in[begin : begin+parseURIC(in[begin:])]
	}
	return u, nil
}

// parseScheme returns the length of the scheme, or 0 when in does not start
// with one.
func parseScheme(in string) int {
	if in == "" || !isAlpha(in[0]) {
		return 0
	}
	for i := 1; i < len(in); i++ {
		c := in[i]
		if c == ':' {
			return i
		}
		if !(isAlnum(c) || c == '+' || c == '-' || c == '.') {
			return 0
		}
	}
	return 0
}

// parseURIC returns the length of the leading run of URI characters
// (reserved, unreserved or a valid %XX escape).
func parseURIC(in string) int {
	i := 0
	for i < len(in) {
		c := in[i]
		switch {
		case isReserved(c) || isUnreserved(c):
			i++
		case c == '%' && i+2 < len(in) && isHex(in[i+1]) && isHex(in[i+2]):
			i += 3
		default:
			return i
		}
	}
	return i
}

// String reassembles the URI.
func (u *URI) String() string {
	var b strings.Builder
	if u.Type == Absolute {
		b.WriteString(u.Scheme)
		b.WriteByte(':')
	}
	if u.HostPort.Text != "" {
		b.WriteString("//")
		b.WriteString(u.HostPort.Text)
	}
	b.WriteString(u.PathQuery)
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// Path returns the path without the query.
func (u *URI) Path() string {
	if i := strings.IndexByte(u.PathQuery, '?'); i >= 0 {
		return u.PathQuery[:i]
	}
	return u.PathQuery
}

// Query returns the query without the leading '?'.
func (u *URI) Query() string {
	if i := strings.IndexByte(u.PathQuery, '?'); i >= 0 {
		return u.PathQuery[i+1:]
	}
	return ""
}

// IsHTTP reports whether the URI is an absolute http URL with a host.
func (u *URI) IsHTTP() bool {
	return u.Type == Absolute && strings.EqualFold(u.Scheme, "http") && u.HostPort.Text != ""
}

// TokenCaseEqual compares two tokens case-insensitively.
func TokenCaseEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}

// RemoveEscapedChars decodes %XX escapes. Malformed escapes are kept as is.
func RemoveEscapedChars(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlnum(c byte) bool { return isAlpha(c) || isDigit(c) }

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case isDigit(c):
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func isReserved(c byte) bool {
	return strings.IndexByte(";/?:@&=+$,", c) >= 0
}

func isUnreserved(c byte) bool {
	return isAlnum(c) || strings.IndexByte("-_.!~*'()", c) >= 0
}
