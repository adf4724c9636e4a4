package uri

import (
	"fmt"
	"strings"
)

func isEndPath(s string, i int) bool {
	return i >= len(s) || s[i] == '?' || s[i] == '#'
}

// RemoveDots removes "." and ".." segments from the path of s. Anything
// from the first '?' or '#' on is copied unchanged. ".." at the root is
// dropped.
func RemoveDots(s string) string {
	var out []byte
	in := s
	for !isEndPath(in, 0) {
		switch {
		case strings.HasPrefix(in, "./"):
			in = in[2:]
		case strings.HasPrefix(in, "../"):
			in = in[3:]
		case strings.HasPrefix(in, "/./"):
			in = in[2:]
		case strings.HasPrefix(in, "/.") && isEndPath(in, 2):
			in = "/" + in[2:]
		case strings.HasPrefix(in, "/../") || (strings.HasPrefix(in, "/..") && isEndPath(in, 3)):
			if isEndPath(in, 3) {
				in = "/" + in[3:]
			} else {
				in = in[3:]
			}
			if i := strings.LastIndexByte(string(out), '/'); i >= 0 {
				out = out[:i]
			} else {
				out = out[:0]
			}
		case in == "." || (in[0] == '.' && isEndPath(in, 1)):
			in = in[1:]
		case strings.HasPrefix(in, "..") && isEndPath(in, 2):
			in = in[2:]
		default:
			i := 0
			if in[0] == '/' {
				i = 1
			}
			for i < len(in) && in[i] != '/' && !isEndPath(in, i) {
				i++
			}
			out = append(out, in[:i]...)
			in = in[i:]
		}
	}
	return string(out) + in
}

// ResolveRel resolves rel against the absolute URI base.
//
// An empty base returns rel unchanged. An absolute rel is returned as is.
// Otherwise base must be absolute.
func ResolveRel(base, rel string) (string, error) {
	if base == "" {
		return rel, nil
	}
	r, err := Parse(rel)
	if err != nil {
		return "", err
	}
	if r.Type == Absolute {
		return rel, nil
	}
	b, err := Parse(base)
	if err != nil {
		return "", err
	}
	if b.Type != Absolute {
		return "", fmt.Errorf("%w: base %q is not absolute", ErrInvalidURL, base)
	}
	if rel == "" {
		return base, nil
	}

	var out strings.Builder
	out.WriteString(b.Scheme)
	out.WriteByte(':')
	if r.HostPort.Text != "" {
		out.WriteString(rel)
		return out.String(), nil
	}
	if b.HostPort.Text != "" {
		out.WriteString("//")
		out.WriteString(b.HostPort.Text)
	}

	var path string
	switch {
	case r.PathType == AbsPath:
		path = rel
	case b.PathQuery == "":
		path = "/" + rel
	default:
		if r.PathQuery == "" {
			path = b.PathQuery
		} else {
			path = mergePrefix(b.PathQuery, r.PathQuery) + r.PathQuery
		}
		switch {
		case r.Fragment != "":
			path += "#" + r.Fragment
		case b.Fragment != "":
			path += "#" + b.Fragment
		}
	}
	out.WriteString(RemoveDots(path))
	return out.String(), nil
}

// mergePrefix returns the part of the base path that a relative path is
// appended to: everything up to the last '/' before the query, or the whole
// path when rel is only a query.
func mergePrefix(basePQ, relPQ string) string {
	prefix := 1
scan:
	for i := 0; i < len(basePQ); i++ {
		switch basePQ[i] {
		case '/':
			prefix = i + 1
		case '?':
			if relPQ[0] == '?' {
				prefix = i
			}
			break scan
		}
	}
	if prefix > len(basePQ) {
		prefix = len(basePQ)
	}
	return basePQ[:prefix]
}
