package log

import (
	"bytes"
	"strconv"
	"strings"
)

// Kind classifies a capture record by its payload.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindDatagram
	KindRequest
	KindResponse
	KindState
	KindError
)

// String returns the lower-case kind name used in exports.
func (k Kind) String() string {
	switch k {
	case KindDatagram:
		return "datagram"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindState:
		return "state"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name as returned by String.
func ParseKind(s string) (Kind, bool) {
	for k := KindDatagram; k <= KindError; k++ {
		if strings.EqualFold(s, k.String()) {
			return k, true
		}
	}
	return KindUnknown, false
}

// Kind returns the payload kind of the event.
func (e Event) Kind() Kind {
	switch {
	case e.Datagram != nil:
		return KindDatagram
	case e.Message != nil && e.Message.Type == MessageTypeResponse:
		return KindResponse
	case e.Message != nil:
		return KindRequest
	case e.StateChange != nil:
		return KindState
	case e.Error != nil:
		return KindError
	default:
		return KindUnknown
	}
}

// startLine returns the first line of an HTTPU datagram.
func (d *DatagramEvent) startLine() string {
	line := d.Data
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimRight(string(line), "\r")
}

// Method returns the HTTP method of a request: the parsed method of a
// message, or the first token of an SSDP datagram such as M-SEARCH or
// NOTIFY. Responses and other records return "".
func (e Event) Method() string {
	switch {
	case e.Message != nil:
		if e.Message.Type == MessageTypeRequest {
			return e.Message.Method
		}
	case e.Datagram != nil:
		method, _, _ := strings.Cut(e.Datagram.startLine(), " ")
		if !strings.HasPrefix(method, "HTTP/") {
			return method
		}
	}
	return ""
}

// Status returns the status code of a response message or of an SSDP
// search response datagram, or 0.
func (e Event) Status() int {
	switch {
	case e.Message != nil:
		if e.Message.Type == MessageTypeResponse {
			return e.Message.Status
		}
	case e.Datagram != nil:
		proto, rest, ok := strings.Cut(e.Datagram.startLine(), " ")
		if !ok || !strings.HasPrefix(proto, "HTTP/") {
			return 0
		}
		code, _, _ := strings.Cut(rest, " ")
		if n, err := strconv.Atoi(code); err == nil {
			return n
		}
	}
	return 0
}
