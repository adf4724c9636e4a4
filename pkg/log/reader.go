package log

import (
	"errors"
	"io"
	"iter"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects capture records. Zero fields select everything; set
// fields must all match.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category

	// Kinds keeps records of any of the listed kinds.
	Kinds []Kind

	// Method keeps requests with this method, compared case-insensitively.
	// SSDP datagrams are matched on their start line, so "M-SEARCH" finds
	// the raw searches as well as the parsed ones.
	Method string

	// Status keeps responses with this status code.
	Status int

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time

	UDN string
	SID string

	// RemoteAddr matches the start of the peer address, so a bare host
	// matches every port on it.
	RemoteAddr string
}

type predicate func(*Event) bool

// predicates turns the set fields of f into checks.
func (f Filter) predicates() []predicate {
	var ps []predicate
	if id := f.ConnectionID; id != "" {
		ps = append(ps, func(e *Event) bool { return e.ConnectionID == id })
	}
	if f.Direction != nil {
		d := *f.Direction
		ps = append(ps, func(e *Event) bool { return e.Direction == d })
	}
	if f.Layer != nil {
		l := *f.Layer
		ps = append(ps, func(e *Event) bool { return e.Layer == l })
	}
	if f.Category != nil {
		c := *f.Category
		ps = append(ps, func(e *Event) bool { return e.Category == c })
	}
	if len(f.Kinds) > 0 {
		kinds := slices.Clone(f.Kinds)
		ps = append(ps, func(e *Event) bool { return slices.Contains(kinds, e.Kind()) })
	}
	if m := f.Method; m != "" {
		ps = append(ps, func(e *Event) bool { return strings.EqualFold(e.Method(), m) })
	}
	if s := f.Status; s != 0 {
		ps = append(ps, func(e *Event) bool { return e.Status() == s })
	}
	if f.TimeStart != nil {
		t := *f.TimeStart
		ps = append(ps, func(e *Event) bool { return !e.Timestamp.Before(t) })
	}
	if f.TimeEnd != nil {
		t := *f.TimeEnd
		ps = append(ps, func(e *Event) bool { return e.Timestamp.Before(t) })
	}
	if udn := f.UDN; udn != "" {
		ps = append(ps, func(e *Event) bool { return e.UDN == udn })
	}
	if sid := f.SID; sid != "" {
		ps = append(ps, func(e *Event) bool { return e.SID == sid })
	}
	if addr := f.RemoteAddr; addr != "" {
		ps = append(ps, func(e *Event) bool { return strings.HasPrefix(e.RemoteAddr, addr) })
	}
	return ps
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	for _, p := range f.predicates() {
		if !p(&e) {
			return false
		}
	}
	return true
}

// Reader reads a capture file record by record.
//
// A record cut short at the end of the file, as left behind when a
// process dies while logging, ends the stream like io.EOF and is reported
// by Truncated.
type Reader struct {
	file      *os.File
	dec       *cbor.Decoder
	checks    []predicate
	skipped   int
	truncated bool
}

// NewReader opens a capture file and returns all of its records.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file and returns the records that
// pass filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, dec: NewDecoder(f), checks: filter.predicates()}, nil
}

// Next returns the next matching record, or io.EOF at the end.
func (r *Reader) Next() (Event, error) {
next:
	for {
		var e Event
		err := r.dec.Decode(&e)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			r.truncated = true
			return Event{}, io.EOF
		default:
			return Event{}, err
		}
		for _, p := range r.checks {
			if !p(&e) {
				r.skipped++
				continue next
			}
		}
		return e, nil
	}
}

// All iterates the remaining records. Iteration stops after the first
// error, which is yielded with a zero Event.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			e, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Skipped returns the number of records the filter rejected so far.
func (r *Reader) Skipped() int { return r.skipped }

// Truncated reports whether the file ended inside a record.
func (r *Reader) Truncated() bool { return r.truncated }

// Close closes the capture file.
func (r *Reader) Close() error {
	return r.file.Close()
}
