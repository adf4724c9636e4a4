package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/log"
)

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output     string
	ConnID     string
	UDN        string
	SID        string
	RemoteAddr string
	TimeStart  string
	TimeEnd    string
	Layer      string
	Direction  string
	Category   string
	Method     string
	Status     int
	// Kinds is a comma-separated list of record kinds.
	Kinds      string
}

// buildFilter converts the command options into a log filter.
func buildFilter(opts FilterOptions) (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: opts.ConnID,
		UDN:          opts.UDN,
		SID:          opts.SID,
		RemoteAddr:   opts.RemoteAddr,
		Method:       opts.Method,
		Status:       opts.Status,
	}

	if opts.Kinds != "" {
		kinds, err := ParseKindsFlag(opts.Kinds)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Kinds = kinds
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}

	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	if opts.Layer != "" {
		l, err := parseLayer(opts.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}

	if opts.Direction != "" {
		d, err := parseDirection(opts.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}

	if opts.Category != "" {
		c, err := parseCategory(opts.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// RunFilter filters the log file and writes matching events to a new file.
func RunFilter(path string, opts FilterOptions, w io.Writer) error {
	filter, err := buildFilter(opts)
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		logger.Log(event)
		count++
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", count, opts.Output)
	return nil
}
