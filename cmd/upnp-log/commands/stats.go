package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Methods           map[string]int
	Statuses          map[int]int
	Devices           map[string]*DeviceStats
	Subscriptions     map[string]bool
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// DeviceStats holds statistics for a single device UDN.
type DeviceStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Peers     map[string]bool
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Methods:           make(map[string]int),
		Statuses:          make(map[int]int),
		Devices:           make(map[string]*DeviceStats),
		Subscriptions:     make(map[string]bool),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if msg := event.Message; msg != nil {
		if msg.Type == log.MessageTypeRequest {
			s.Methods[msg.Method]++
		} else {
			s.Statuses[msg.Status]++
		}
	}

	if event.UDN != "" {
		dev, ok := s.Devices[event.UDN]
		if !ok {
			dev = &DeviceStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
				Peers:     make(map[string]bool),
			}
			s.Devices[event.UDN] = dev
		}
		dev.Events++
		if event.Timestamp.After(dev.LastSeen) {
			dev.LastSeen = event.Timestamp
		}
		if event.RemoteAddr != "" {
			dev.Peers[event.RemoteAddr] = true
		}
	}

	if event.SID != "" {
		s.Subscriptions[event.SID] = true
	}
	if event.Error != nil {
		s.Errors++
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== UPnP Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerUDP, log.LayerHTTP, log.LayerService} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for cat := log.CategorySSDP; cat <= log.CategoryError; cat++ {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}

	if len(stats.Methods) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Requests by Method:")
		methods := make([]string, 0, len(stats.Methods))
		for m := range stats.Methods {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		for _, m := range methods {
			fmt.Fprintf(w, "  %-12s %d\n", m+":", stats.Methods[m])
		}
	}

	if len(stats.Statuses) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Responses by Status:")
		codes := make([]int, 0, len(stats.Statuses))
		for c := range stats.Statuses {
			codes = append(codes, c)
		}
		sort.Ints(codes)
		for _, c := range codes {
			fmt.Fprintf(w, "  %-12s %d\n", fmt.Sprintf("%d:", c), stats.Statuses[c])
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Devices: %d\n", len(stats.Devices))
	if len(stats.Devices) > 0 {
		type devInfo struct {
			udn   string
			stats *DeviceStats
		}
		devs := make([]devInfo, 0, len(stats.Devices))
		for udn, ds := range stats.Devices {
			devs = append(devs, devInfo{udn, ds})
		}
		sort.Slice(devs, func(i, j int) bool {
			return devs[i].stats.FirstSeen.Before(devs[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, d := range devs {
			duration := d.stats.LastSeen.Sub(d.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  %s: %d events, duration %s, %d peers\n",
				d.udn, d.stats.Events, duration, len(d.stats.Peers))
		}
	}

	if len(stats.Subscriptions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Subscriptions: %d\n", len(stats.Subscriptions))
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
