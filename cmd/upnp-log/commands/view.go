// Package commands implements the upnp-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/log"
)

// maxDatagramLines bounds the payload lines printed for a datagram.
const maxDatagramLines = 12

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	UDN       string
	SID       string
	Method    string
	Kinds     []log.Kind
}

func (f ViewFilter) toFilter() log.Filter {
	return log.Filter{
		Layer:     f.Layer,
		Direction: f.Direction,
		Category:  f.Category,
		UDN:       f.UDN,
		SID:       f.SID,
		Method:    f.Method,
		Kinds:     f.Kinds,
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION CATEGORY/LAYER Type peer
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)

	var typeLabel string
	switch {
	case event.Datagram != nil:
		typeLabel = "Datagram"
		if event.Datagram.Multicast {
			typeLabel = "Datagram (multicast)"
		}
	case event.Message != nil:
		typeLabel = messageLabel(event.Message)
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s/%s %s", ts, connID, event.Direction, event.Category, event.Layer, typeLabel)
	if event.RemoteAddr != "" {
		peer := "to"
		if event.Direction == log.DirectionIn {
			peer = "from"
		}
		fmt.Fprintf(w, " %s %s", peer, event.RemoteAddr)
	}
	fmt.Fprintln(w)

	if event.UDN != "" {
		fmt.Fprintf(w, "  UDN: %s\n", event.UDN)
	}
	if event.SID != "" {
		fmt.Fprintf(w, "  SID: %s\n", event.SID)
	}

	switch {
	case event.Datagram != nil:
		formatDatagramDetails(w, event.Datagram)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

func messageLabel(msg *log.MessageEvent) string {
	if msg.Type == log.MessageTypeRequest {
		return strings.TrimSpace(msg.Method + " " + msg.Target)
	}
	return fmt.Sprintf("%s %d", msg.Type, msg.Status)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// formatDatagramDetails writes the start of the datagram as text.
func formatDatagramDetails(w io.Writer, dg *log.DatagramEvent) {
	fmt.Fprintf(w, "  Size: %d bytes", dg.Size)
	if dg.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)
	lines := strings.Split(strings.TrimRight(string(dg.Data), "\r\n"), "\n")
	for i, line := range lines {
		if i == maxDatagramLines {
			fmt.Fprintf(w, "  | ... %d more lines\n", len(lines)-i)
			break
		}
		fmt.Fprintf(w, "  | %s\n", strings.TrimRight(line, "\r"))
	}
}

// formatMessageDetails writes message headers in a stable order.
func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %s\n", name, msg.Headers[name])
	}
	if msg.BodySize > 0 {
		fmt.Fprintf(w, "  Body: %d bytes\n", msg.BodySize)
	}
	if msg.ProcessingTime != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*msg.ProcessingTime))
	}
}

// formatStateChangeDetails writes state change details.
func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

// parseLayer parses a layer string (case-insensitive).
func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "udp":
		return log.LayerUDP, nil
	case "http":
		return log.LayerHTTP, nil
	case "service":
		return log.LayerService, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be udp, http, or service)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (log.Category, error) {
	if c, ok := log.ParseCategory(strings.ToUpper(s)); ok {
		return c, nil
	}
	return 0, fmt.Errorf("invalid category: %s (must be ssdp, gena, soap, web, state, or error)", s)
}

// ParseKindsFlag parses a comma-separated list of record kinds.
func ParseKindsFlag(s string) ([]log.Kind, error) {
	var kinds []log.Kind
	for _, name := range strings.Split(s, ",") {
		k, ok := log.ParseKind(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("invalid kind: %s (must be datagram, request, response, state, or error)", name)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.toFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	if reader.Truncated() {
		fmt.Fprintln(output, "(capture ends inside a record)")
	}

	return nil
}
