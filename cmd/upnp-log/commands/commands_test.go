package commands

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/log"
)

const tvUDN = "uuid:Upnp-TVEmulator-1_0-1234567890001"

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.cbor")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()

	var events []log.Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		events = append(events, event)
	}
}

var searchDatagram = "M-SEARCH * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nMAN: \"ssdp:discover\"\r\nMX: 3\r\nST: upnp:rootdevice\r\n\r\n"

func sampleEvents() []log.Event {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	processing := 1500 * time.Microsecond
	return []log.Event{
		{
			Timestamp:    ts,
			ConnectionID: "abc12345-6789",
			Direction:    log.DirectionOut,
			Layer:        log.LayerUDP,
			Category:     log.CategorySSDP,
			LocalRole:    log.RoleControlPoint,
			RemoteAddr:   "239.255.255.250:1900",
			Datagram:     log.NewDatagramEvent([]byte(searchDatagram), true),
		},
		{
			Timestamp:    ts.Add(time.Second),
			ConnectionID: "def67890",
			Direction:    log.DirectionIn,
			Layer:        log.LayerHTTP,
			Category:     log.CategorySOAP,
			RemoteAddr:   "192.0.2.7:40000",
			UDN:          tvUDN,
			Message: &log.MessageEvent{
				Type:   log.MessageTypeRequest,
				Method: "POST",
				Target: "/upnp/control/tvcontrol1",
				Headers: map[string]string{
					"SOAPACTION":   "\"urn:schemas-upnp-org:service:tvcontrol:1#PowerOn\"",
					"CONTENT-TYPE": "text/xml; charset=\"utf-8\"",
				},
				BodySize: 312,
			},
		},
		{
			Timestamp:    ts.Add(2 * time.Second),
			ConnectionID: "def67890",
			Direction:    log.DirectionOut,
			Layer:        log.LayerHTTP,
			Category:     log.CategorySOAP,
			RemoteAddr:   "192.0.2.7:40000",
			UDN:          tvUDN,
			Message: &log.MessageEvent{
				Type:           log.MessageTypeResponse,
				Status:         200,
				ProcessingTime: &processing,
			},
		},
		{
			Timestamp: ts.Add(3 * time.Second),
			Direction: log.DirectionOut,
			Layer:     log.LayerService,
			Category:  log.CategoryState,
			UDN:       tvUDN,
			SID:       "uuid:sub-1",
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntitySubscription,
				NewState: "SUBSCRIBED",
			},
		},
		{
			Timestamp: ts.Add(4 * time.Second),
			Direction: log.DirectionOut,
			Layer:     log.LayerHTTP,
			Category:  log.CategoryError,
			SID:       "uuid:sub-1",
			Error: &log.ErrorEventData{
				Layer:   log.LayerHTTP,
				Message: "connection refused",
				Context: "NOTIFY",
			},
		},
	}
}

func TestFormatDatagramEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[0])
	output := buf.String()

	for _, want := range []string{
		"2026-01-28T10:15:32.123456Z",
		"[conn:abc12345]",
		"OUT SSDP/UDP Datagram (multicast) to 239.255.255.250:1900",
		"Size: 113 bytes",
		"| M-SEARCH * HTTP/1.1",
		"| ST: upnp:rootdevice",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q, got:\n%s", want, output)
		}
	}
	if strings.Contains(output, "\r") {
		t.Error("output contains carriage returns")
	}
}

func TestFormatDatagramTruncatesLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxDatagramLines+5; i++ {
		b.WriteString("X-HEADER: 1\r\n")
	}
	event := log.Event{Datagram: log.NewDatagramEvent([]byte(b.String()), false)}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	if !strings.Contains(buf.String(), "... 5 more lines") {
		t.Errorf("expected truncation marker, got:\n%s", buf.String())
	}
}

func TestFormatMessageEvents(t *testing.T) {
	events := sampleEvents()

	var buf bytes.Buffer
	formatEvent(&buf, events[1])
	request := buf.String()
	for _, want := range []string{
		"IN  SOAP/HTTP POST /upnp/control/tvcontrol1 from 192.0.2.7:40000",
		"UDN: " + tvUDN,
		"Body: 312 bytes",
	} {
		if !strings.Contains(request, want) {
			t.Errorf("request output missing %q, got:\n%s", want, request)
		}
	}
	// Headers are sorted.
	if strings.Index(request, "CONTENT-TYPE") > strings.Index(request, "SOAPACTION") {
		t.Errorf("headers not sorted:\n%s", request)
	}

	buf.Reset()
	formatEvent(&buf, events[2])
	response := buf.String()
	if !strings.Contains(response, "RESPONSE 200") {
		t.Errorf("expected RESPONSE 200, got:\n%s", response)
	}
	if !strings.Contains(response, "Duration: 1.500ms") {
		t.Errorf("expected duration, got:\n%s", response)
	}
}

func TestFormatStateAndError(t *testing.T) {
	events := sampleEvents()

	var buf bytes.Buffer
	formatEvent(&buf, events[3])
	if out := buf.String(); !strings.Contains(out, "Entity: SUBSCRIPTION") || !strings.Contains(out, "-> SUBSCRIBED") || !strings.Contains(out, "SID: uuid:sub-1") {
		t.Errorf("unexpected state output:\n%s", out)
	}

	buf.Reset()
	formatEvent(&buf, events[4])
	if out := buf.String(); !strings.Contains(out, "Message: connection refused") || !strings.Contains(out, "Context: NOTIFY") {
		t.Errorf("unexpected error output:\n%s", out)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Nanosecond, "0.500us"},
		{2500 * time.Microsecond, "2.500ms"},
		{1500 * time.Millisecond, "1.500s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("HTTP"); err != nil || l != log.LayerHTTP {
		t.Errorf("ParseLayerFlag(HTTP) = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("ParseLayerFlag(wire) should fail")
	}
	if d, err := ParseDirectionFlag("in"); err != nil || d != log.DirectionIn {
		t.Errorf("ParseDirectionFlag(in) = %v, %v", d, err)
	}
	if _, err := ParseDirectionFlag("sideways"); err == nil {
		t.Error("ParseDirectionFlag(sideways) should fail")
	}
	if c, err := ParseCategoryFlag("gena"); err != nil || c != log.CategoryGENA {
		t.Errorf("ParseCategoryFlag(gena) = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("snapshot"); err == nil {
		t.Error("ParseCategoryFlag(snapshot) should fail")
	}
}

func TestRunViewFilters(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	soapCat := log.CategorySOAP
	tests := []struct {
		name   string
		filter ViewFilter
		want   int
	}{
		{"all", ViewFilter{}, 5},
		{"category", ViewFilter{Category: &soapCat}, 2},
		{"udn", ViewFilter{UDN: tvUDN}, 3},
		{"sid", ViewFilter{SID: "uuid:sub-1"}, 2},
		{"method", ViewFilter{Method: "M-SEARCH"}, 1},
		{"kind", ViewFilter{Kinds: []log.Kind{log.KindResponse}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := RunView(path, tt.filter, &buf); err != nil {
				t.Fatalf("RunView failed: %v", err)
			}
			got := strings.Count(buf.String(), "[conn:")
			if got != tt.want {
				t.Errorf("RunView printed %d events, want %d", got, tt.want)
			}
		})
	}

	if err := RunView(filepath.Join(t.TempDir(), "missing.cbor"), ViewFilter{}, io.Discard); err == nil {
		t.Error("RunView of missing file should fail")
	}
}

func TestRunFilter(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	tests := []struct {
		name string
		opts FilterOptions
		want int
	}{
		{"connection", FilterOptions{ConnID: "def67890"}, 2},
		{"remote host", FilterOptions{RemoteAddr: "192.0.2.7"}, 2},
		{"direction and layer", FilterOptions{Direction: "out", Layer: "http"}, 2},
		{"category", FilterOptions{Category: "ssdp"}, 1},
		{"time range", FilterOptions{TimeStart: "2026-01-28T10:15:33Z", TimeEnd: "2026-01-28T10:15:35Z"}, 2},
		{"ssdp method", FilterOptions{Method: "m-search"}, 1},
		{"soap method", FilterOptions{Method: "POST"}, 1},
		{"status", FilterOptions{Status: 200}, 1},
		{"kinds", FilterOptions{Kinds: "state,error"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Output = filepath.Join(t.TempDir(), "filtered.cbor")
			var buf bytes.Buffer
			if err := RunFilter(path, tt.opts, &buf); err != nil {
				t.Fatalf("RunFilter failed: %v", err)
			}
			if got := len(readAll(t, tt.opts.Output)); got != tt.want {
				t.Errorf("filtered %d events, want %d", got, tt.want)
			}
			if !strings.HasPrefix(buf.String(), "Filtered ") {
				t.Errorf("unexpected summary %q", buf.String())
			}
		})
	}
}

func TestRunFilterInvalidOptions(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.cbor")

	for _, opts := range []FilterOptions{
		{Output: out, TimeStart: "yesterday"},
		{Output: out, TimeEnd: "tomorrow"},
		{Output: out, Layer: "wire"},
		{Output: out, Direction: "up"},
		{Output: out, Category: "control"},
		{Output: out, Kinds: "state,frame"},
	} {
		if err := RunFilter(path, opts, io.Discard); err == nil {
			t.Errorf("RunFilter(%+v) should fail", opts)
		}
	}
}

func TestRunStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 5",
		"UDP:",
		"HTTP:",
		"SERVICE:",
		"SSDP:",
		"SOAP:",
		"POST:",
		"200:",
		"Devices: 1",
		tvUDN + ": 3 events, duration 2s, 1 peers",
		"Subscriptions: 1",
		"Errors: 1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("stats missing %q, got:\n%s", want, output)
		}
	}
}

func TestRunStatsEmpty(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Time Range") {
		t.Error("empty log should have no time range")
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event log.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line %d is not an event: %v", lines+1, err)
		}
		lines++
	}
	if lines != 5 {
		t.Errorf("exported %d lines, want 5", lines)
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("got %d records, want header plus 5", len(records))
	}
	if records[0][0] != "timestamp" || records[0][11] != "status" {
		t.Errorf("unexpected header %v", records[0])
	}
	request := records[2]
	if request[8] != "request" || request[9] != "POST" || request[10] != "/upnp/control/tvcontrol1" || request[6] != tvUDN {
		t.Errorf("unexpected request row %v", request)
	}
	if records[3][11] != "200" {
		t.Errorf("status = %q, want 200", records[3][11])
	}
	if records[1][8] != "datagram" || records[1][9] != "M-SEARCH" {
		t.Errorf("datagram row = %v, want datagram M-SEARCH", records[1][8:10])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	if err := RunExport(path, "xml", filepath.Join(t.TempDir(), "out")); err == nil {
		t.Error("RunExport with unknown format should fail")
	}
}
