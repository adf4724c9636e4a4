// Command upnp-log views and analyzes UPnP protocol capture files.
//
// Capture files are written by upnp-device and upnp-ctrlpt when started with
// the -capture flag. Every SSDP datagram, HTTP exchange and SDK state change
// is recorded as one CBOR event.
//
// Usage:
//
//	upnp-log <command> [flags] <file.cbor>
//
// Commands:
//
//	view     View capture in human-readable format
//	export   Export capture to JSONL or CSV format
//	filter   Filter capture and write to new file
//	stats    Show statistics about the capture
//
// Examples:
//
//	# View all events
//	upnp-log view device.cbor
//
//	# View only discovery traffic
//	upnp-log view --category ssdp device.cbor
//
//	# View searches and their error responses
//	upnp-log view --method M-SEARCH device.cbor
//	upnp-log filter --kind response --status 412 -o failed.cbor device.cbor
//
//	# View the events of one subscription
//	upnp-log view --sid uuid:3f2c0a7e-1b9d-4c55-8e0f-2a6d9b4c1e70 ctrlpt.cbor
//
//	# Export to CSV
//	upnp-log export --format csv -o device.csv device.cbor
//
//	# Keep the traffic of one peer
//	upnp-log filter --remote 192.168.1.20 -o peer.cbor device.cbor
//
//	# Show statistics
//	upnp-log stats device.cbor
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/upnpsdk/upnpsdk-go/cmd/upnp-log/commands"
)

const usage = `upnp-log - UPnP Protocol Capture Analyzer

Usage:
  upnp-log <command> [flags] <file.cbor>

Commands:
  view     View capture in human-readable format
  export   Export capture to JSONL or CSV format
  filter   Filter capture and write to new file
  stats    Show statistics about the capture

Use "upnp-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// capturePath returns the single positional argument or exits.
func capturePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `upnp-log view - View capture in human-readable format

Usage:
  upnp-log view [flags] <file.cbor>

Flags:
`)
		fs.PrintDefaults()
	}

	layer := fs.String("layer", "", "Filter by layer (udp, http, service)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (ssdp, gena, soap, web, state, error)")
	udn := fs.String("udn", "", "Filter by device UDN")
	sid := fs.String("sid", "", "Filter by subscription ID")
	method := fs.String("method", "", "Filter by request method (M-SEARCH, NOTIFY, SUBSCRIBE, POST, ...)")
	kinds := fs.String("kind", "", "Filter by record kinds, comma-separated (datagram, request, response, state, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := capturePath(fs)

	filter := commands.ViewFilter{UDN: *udn, SID: *sid, Method: *method}

	if *kinds != "" {
		k, err := commands.ParseKindsFlag(*kinds)
		if err != nil {
			fail(err)
		}
		filter.Kinds = k
	}

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}

	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}

	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `upnp-log export - Export capture to JSONL or CSV format

Usage:
  upnp-log export [flags] <file.cbor>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := capturePath(fs)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `upnp-log filter - Filter capture and write to new file

Usage:
  upnp-log filter [flags] <file.cbor>

Flags:
`)
		fs.PrintDefaults()
	}

	output := fs.String("o", "", "Output file (required)")
	connID := fs.String("conn-id", "", "Filter by connection ID")
	udn := fs.String("udn", "", "Filter by device UDN")
	sid := fs.String("sid", "", "Filter by subscription ID")
	remote := fs.String("remote", "", "Filter by peer address prefix")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (udp, http, service)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (ssdp, gena, soap, web, state, error)")
	method := fs.String("method", "", "Filter by request method (M-SEARCH, NOTIFY, SUBSCRIBE, POST, ...)")
	status := fs.Int("status", 0, "Filter by response status code")
	kinds := fs.String("kind", "", "Filter by record kinds, comma-separated (datagram, request, response, state, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := capturePath(fs)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	opts := commands.FilterOptions{
		Output:     *output,
		ConnID:     *connID,
		UDN:        *udn,
		SID:        *sid,
		RemoteAddr: *remote,
		TimeStart:  *timeStart,
		TimeEnd:    *timeEnd,
		Layer:      *layer,
		Direction:  *direction,
		Category:   *category,
		Method:     *method,
		Status:     *status,
		Kinds:      *kinds,
	}

	if err := commands.RunFilter(path, opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `upnp-log stats - Show statistics about the capture

Usage:
  upnp-log stats <file.cbor>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := capturePath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
