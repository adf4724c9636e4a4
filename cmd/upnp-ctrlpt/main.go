// Command upnp-ctrlpt is an interactive control point for the emulated
// UPnP television of upnp-device.
//
// It searches for televisions, subscribes to their services, keeps the
// evented state of every device and sends actions from a command shell.
//
// Usage:
//
//	upnp-ctrlpt [flags]
//
// Flags:
//
//	-config string     Configuration file path (reloaded on change)
//	-iface string      Network interface (default: best available)
//	-port int          HTTP port for event callbacks, 0 picks one (default 49152)
//	-target string     Search target (default the television device type)
//	-mx int            Search response window in seconds (default 5)
//	-state-dir string  Directory remembering known devices
//	-capture string    Protocol capture file (CBOR)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-interactive       Run the command shell (default true)
//
// Examples:
//
//	# Search on eth0 and remember the devices found
//	upnp-ctrlpt -iface eth0 -state-dir ~/.upnp
//
//	# Search for every root device without a shell
//	upnp-ctrlpt -target upnp:rootdevice -interactive=false
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/config"
	upnplog "github.com/upnpsdk/upnpsdk-go/pkg/log"
	"github.com/upnpsdk/upnpsdk-go/pkg/persistence"
	"github.com/upnpsdk/upnpsdk-go/pkg/upnp"
	"github.com/upnpsdk/upnpsdk-go/pkg/version"
)

// pruneInterval is how often expired devices are dropped.
const pruneInterval = 30 * time.Second

var (
	configFile  string
	flags       = config.Default()
	interactive bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file path (reloaded on change)")
	flag.StringVar(&flags.Interface, "iface", "", "Network interface (default: best available)")
	flag.IntVar(&flags.Port, "port", flags.Port, "HTTP port for event callbacks, 0 picks one")
	flag.StringVar(&flags.Search.Target, "target", flags.Search.Target, "Search target")
	flag.IntVar(&flags.Search.MX, "mx", flags.Search.MX, "Search response window in seconds")
	flag.StringVar(&flags.StateDir, "state-dir", "", "Directory remembering known devices")
	flag.StringVar(&flags.CaptureFile, "capture", "", "Protocol capture file (CBOR)")
	flag.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "Log level: debug, info, warn, error")
	flag.BoolVar(&interactive, "interactive", true, "Run the command shell")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	setupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	level := new(slog.LevelVar)
	lvl, _ := config.ParseLevel(cfg.LogLevel)
	level.Set(lvl)
	out := &switchWriter{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	log.Println("UPnP TV Control Point")
	log.Println("=====================")
	log.Printf("SDK version: %s", version.Current)
	log.Printf("Search target: %s (MX %d)", cfg.Search.Target, cfg.Search.MX)

	if configFile != "" {
		go func() {
			err := config.Watch(ctx, configFile, logger, func(c config.Config) {
				l, _ := config.ParseLevel(c.LogLevel)
				level.Set(l)
				logger.Info("configuration reloaded", "log_level", c.LogLevel)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("config watch stopped", "error", err)
			}
		}()
	}

	sdkConfig := upnp.DefaultConfig()
	sdkConfig.Interface = cfg.Interface
	sdkConfig.Port = cfg.Port
	sdkConfig.Logger = logger

	var capture *upnplog.FileLogger
	if cfg.CaptureFile != "" {
		if capture, err = upnplog.NewFileLogger(cfg.CaptureFile); err != nil {
			log.Fatalf("Failed to open capture: %v", err)
		}
		defer capture.Close()
		sdkConfig.ProtocolLogger = capture
	}

	cpConfig := ControlPointConfig{
		Target: cfg.Search.Target,
		MX:     cfg.Search.MX,
		Logger: logger,
	}
	if cfg.StateDir != "" {
		cpConfig.Store = persistence.NewControlPointStateStore(filepath.Join(cfg.StateDir, "ctrlpt.json"))
	}
	cp := NewControlPoint(cpConfig)

	sdk, err := upnp.New(sdkConfig)
	if err != nil {
		log.Fatalf("Failed to create SDK: %v", err)
	}
	if err := sdk.Start(ctx); err != nil {
		log.Fatalf("Failed to start SDK: %v", err)
	}
	v4, v6 := sdk.Addr()
	log.Printf("SDK started on %s (IPv4 %s, IPv6 %s)", sdk.Interface(), v4, v6)

	client, err := sdk.RegisterClient(cp.HandleEvent)
	if err != nil {
		_ = sdk.Finish()
		log.Fatalf("Failed to register client: %v", err)
	}
	cp.Attach(ctx, client)

	if err := cp.Refresh(ctx); err != nil {
		log.Printf("Warning: search failed: %v", err)
	}
	go runPruneLoop(ctx, cp)

	if interactive {
		shell, err := NewShell(ctx, cp)
		if err != nil {
			log.Fatalf("Failed to create shell: %v", err)
		}
		// Keep log output off the prompt line.
		log.SetOutput(shell.Stdout())
		out.Set(shell.Stdout())
		go shell.Run(cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	cp.Close(stopCtx)
	if err := client.Unregister(stopCtx); err != nil {
		log.Printf("Error unregistering client: %v", err)
	}
	stopCancel()
	if err := sdk.Finish(); err != nil {
		log.Printf("Error stopping SDK: %v", err)
	}

	log.Println("Goodbye!")
}

func runPruneLoop(ctx context.Context, cp *ControlPoint) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp.Prune(ctx)
		}
	}
}

// loadConfig reads the configuration file and overlays the flags given on
// the command line.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iface":
			cfg.Interface = flags.Interface
		case "port":
			cfg.Port = flags.Port
		case "target":
			cfg.Search.Target = flags.Search.Target
		case "mx":
			cfg.Search.MX = flags.Search.MX
		case "state-dir":
			cfg.StateDir = flags.StateDir
		case "capture":
			cfg.CaptureFile = flags.CaptureFile
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		}
	})
	return cfg, cfg.Validate()
}

func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "warn", "error":
		log.SetFlags(log.Ltime)
	}
}

// switchWriter forwards to a writer that can be replaced while logging.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
