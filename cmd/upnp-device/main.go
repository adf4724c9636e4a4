// Command upnp-device runs an emulated UPnP television.
//
// The television offers a control service (Power, Channel, Volume) and a
// picture service (Color, Tint, Contrast, Brightness). Every action
// changes one state variable and sends it to the subscribers of the
// service.
//
// Usage:
//
//	upnp-device [flags]
//
// Flags:
//
//	-config string     Configuration file path (reloaded on change)
//	-iface string      Network interface (default: best available)
//	-port int          HTTP port, 0 picks one (default 49152)
//	-web-dir string    Web root holding the description (default "./web")
//	-desc string       Description document name (default "tvdevicedesc.xml")
//	-max-age duration  Advertisement lifetime (default 100s)
//	-state-dir string  Directory keeping BOOTID and CONFIGID
//	-capture string    Protocol capture file (CBOR)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-dnssd             Also announce the device through mDNS
//	-metrics           Serve Prometheus metrics on /metrics
//
// When the web directory does not contain the description document, the
// built-in television description is served.
//
// Examples:
//
//	# Run on eth0 with persistent boot IDs
//	upnp-device -iface eth0 -state-dir /var/lib/upnp
//
//	# Capture all protocol traffic for upnp-log
//	upnp-device -capture tv.cbor -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/upnpsdk/upnpsdk-go/pkg/config"
	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	upnplog "github.com/upnpsdk/upnpsdk-go/pkg/log"
	"github.com/upnpsdk/upnpsdk-go/pkg/upnp"
	"github.com/upnpsdk/upnpsdk-go/pkg/version"
)

var (
	configFile string
	flags      = config.Default()
	maxAge     time.Duration
)

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file path (reloaded on change)")
	flag.StringVar(&flags.Interface, "iface", "", "Network interface (default: best available)")
	flag.IntVar(&flags.Port, "port", flags.Port, "HTTP port, 0 picks one")
	flag.StringVar(&flags.WebDir, "web-dir", flags.WebDir, "Web root holding the description")
	flag.StringVar(&flags.DescDocName, "desc", flags.DescDocName, "Description document name")
	flag.DurationVar(&maxAge, "max-age", flags.MaxAge.Std(), "Advertisement lifetime")
	flag.StringVar(&flags.StateDir, "state-dir", "", "Directory keeping BOOTID and CONFIGID")
	flag.StringVar(&flags.CaptureFile, "capture", "", "Protocol capture file (CBOR)")
	flag.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "Log level: debug, info, warn, error")
	flag.BoolVar(&flags.DNSSD, "dnssd", false, "Also announce the device through mDNS")
	flag.BoolVar(&flags.Metrics, "metrics", false, "Serve Prometheus metrics on /metrics")
}

func main() {
	flag.Parse()
	flags.MaxAge = config.Duration(maxAge)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	setupLogging(cfg.LogLevel)
	level := new(slog.LevelVar)
	lvl, _ := config.ParseLevel(cfg.LogLevel)
	level.Set(lvl)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	log.Println("UPnP TV Device")
	log.Println("==============")
	log.Printf("SDK version: %s", version.Current)
	log.Printf("Port: %d", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	sdkConfig.StateDir = cfg.StateDir
	sdkConfig.DNSSD = cfg.DNSSD
	sdkConfig.Logger = logger

	capture, err := protocolLogger(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open capture: %v", err)
	}
	if capture != nil {
		sdkConfig.ProtocolLogger = capture
	}
	if cfg.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		sdkConfig.Registry = reg
	}

	desc, fsys, err := deviceDescription(cfg)
	if err != nil {
		log.Fatalf("Failed to load description: %v", err)
	}
	if desc.File != "" {
		sdkConfig.WebDir = cfg.WebDir
	}

	root, err := parseDescription(desc)
	if err != nil {
		log.Fatalf("Invalid description: %v", err)
	}
	tv, err := NewTV(root, fsys, logger)
	if err != nil {
		log.Fatalf("Failed to create TV: %v", err)
	}

	sdk, err := upnp.New(sdkConfig)
	if err != nil {
		log.Fatalf("Failed to create SDK: %v", err)
	}
	if err := sdk.Start(ctx); err != nil {
		log.Fatalf("Failed to start SDK: %v", err)
	}
	v4, v6 := sdk.Addr()
	p4, p6 := sdk.Ports()
	log.Printf("SDK started on %s (IPv4 %s:%d, IPv6 [%s]:%d)", sdk.Interface(), v4, p4, v6, p6)

	if desc.File == "" {
		sub, err := fs.Sub(webFS, "web")
		if err != nil {
			log.Fatalf("Embedded web files: %v", err)
		}
		if err := sdk.AddVirtualDir("/scpd", newFSDir(sub)); err != nil {
			log.Fatalf("Failed to serve SCPDs: %v", err)
		}
	}

	device, err := sdk.RegisterRootDevice(ctx, desc, tv.HandleEvent)
	if err != nil {
		_ = sdk.Finish()
		log.Fatalf("Failed to register device: %v", err)
	}
	tv.SetPublisher(device)
	log.Printf("Registered %s at %s (BOOTID %d)", device.UDN(), device.Location(), device.BootID())

	if err := device.SendAdvertisement(ctx, int(cfg.MaxAge.Std()/time.Second)); err != nil {
		log.Printf("Warning: advertisement failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := device.Unregister(stopCtx); err != nil {
		log.Printf("Error unregistering device: %v", err)
	}
	stopCancel()
	if err := sdk.Finish(); err != nil {
		log.Printf("Error stopping SDK: %v", err)
	}
	if c, ok := capture.(interface{ Close() error }); ok {
		_ = c.Close()
	}

	log.Println("Goodbye!")
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
		case "web-dir":
			cfg.WebDir = flags.WebDir
		case "desc":
			cfg.DescDocName = flags.DescDocName
		case "max-age":
			cfg.MaxAge = flags.MaxAge
		case "state-dir":
			cfg.StateDir = flags.StateDir
		case "capture":
			cfg.CaptureFile = flags.CaptureFile
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "dnssd":
			cfg.DNSSD = flags.DNSSD
		case "metrics":
			cfg.Metrics = flags.Metrics
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

// protocolLogger returns the capture file logger, combined with a slog
// adapter at debug level. It returns nil when neither is enabled.
func protocolLogger(cfg config.Config, logger *slog.Logger) (upnplog.Logger, error) {
	var loggers []upnplog.Logger
	var file *upnplog.FileLogger
	if cfg.CaptureFile != "" {
		var err error
		if file, err = upnplog.NewFileLogger(cfg.CaptureFile); err != nil {
			return nil, err
		}
		loggers = append(loggers, file)
	}
	if cfg.LogLevel == "debug" {
		loggers = append(loggers, upnplog.NewSlogAdapter(logger))
	}
	switch len(loggers) {
	case 0:
		return nil, nil
	case 1:
		return loggers[0], nil
	}
	return &closingMulti{MultiLogger: upnplog.NewMultiLogger(loggers...), file: file}, nil
}

type closingMulti struct {
	*upnplog.MultiLogger
	file *upnplog.FileLogger
}

func (m *closingMulti) Close() error {
	if m.file == nil {
		return nil
	}
	return m.file.Close()
}

// deviceDescription picks the description in the web directory, or the
// built-in one. The returned file system holds the SCPD documents.
func deviceDescription(cfg config.Config) (upnp.DeviceDesc, fs.FS, error) {
	if cfg.WebDir != "" {
		path := filepath.Join(cfg.WebDir, cfg.DescDocName)
		if _, err := os.Stat(path); err == nil {
			return upnp.DeviceDesc{File: path}, os.DirFS(cfg.WebDir), nil
		}
	}
	doc, err := webFS.ReadFile("web/tvdevicedesc.xml")
	if err != nil {
		return upnp.DeviceDesc{}, nil, err
	}
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return upnp.DeviceDesc{}, nil, err
	}
	return upnp.DeviceDesc{Doc: doc, DocName: cfg.DescDocName}, sub, nil
}

func parseDescription(desc upnp.DeviceDesc) (*description.Root, error) {
	doc := desc.Doc
	if desc.File != "" {
		var err error
		// #nosec G304 -- the description path is provided by the operator
		if doc, err = os.ReadFile(desc.File); err != nil {
			return nil, err
		}
	}
	root, err := description.ParseBytes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", desc.DocName, err)
	}
	return root, nil
}
