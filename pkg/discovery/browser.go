package discovery

import (
	"context"
	"log/slog"
	"time"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// Browse streams devices as they appear. The channel is closed when
	// ctx is done or Stop is called.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find browses until a device with the given UDN answers.
	Find(ctx context.Context, udn string) (*Service, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds Find when ctx has no deadline.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	Logger *slog.Logger
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}
