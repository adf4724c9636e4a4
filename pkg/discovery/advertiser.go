package discovery

import (
	"context"
	"log/slog"
	"time"
)

// Advertiser provides mDNS service advertising capabilities.
type Advertiser interface {
	// Advertise starts advertising a root device. A previous advertisement
	// for the same UDN is replaced.
	Advertise(ctx context.Context, info *Info) error

	// Update replaces the TXT records of an advertised device.
	Update(info *Info) error

	// StopAdvertising withdraws the advertisement for udn.
	StopAdvertising(udn string) error

	// StopAll stops all advertisements.
	StopAll()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration

	Logger *slog.Logger
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: DefaultTTL,
	}
}
