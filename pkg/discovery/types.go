package discovery

import (
	"errors"
	"strings"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of UPnP root devices.
	ServiceType = "_upnp._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultTTL is the record TTL used when none is configured.
	DefaultTTL = 120 * time.Second

	// BrowseTimeout bounds Find when the context carries no deadline.
	BrowseTimeout = 10 * time.Second
)

// TXT record keys.
const (
	TXTKeyUDN      = "udn"
	TXTKeyLocation = "location"
	TXTKeyPath     = "path"
)

// MaxInstanceNameLen is the DNS label limit.
const MaxInstanceNameLen = 63

// Discovery errors.
var (
	ErrNotFound        = errors.New("service not found")
	ErrMissingRequired = errors.New("missing required TXT record")
	ErrInvalidInfo     = errors.New("invalid service info")
)

// Info describes one root device to advertise.
type Info struct {
	// FriendlyName becomes the instance name.
	FriendlyName string

	// Port is the HTTP port serving the description.
	Port uint16

	UDN      string
	Location string
	Path     string
}

// Validate reports whether the info can be advertised.
func (i *Info) Validate() error {
	switch {
	case i == nil:
		return ErrInvalidInfo
	case !strings.HasPrefix(i.UDN, "uuid:"):
		return errors.Join(ErrInvalidInfo, errors.New("udn must start with uuid:"))
	case i.Location == "":
		return errors.Join(ErrInvalidInfo, errors.New("empty location"))
	case i.Port == 0:
		return errors.Join(ErrInvalidInfo, errors.New("zero port"))
	}
	return nil
}

// InstanceName returns the DNS-SD instance name: the friendly name, or the
// UDN when no friendly name is set, cut to MaxInstanceNameLen bytes.
func (i *Info) InstanceName() string {
	name := i.FriendlyName
	if name == "" {
		name = strings.TrimPrefix(i.UDN, "uuid:")
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// Service is a device found while browsing.
type Service struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	UDN      string
	Location string
	Path     string
}
