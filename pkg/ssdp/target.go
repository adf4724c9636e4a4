package ssdp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
)

// ErrInvalidTarget is returned for search targets, NT and USN values that
// cannot be classified.
var ErrInvalidTarget = errors.New("invalid search target")

// Well-known targets.
const (
	TargetAll        = "ssdp:all"
	TargetRootDevice = "upnp:rootdevice"
)

// SearchType classifies an ST or NT value.
type SearchType uint8

const (
	// SearchUnknown is a value that cannot be classified.
	SearchUnknown SearchType = iota
	// SearchAll is "ssdp:all".
	SearchAll
	// SearchRootDevice is "upnp:rootdevice".
	SearchRootDevice
	// SearchDeviceUDN is "uuid:...".
	SearchDeviceUDN
	// SearchDeviceType is "urn:...:device:...".
	SearchDeviceType
	// SearchService is "urn:...:service:...".
	SearchService
)

// String returns the search type name.
func (s SearchType) String() string {
	switch s {
	case SearchAll:
		return "ALL"
	case SearchRootDevice:
		return "ROOTDEVICE"
	case SearchDeviceUDN:
		return "DEVICEUDN"
	case SearchDeviceType:
		return "DEVICETYPE"
	case SearchService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// ClassifyTarget returns the search type of an ST or NT value.
func ClassifyTarget(st string) SearchType {
	switch {
	case st == "":
		return SearchUnknown
	case strings.EqualFold(st, TargetAll):
		return SearchAll
	case strings.EqualFold(st, TargetRootDevice):
		return SearchRootDevice
	case hasPrefixFold(st, "uuid:"):
		return SearchDeviceUDN
	case hasPrefixFold(st, "urn:") && strings.Contains(st, ":device:"):
		return SearchDeviceType
	case hasPrefixFold(st, "urn:") && strings.Contains(st, ":service:"):
		return SearchService
	default:
		return SearchUnknown
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// USN is a unique service name split into its parts.
type USN struct {
	UDN            string
	DeviceType     string
	ServiceType    string
	ServiceVersion int
}

// ParseUSN splits "uuid:X", "uuid:X::upnp:rootdevice" and
// "uuid:X::urn:...:device|service:...". A bare type without UDN is accepted
// as well, which is the form of an NT or ST header.
func ParseUSN(s string) (USN, error) {
	var u USN
	if s == "" {
		return u, fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	rest := s
	if hasPrefixFold(s, "uuid:") {
		udn, tail, found := strings.Cut(s, "::")
		u.UDN = udn
		if !found {
			return u, nil
		}
		rest = tail
	}
	switch ClassifyTarget(rest) {
	case SearchDeviceType:
		u.DeviceType = rest
	case SearchService:
		u.ServiceType = rest
		_, u.ServiceVersion = description.ServiceVersion(rest)
	case SearchRootDevice, SearchAll:
	default:
		if u.UDN == "" {
			return u, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
		}
	}
	return u, nil
}

// Target is a classified search target.
type Target struct {
	Type SearchType
	USN
}

// ParseTarget classifies st and splits its parts.
func ParseTarget(st string) (Target, error) {
	t := Target{Type: ClassifyTarget(st)}
	if t.Type == SearchUnknown {
		return t, fmt.Errorf("%w: %q", ErrInvalidTarget, st)
	}
	u, err := ParseUSN(st)
	if err != nil {
		return t, err
	}
	t.USN = u
	return t, nil
}

// matchVersioned compares a requested device or service type with the
// advertised one. It reports whether they match and whether the request
// asks for a lower version than advertised.
func matchVersioned(requested, advertised string) (match, lower bool) {
	rt, rv := description.ServiceVersion(requested)
	at, av := description.ServiceVersion(advertised)
	if !strings.EqualFold(rt, at) {
		return false, false
	}
	switch {
	case rv < av:
		return true, true
	case rv == av:
		return true, false
	default:
		return false, false
	}
}
