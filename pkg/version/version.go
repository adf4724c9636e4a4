// Package version provides the SDK version, UPnP architecture version
// parsing, and the product tokens sent as SERVER and USER-AGENT.
package version

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// SDK is the version of this library.
const SDK = "1.0.0"

// Product is the product name used in product tokens.
const Product = "upnpsdk-go"

// Current is the UPnP device architecture version implemented by default.
const Current = "1.0"

// SpecVersion represents a parsed "major.minor" UPnP architecture version.
type SpecVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (SpecVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return SpecVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return SpecVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v SpecVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v SpecVersion) Compatible(other SpecVersion) bool {
	return v.Major == other.Major
}

// AtLeast reports whether v is other or newer.
func (v SpecVersion) AtLeast(other SpecVersion) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor >= other.Minor
}

// ProductToken returns the SERVER and USER-AGENT value:
// "<os>/<release>, UPnP/<arch>, upnpsdk-go/<sdk>". An empty arch selects
// Current.
func ProductToken(arch string) string {
	if arch == "" {
		arch = Current
	}
	os := runtime.GOOS
	if rel := osRelease(); rel != "" {
		os += "/" + rel
	}
	return fmt.Sprintf("%s, UPnP/%s, %s/%s", os, arch, Product, SDK)
}

// ParseProductToken extracts the UPnP architecture version from a SERVER
// or USER-AGENT value. Tokens may be separated by commas or spaces.
func ParseProductToken(s string) (SpecVersion, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	for _, f := range fields {
		name, ver, ok := strings.Cut(f, "/")
		if ok && strings.EqualFold(name, "UPnP") {
			return Parse(ver)
		}
	}
	return SpecVersion{}, fmt.Errorf("no UPnP token in %q", s)
}
