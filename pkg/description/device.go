package description

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/upnpsdk/upnpsdk-go/pkg/uri"
)

// Namespace of device description documents.
const DeviceNamespace = "urn:schemas-upnp-org:device-1-0"

// Description errors.
var (
	ErrInvalid         = errors.New("invalid description document")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrServiceNotFound = errors.New("service not found")
)

// SpecVersion is the UPnP architecture version.
type SpecVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

// Icon describes a device icon.
type Icon struct {
	Mimetype string `xml:"mimetype"`
	Width    int    `xml:"width"`
	Height   int    `xml:"height"`
	Depth    int    `xml:"depth"`
	URL      string `xml:"url"`
}

// Service is one service entry of a device.
type Service struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

// Device is a root or embedded device.
type Device struct {
	DeviceType       string    `xml:"deviceType"`
	FriendlyName     string    `xml:"friendlyName"`
	Manufacturer     string    `xml:"manufacturer"`
	ManufacturerURL  string    `xml:"manufacturerURL,omitempty"`
	ModelDescription string    `xml:"modelDescription,omitempty"`
	ModelName        string    `xml:"modelName"`
	ModelNumber      string    `xml:"modelNumber,omitempty"`
	ModelURL         string    `xml:"modelURL,omitempty"`
	SerialNumber     string    `xml:"serialNumber,omitempty"`
	UDN              string    `xml:"UDN"`
	UPC              string    `xml:"UPC,omitempty"`
	Icons            []Icon    `xml:"iconList>icon,omitempty"`
	Services         []Service `xml:"serviceList>service,omitempty"`
	Devices          []Device  `xml:"deviceList>device,omitempty"`
	PresentationURL  string    `xml:"presentationURL,omitempty"`
}

// Root is a device description document.
type Root struct {
	XMLName     xml.Name    `xml:"urn:schemas-upnp-org:device-1-0 root"`
	ConfigID    string      `xml:"configId,attr,omitempty"`
	SpecVersion SpecVersion `xml:"specVersion"`
	URLBase     string      `xml:"URLBase,omitempty"`
	Device      Device      `xml:"device"`
}

// Parse decodes a device description and checks that every device has a
// type and a UDN.
func Parse(r io.Reader) (*Root, error) {
	var root Root
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, d := range root.Walk() {
		if d.DeviceType == "" {
			return nil, fmt.Errorf("%w: device without deviceType", ErrInvalid)
		}
		if !strings.HasPrefix(d.UDN, "uuid:") {
			return nil, fmt.Errorf("%w: device %q has UDN %q", ErrInvalid, d.DeviceType, d.UDN)
		}
	}
	return &root, nil
}

// ParseBytes decodes a device description from b.
func ParseBytes(b []byte) (*Root, error) {
	return Parse(bytes.NewReader(b))
}

// Marshal encodes the document with an XML header.
func (r *Root) Marshal() ([]byte, error) {
	out, err := xml.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// Walk returns the root device followed by every embedded device, depth
// first.
func (r *Root) Walk() []*Device {
	var out []*Device
	var walk func(d *Device)
	walk = func(d *Device) {
		out = append(out, d)
		for i := range d.Devices {
			walk(&d.Devices[i])
		}
	}
	walk(&r.Device)
	return out
}

// FindDevice returns the device with the given UDN.
func (r *Root) FindDevice(udn string) (*Device, error) {
	for _, d := range r.Walk() {
		if d.UDN == udn {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, udn)
}

// FindService returns the service with serviceID on the device udn.
func (r *Root) FindService(udn, serviceID string) (*Service, error) {
	d, err := r.FindDevice(udn)
	if err != nil {
		return nil, err
	}
	for i := range d.Services {
		if d.Services[i].ServiceID == serviceID {
			return &d.Services[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrServiceNotFound, serviceID, udn)
}

// FindServiceByURL returns the device and service whose control or event
// URL path equals path.
func (r *Root) FindServiceByURL(path string, event bool) (*Device, *Service, error) {
	for _, d := range r.Walk() {
		for i := range d.Services {
			s := &d.Services[i]
			u := s.ControlURL
			if event {
				u = s.EventSubURL
			}
			if urlPath(u) == path {
				return d, s, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrServiceNotFound, path)
}

// urlPath returns the path of an absolute or relative URL.
func urlPath(s string) string {
	if u, err := uri.Parse(s); err == nil && u.Type == uri.Absolute {
		p := u.Path()
		if p == "" {
			return "/"
		}
		return p
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return s
}

// ResolveURLs makes the service and presentation URLs absolute. base is
// URLBase when set, else location (the URL the document was fetched from).
func (r *Root) ResolveURLs(location string) error {
	base := r.URLBase
	if base == "" {
		base = location
	}
	resolve := func(s *string) error {
		if *s == "" {
			return nil
		}
		abs, err := uri.ResolveRel(base, *s)
		if err != nil {
			return fmt.Errorf("resolve %q against %q: %w", *s, base, err)
		}
		*s = abs
		return nil
	}
	for _, d := range r.Walk() {
		for i := range d.Services {
			s := &d.Services[i]
			for _, p := range []*string{&s.SCPDURL, &s.ControlURL, &s.EventSubURL} {
				if err := resolve(p); err != nil {
					return err
				}
			}
		}
		for i := range d.Icons {
			if err := resolve(&d.Icons[i].URL); err != nil {
				return err
			}
		}
		if err := resolve(&d.PresentationURL); err != nil {
			return err
		}
	}
	return nil
}

// ServiceVersion splits "urn:domain:service:Name:3" into the type without
// version and the version number. A type without version returns 0.
func ServiceVersion(serviceType string) (string, int) {
	i := strings.LastIndexByte(serviceType, ':')
	if i < 0 {
		return serviceType, 0
	}
	v := 0
	for _, c := range serviceType[i+1:] {
		if c < '0' || c > '9' {
			return serviceType, 0
		}
		v = v*10 + int(c-'0')
	}
	if i+1 == len(serviceType) {
		return serviceType, 0
	}
	return serviceType[:i], v
}
