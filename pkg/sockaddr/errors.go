package sockaddr

import "errors"

var (
	// ErrInvalidAddress is returned for text that is not a valid netaddress.
	ErrInvalidAddress = errors.New("invalid netaddress")

	// ErrInvalidPort is returned for a port that is not a decimal number.
	ErrInvalidPort = errors.New("invalid port")

	// ErrPortOutOfRange is returned for a port above 65535.
	ErrPortOutOfRange = errors.New("port out of range")

	// ErrNoAddress is returned when resolution yields no usable address.
	ErrNoAddress = errors.New("no address found")

	// ErrUnsupportedAddr is returned for net.Addr types that carry no IP.
	ErrUnsupportedAddr = errors.New("unsupported address type")
)
