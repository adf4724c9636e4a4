// Package miniserver is the HTTP front end shared by devices and control
// points.
//
// It opens one TCP listener for IPv4 and one for IPv6 and hands every request
// to one of three handlers by method:
//
//	POST with SOAPACTION, M-POST      SOAP handler
//	NOTIFY, SUBSCRIBE, UNSUBSCRIBE    GENA handler
//	GET, HEAD, other POST             web handler
//
// Any other method is answered with 500. A missing handler answers 501.
//
// # Host Validation
//
// A request must carry a Host header. Unless a HostValidator is configured
// the host must be a numeric address other than "0.0.0.0" or "[::]". This
// protects devices on the local network against DNS rebinding. With
// AllowLiteralHostRedirection a request for a host name is redirected (307)
// to the numeric address the request arrived on instead of being refused.
//
// # Ports
//
// The server tries Port and up to PortWalk successive ports until it can
// bind. Port 0 lets the system pick a free port. The IPv6 listener tries the
// IPv4 port first.
package miniserver
