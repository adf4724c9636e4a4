// Package socket opens the listening sockets of the SDK.
//
// The SSDP listener must share UDP port 1900 with other UPnP stacks on the
// same host, so reuse options are applied before bind through a
// net.ListenConfig Control function. IPv6 listeners are opened V6ONLY so an
// IPv4 listener on the same port can coexist.
package socket
