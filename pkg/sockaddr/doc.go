// Package sockaddr provides the socket address type used throughout the SDK.
//
// A SockAddr is an IP address (IPv4, or IPv6 with an optional zone) plus a
// port. Its textual forms follow UPnP usage:
//
//	NetAddr:  "192.168.1.2"        "[2001:db8::1]"     "[fe80::1%eth0]"
//	NetAddrP: "192.168.1.2:50001"  "[2001:db8::1]:80"
//
// # Parsing
//
// Parse and SetString accept "[v6]", "[v6]:port", "v4", "v4:port" and a bare
// "port". SetString on an address that already has a family also accepts
// ":port", which replaces only the port.
//
// # Resolution
//
// AddrInfo resolves a node and service into socket addresses. Numeric hosts
// are never sent to DNS, an IPv6 literal must be bracketed, and an empty
// node yields the loopback or (with FlagPassive) the unspecified address.
package sockaddr
