// Package uri parses the URIs that appear in UPnP messages: LOCATION and
// CALLBACK headers, URLBase, and the relative SCPD/control/event URLs of a
// device description.
//
// The grammar is the RFC 2396 subset used by UPnP device architecture 1.0:
//
//	absoluteURI = scheme ":" [ "//" hostport ] pathquery [ "#" fragment ]
//	relativeURI = [ "//" hostport ] pathquery [ "#" fragment ]
//
// Host names are checked for their character set and, with ParseResolve,
// resolved to a socket address. Parse leaves HostPort.Addr unset for names
// so that resolving relative URLs never touches DNS.
//
// # Relative resolution
//
// ResolveRel merges a relative reference into an absolute base and then
// removes dot segments as described in RFC 3986 section 5.2.4.
package uri
