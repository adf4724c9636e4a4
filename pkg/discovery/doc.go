// Package discovery announces UPnP root devices over mDNS/DNS-SD.
//
// SSDP stays the discovery protocol of record. DNS-SD is an optional
// second channel that lets zero-configuration browsers find the device
// description without joining the SSDP multicast group.
//
// # Service
//
// Each root device registers one instance of _upnp._tcp in the local
// domain. The instance name is the device's friendlyName, truncated to the
// DNS label limit. The port is the HTTP port serving the description.
//
// # TXT records
//
//   - udn: unique device name (uuid:...), required
//   - location: absolute description URL, required
//   - path: description path below the HTTP root, optional
//
// # Browsing
//
// Browse aggregates answers by instance name. Addresses learned on several
// interfaces are merged into one Service; a Service whose last address
// disappears is dropped and reported again when it returns.
package discovery
