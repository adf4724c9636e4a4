// Package description models UPnP device and service description documents.
//
// A device description has a root device with optional embedded devices,
// each listing its services. Walk flattens the tree, which is what SSDP
// advertisement and GENA service lookup need. ResolveURLs turns the
// relative service URLs into absolute ones against URLBase or the
// document location.
//
// The SCPD types cover the action list and state table of a service.
package description
