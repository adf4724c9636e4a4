// Package persistence keeps the runtime state of UPnP devices and control
// points across restarts.
//
// A device stores its UDN together with the BOOTID.UPNP.ORG and
// CONFIGID.UPNP.ORG values it announces. BOOTID must grow on every start,
// so NextBoot increments and saves it before the first advertisement.
// A control point stores the devices it has seen.
//
// State files are JSON and replaced atomically.
package persistence
