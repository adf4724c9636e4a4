// Package ssdp implements the Simple Service Discovery Protocol used by
// UPnP devices and control points.
//
// # Device Side
//
// Device keeps the registered root devices and answers M-SEARCH requests.
// Advertise and Byebye multicast NOTIFY messages for the root device, each
// embedded device and each service, NumCopy times with Pause between the
// rounds. Search replies are sent after a random delay below the adjusted
// MX value, scheduled on the timer thread.
//
// # Control Point Side
//
// ControlPoint sends M-SEARCH requests, keeps the list of active searches
// until their MX window closes and turns incoming NOTIFY messages and
// search responses into Discovery values handed to the registered callback.
//
// # Transport
//
// Socket owns the UDP sockets. It joins 239.255.255.250 on IPv4 and
// FF02::C and FF05::C on IPv6, and opens separate request sockets on
// ephemeral ports for M-SEARCH so that unicast responses reach this process
// even when other stacks share port 1900.
package ssdp
