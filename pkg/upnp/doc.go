// Package upnp is the public API of the SDK.
//
// An SDK owns one set of runtime components: a thread pool, a timer
// thread, the miniserver with its web server, and the SSDP sockets. Device
// and control point applications register on a started SDK and receive
// events through a Callback.
//
// # Lifecycle
//
//	sdk, err := upnp.New(upnp.DefaultConfig())
//	if err := sdk.Start(ctx); err != nil { ... }
//	defer sdk.Finish()
//
// Start selects a network adapter, opens the HTTP listeners and joins the
// SSDP multicast groups. Finish sends byebye for every registered device
// and stops all components.
//
// # Devices
//
// RegisterRootDevice loads a description document from a URL, a file, or
// a buffer served by the internal web server. The returned Device
// advertises through SSDP (and DNS-SD when enabled), answers searches,
// dispatches SOAP actions as CONTROL_ACTION_REQUEST events and accepts
// GENA subscriptions reported as EVENT_SUBSCRIPTION_REQUEST.
//
// # Control points
//
// RegisterClient returns the single Client of an SDK. It searches with
// M-SEARCH, subscribes to services, invokes actions and downloads
// description documents. Every blocking operation has an Async form that
// reports its outcome as a *_COMPLETE event.
//
// # Errors
//
// Code maps any error returned by the SDK to the integer codes of the
// UPnP SDK API (UPNP_E_*). ErrorMessage returns the code's name.
package upnp
