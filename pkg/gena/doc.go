// Package gena implements UPnP eventing: the publisher that devices use to
// accept subscriptions and send property change notifications, and the
// subscriber that control points use to subscribe and receive them.
//
// # Publisher
//
// A Publisher serves SUBSCRIBE and UNSUBSCRIBE requests for the event URLs
// of the registered description documents. New subscriptions are reported
// to the device application, which accepts them with Accept. The initial
// event carries SEQ 0; later events count up and wrap from 2^32-1 to 1.
//
// Notifications are queued per subscription and sent in order from pool
// jobs. A queue holds at most MaxQueued events; queued events older than
// MaxEventAge are dropped before the next one is sent.
//
// # Subscriber
//
// A Subscriber sends SUBSCRIBE requests with its callback URL, renews
// subscriptions AutoRenewMargin before they expire and validates incoming
// NOTIFY requests:
//
//   - missing SID: 412
//   - missing or malformed SEQ: 400
//   - missing NT or NTS: 400
//   - NT other than upnp:event or NTS other than upnp:propchange: 412
//   - body that is not a property set: 400
//   - unknown SID: 412
//
// An initial event for an unknown SID waits up to SubscribeWait for a
// subscription still in flight to complete.
//
// # Routing
//
// Handler dispatches SUBSCRIBE and UNSUBSCRIBE to the publisher and NOTIFY
// to the subscriber, answering 501 when the matching side is not set.
package gena
