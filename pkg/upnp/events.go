package upnp

import (
	"github.com/upnpsdk/upnpsdk-go/pkg/gena"
	"github.com/upnpsdk/upnpsdk-go/pkg/soap"
	"github.com/upnpsdk/upnpsdk-go/pkg/ssdp"
)

// EventType identifies a callback event.
type EventType uint8

const (
	// EventControlActionRequest carries an *ActionRequest to a device.
	EventControlActionRequest EventType = iota
	// EventControlActionComplete carries an *ActionComplete to a client.
	EventControlActionComplete

	// EventDiscoveryAlive carries a *DiscoveryEvent.
	EventDiscoveryAlive
	// EventDiscoveryByebye carries a *DiscoveryEvent.
	EventDiscoveryByebye
	// EventDiscoverySearchResult carries a *DiscoveryEvent.
	EventDiscoverySearchResult
	// EventDiscoverySearchTimeout carries a *DiscoveryEvent without
	// discovery.
	EventDiscoverySearchTimeout

	// EventSubscriptionRequest carries a *gena.SubscriptionRequest to a
	// device.
	EventSubscriptionRequest
	// EventReceived carries a *gena.Event.
	EventReceived
	// EventRenewalComplete carries a *SubscriptionEvent.
	EventRenewalComplete
	// EventSubscribeComplete carries a *SubscriptionEvent.
	EventSubscribeComplete
	// EventUnsubscribeComplete carries a *SubscriptionEvent.
	EventUnsubscribeComplete
	// EventAutoRenewalFailed carries a *SubscriptionEvent.
	EventAutoRenewalFailed
	// EventSubscriptionExpired carries a *SubscriptionEvent.
	EventSubscriptionExpired
)

// String returns the event name.
func (e EventType) String() string {
	switch e {
	case EventControlActionRequest:
		return "CONTROL_ACTION_REQUEST"
	case EventControlActionComplete:
		return "CONTROL_ACTION_COMPLETE"
	case EventDiscoveryAlive:
		return "DISCOVERY_ADVERTISEMENT_ALIVE"
	case EventDiscoveryByebye:
		return "DISCOVERY_ADVERTISEMENT_BYEBYE"
	case EventDiscoverySearchResult:
		return "DISCOVERY_SEARCH_RESULT"
	case EventDiscoverySearchTimeout:
		return "DISCOVERY_SEARCH_TIMEOUT"
	case EventSubscriptionRequest:
		return "EVENT_SUBSCRIPTION_REQUEST"
	case EventReceived:
		return "EVENT_RECEIVED"
	case EventRenewalComplete:
		return "EVENT_RENEWAL_COMPLETE"
	case EventSubscribeComplete:
		return "EVENT_SUBSCRIBE_COMPLETE"
	case EventUnsubscribeComplete:
		return "EVENT_UNSUBSCRIBE_COMPLETE"
	case EventAutoRenewalFailed:
		return "EVENT_AUTORENEWAL_FAILED"
	case EventSubscriptionExpired:
		return "EVENT_SUBSCRIPTION_EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Callback receives SDK events. Callbacks run on pool workers and may
// block only briefly.
type Callback func(event EventType, data any)

// ActionRequest is passed to a device for every SOAP action. The callback
// fills Result, or sets Err to fail the action. A *soap.Error in Err is
// returned to the caller as is; any other error becomes 501 Action Failed.
type ActionRequest struct {
	*soap.ActionRequest

	Result []soap.Argument
	Err    error
}

// ActionComplete reports the outcome of SendActionAsync.
type ActionComplete struct {
	Err         error
	CtrlURL     string
	ServiceType string
	ActionName  string
	Args        []soap.Argument
	Result      []soap.Argument
	Cookie      any
}

// DiscoveryEvent is the payload of the DISCOVERY_* events. Discovery is
// nil for EventDiscoverySearchTimeout.
type DiscoveryEvent struct {
	Discovery *ssdp.Discovery
	Cookie    any
}

// SubscriptionEvent reports a subscription outcome. Cookie is set for
// the completion of an Async call.
type SubscriptionEvent struct {
	gena.SubscriptionEvent
	Cookie any
}

func discoveryEventType(k ssdp.EventKind) EventType {
	switch k {
	case ssdp.EventAlive:
		return EventDiscoveryAlive
	case ssdp.EventByebye:
		return EventDiscoveryByebye
	case ssdp.EventSearchResult:
		return EventDiscoverySearchResult
	default:
		return EventDiscoverySearchTimeout
	}
}

func genaEventType(k gena.EventKind) EventType {
	switch k {
	case gena.EventRenewalComplete:
		return EventRenewalComplete
	case gena.EventSubscribeComplete:
		return EventSubscribeComplete
	case gena.EventUnsubscribeComplete:
		return EventUnsubscribeComplete
	case gena.EventAutoRenewalFailed:
		return EventAutoRenewalFailed
	case gena.EventSubscriptionExpired:
		return EventSubscriptionExpired
	default:
		return EventReceived
	}
}
