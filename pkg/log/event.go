package log

import (
	"time"
)

// MaxCaptureBytes bounds the raw bytes stored in a DatagramEvent.
const MaxCaptureBytes = 4096

// Event represents a protocol capture event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the TCP connection or UDP exchange (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the protocol the event belongs to.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether the local side is a device or control point.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address in netaddrp form.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// UDN is the device UDN, when known.
	UDN string `cbor:"8,keyasint,omitempty"`

	// SID is the GENA subscription ID, when applicable.
	SID string `cbor:"9,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Datagram    *DatagramEvent    `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerUDP is raw datagram capture.
	LayerUDP Layer = 0
	// LayerHTTP is a parsed HTTP or HTTPU message.
	LayerHTTP Layer = 1
	// LayerService is the SDK API layer (handles, subscriptions).
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerUDP:
		return "UDP"
	case LayerHTTP:
		return "HTTP"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the protocol of an event.
type Category uint8

const (
	// CategorySSDP covers discovery traffic.
	CategorySSDP Category = 0
	// CategoryGENA covers subscriptions and event notifications.
	CategoryGENA Category = 1
	// CategorySOAP covers control actions.
	CategorySOAP Category = 2
	// CategoryWeb covers description and file downloads.
	CategoryWeb Category = 3
	// CategoryState indicates a state change.
	CategoryState Category = 4
	// CategoryError indicates an error event.
	CategoryError Category = 5
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategorySSDP:
		return "SSDP"
	case CategoryGENA:
		return "GENA"
	case CategorySOAP:
		return "SOAP"
	case CategoryWeb:
		return "WEB"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory returns the category with the given name.
func ParseCategory(s string) (Category, bool) {
	for c := CategorySSDP; c <= CategoryError; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// Role indicates whether the local endpoint is a device or control point.
type Role uint8

const (
	// RoleDevice indicates this is a device.
	RoleDevice Role = 0
	// RoleControlPoint indicates this is a control point.
	RoleControlPoint Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "DEVICE"
	case RoleControlPoint:
		return "CONTROL_POINT"
	default:
		return "UNKNOWN"
	}
}

// DatagramEvent captures a raw UDP datagram.
type DatagramEvent struct {
	// Size is the datagram size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the datagram (truncated to MaxCaptureBytes).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Multicast is set when the datagram was sent to or received on a group.
	Multicast bool `cbor:"4,keyasint,omitempty"`
}

// NewDatagramEvent copies b into a DatagramEvent, truncating large payloads.
func NewDatagramEvent(b []byte, multicast bool) *DatagramEvent {
	ev := &DatagramEvent{Size: len(b), Multicast: multicast}
	n := len(b)
	if n > MaxCaptureBytes {
		n = MaxCaptureBytes
		ev.Truncated = true
	}
	ev.Data = append([]byte(nil), b[:n]...)
	return ev
}

// MessageEvent captures a parsed HTTP message.
type MessageEvent struct {
	// Type distinguishes request/response.
	Type MessageType `cbor:"1,keyasint"`

	// Method is the request method (M-SEARCH, NOTIFY, SUBSCRIBE, ...).
	Method string `cbor:"2,keyasint,omitempty"`

	// Target is the request URI.
	Target string `cbor:"3,keyasint,omitempty"`

	// Status is the response status code.
	Status int `cbor:"4,keyasint,omitempty"`

	// Headers holds the message headers with upper-case names.
	Headers map[string]string `cbor:"5,keyasint,omitempty"`

	// BodySize is the body length in bytes.
	BodySize int `cbor:"6,keyasint,omitempty"`

	// ProcessingTime is the duration from request receipt to response (response only).
	ProcessingTime *time.Duration `cbor:"7,keyasint,omitempty"`
}

// MessageType distinguishes requests and responses.
type MessageType uint8

const (
	// MessageTypeRequest indicates a request message.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse indicates a response message.
	MessageTypeResponse MessageType = 1
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures lifecycle changes.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityServer indicates a miniserver or SSDP listener change.
	StateEntityServer StateEntity = 0
	// StateEntityAdvertisement indicates a device advertisement change.
	StateEntityAdvertisement StateEntity = 1
	// StateEntitySubscription indicates a GENA subscription change.
	StateEntitySubscription StateEntity = 2
	// StateEntitySearch indicates a control point search change.
	StateEntitySearch StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityServer:
		return "SERVER"
	case StateEntityAdvertisement:
		return "ADVERTISEMENT"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	case StateEntitySearch:
		return "SEARCH"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the SDK error code or HTTP status (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
