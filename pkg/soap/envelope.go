package soap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Namespaces and content type of control messages.
const (
	EnvelopeNamespace = "http://schemas.xmlsoap.org/soap/envelope/"
	EncodingStyle     = "http://schemas.xmlsoap.org/soap/encoding/"
	ControlNamespace  = "urn:schemas-upnp-org:control-1-0"

	ContentType = `text/xml; charset="utf-8"`
)

// UPnP control error codes.
const (
	CodeInvalidAction                = 401
	CodeInvalidArgs                  = 402
	CodeActionFailed                 = 501
	CodeArgumentValueInvalid         = 600
	CodeArgumentValueOutOfRange      = 601
	CodeOptionalActionNotImplemented = 602
	CodeOutOfMemory                  = 603
	CodeHumanInterventionRequired    = 604
	CodeStringArgumentTooLong        = 605
)

// Envelope errors.
var (
	ErrInvalidEnvelope   = errors.New("invalid SOAP envelope")
	ErrInvalidSOAPAction = errors.New("invalid SOAPACTION header")
)

// Error is a UPnP error carried in a SOAP fault.
type Error struct {
	Code        int
	Description string
}

// NewError returns an error with the standard description for code.
func NewError(code int) *Error {
	return &Error{Code: code, Description: CodeText(code)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("upnp error %d: %s", e.Code, e.Description)
}

// CodeText returns the standard description of a control error code.
func CodeText(code int) string {
	switch code {
	case CodeInvalidAction:
		return "Invalid Action"
	case CodeInvalidArgs:
		return "Invalid Args"
	case CodeActionFailed:
		return "Action Failed"
	case CodeArgumentValueInvalid:
		return "Argument Value Invalid"
	case CodeArgumentValueOutOfRange:
		return "Argument Value Out of Range"
	case CodeOptionalActionNotImplemented:
		return "Optional Action Not Implemented"
	case CodeOutOfMemory:
		return "Out of Memory"
	case CodeHumanInterventionRequired:
		return "Human Intervention Required"
	case CodeStringArgumentTooLong:
		return "String Argument Too Long"
	default:
		return "Action Failed"
	}
}

// Argument is one named action argument in document order.
type Argument struct {
	Name  string
	Value string
}

// Lookup returns the value of the first argument called name.
func Lookup(args []Argument, name string) (string, bool) {
	for _, a := range args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// ParseSOAPAction splits a SOAPACTION value ("serviceType#action", with
// or without quotes).
func ParseSOAPAction(v string) (serviceType, action string, err error) {
	v = strings.TrimSpace(v)
	v = strings.TrimSuffix(strings.TrimPrefix(v, `"`), `"`)
	i := strings.LastIndexByte(v, '#')
	if i <= 0 || i == len(v)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSOAPAction, v)
	}
	return v[:i], v[i+1:], nil
}

// FormatSOAPAction returns the quoted SOAPACTION value.
func FormatSOAPAction(serviceType, action string) string {
	return `"` + serviceType + "#" + action + `"`
}

func envelope(body func(b *bytes.Buffer) error) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0"?>` + "\n")
	b.WriteString(`<s:Envelope xmlns:s="` + EnvelopeNamespace + `" s:encodingStyle="` + EncodingStyle + `">` + "\n")
	b.WriteString("<s:Body>\n")
	if err := body(&b); err != nil {
		return nil, err
	}
	b.WriteString("</s:Body>\n</s:Envelope>\n")
	return b.Bytes(), nil
}

func writeElement(b *bytes.Buffer, name, action, serviceType string, args []Argument) error {
	if !isXMLName(action) {
		return fmt.Errorf("%w: action name %q", ErrInvalidEnvelope, action)
	}
	b.WriteString("<u:" + name + ` xmlns:u="`)
	if err := xml.EscapeText(b, []byte(serviceType)); err != nil {
		return err
	}
	b.WriteString(`">` + "\n")
	for _, a := range args {
		if !isXMLName(a.Name) {
			return fmt.Errorf("%w: argument name %q", ErrInvalidEnvelope, a.Name)
		}
		b.WriteString("<" + a.Name + ">")
		if err := xml.EscapeText(b, []byte(a.Value)); err != nil {
			return err
		}
		b.WriteString("</" + a.Name + ">\n")
	}
	b.WriteString("</u:" + name + ">\n")
	return nil
}

// BuildAction returns the request envelope for an action.
func BuildAction(serviceType, action string, args []Argument) ([]byte, error) {
	return envelope(func(b *bytes.Buffer) error {
		return writeElement(b, action, action, serviceType, args)
	})
}

// BuildResponse returns the response envelope for an action.
func BuildResponse(serviceType, action string, args []Argument) ([]byte, error) {
	return envelope(func(b *bytes.Buffer) error {
		return writeElement(b, action+"Response", action, serviceType, args)
	})
}

// BuildFault returns a fault envelope for e.
func BuildFault(e *Error) []byte {
	out, _ := envelope(func(b *bytes.Buffer) error {
		b.WriteString("<s:Fault>\n<faultcode>s:Client</faultcode>\n<faultstring>UPnPError</faultstring>\n<detail>\n")
		b.WriteString(`<UPnPError xmlns="` + ControlNamespace + `">` + "\n")
		b.WriteString("<errorCode>" + strconv.Itoa(e.Code) + "</errorCode>\n<errorDescription>")
		_ = xml.EscapeText(b, []byte(e.Description))
		b.WriteString("</errorDescription>\n</UPnPError>\n</detail>\n</s:Fault>\n")
		return nil
	})
	return out
}

type envelopeXML struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Elements []elementXML `xml:",any"`
	} `xml:"Body"`
}

type elementXML struct {
	XMLName xml.Name
	Args    []argumentXML `xml:",any"`
}

type argumentXML struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
	Inner   string `xml:",innerxml"`
}

type upnpErrorXML struct {
	XMLName     xml.Name `xml:"UPnPError"`
	Code        int      `xml:"errorCode"`
	Description string   `xml:"errorDescription"`
}

// Body is the first element of an envelope body.
type Body struct {
	// Namespace and Name of the element, e.g. the service type and the
	// action name of a request.
	Namespace string
	Name      string
	Args      []Argument
}

// ParseEnvelope returns the first body element of a SOAP envelope. A
// fault is returned as an *Error.
func ParseEnvelope(data []byte) (*Body, error) {
	var env envelopeXML
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.XMLName.Space != EnvelopeNamespace {
		return nil, fmt.Errorf("%w: namespace %q", ErrInvalidEnvelope, env.XMLName.Space)
	}
	if len(env.Body.Elements) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidEnvelope)
	}
	el := env.Body.Elements[0]
	if el.XMLName.Local == "Fault" {
		return nil, parseFault(el)
	}
	body := &Body{Namespace: el.XMLName.Space, Name: el.XMLName.Local}
	for _, a := range el.Args {
		body.Args = append(body.Args, Argument{Name: a.XMLName.Local, Value: a.Value})
	}
	return body, nil
}

func parseFault(el elementXML) error {
	for _, a := range el.Args {
		if a.XMLName.Local != "detail" {
			continue
		}
		var ue upnpErrorXML
		if err := xml.Unmarshal([]byte(a.Inner), &ue); err != nil {
			return fmt.Errorf("%w: fault detail: %v", ErrInvalidEnvelope, err)
		}
		return &Error{Code: ue.Code, Description: ue.Description}
	}
	return fmt.Errorf("%w: fault without detail", ErrInvalidEnvelope)
}

func isXMLName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c > 0x7f:
		case i > 0 && (c == '-' || c == '.' || c >= '0' && c <= '9'):
		default:
			return false
		}
	}
	return true
}
