package description

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// ServiceNamespace of service control protocol descriptions.
const ServiceNamespace = "urn:schemas-upnp-org:service-1-0"

// Argument direction values.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Argument is one action argument.
type Argument struct {
	Name                 string `xml:"name"`
	Direction            string `xml:"direction"`
	RelatedStateVariable string `xml:"relatedStateVariable"`
}

// Action is one action of a service.
type Action struct {
	Name      string     `xml:"name"`
	Arguments []Argument `xml:"argumentList>argument,omitempty"`
}

// AllowedRange bounds a numeric state variable.
type AllowedRange struct {
	Minimum string `xml:"minimum"`
	Maximum string `xml:"maximum"`
	Step    string `xml:"step,omitempty"`
}

// StateVariable is one entry of the service state table.
type StateVariable struct {
	SendEvents    string        `xml:"sendEvents,attr"`
	Name          string        `xml:"name"`
	DataType      string        `xml:"dataType"`
	DefaultValue  string        `xml:"defaultValue,omitempty"`
	AllowedValues []string      `xml:"allowedValueList>allowedValue,omitempty"`
	AllowedRange  *AllowedRange `xml:"allowedValueRange,omitempty"`
}

// Evented reports whether changes of the variable are sent to subscribers.
func (v *StateVariable) Evented() bool { return v.SendEvents != "no" }

// SCPD is a service control protocol description.
type SCPD struct {
	XMLName     xml.Name        `xml:"urn:schemas-upnp-org:service-1-0 scpd"`
	SpecVersion SpecVersion     `xml:"specVersion"`
	Actions     []Action        `xml:"actionList>action,omitempty"`
	Variables   []StateVariable `xml:"serviceStateTable>stateVariable"`
}

// ParseSCPD decodes a service description.
func ParseSCPD(r io.Reader) (*SCPD, error) {
	var s SCPD
	if err := xml.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, a := range s.Actions {
		for _, arg := range a.Arguments {
			if s.Variable(arg.RelatedStateVariable) == nil {
				return nil, fmt.Errorf("%w: action %s argument %s refers to unknown variable %q",
					ErrInvalid, a.Name, arg.Name, arg.RelatedStateVariable)
			}
		}
	}
	return &s, nil
}

// ParseSCPDBytes decodes a service description from b.
func ParseSCPDBytes(b []byte) (*SCPD, error) {
	return ParseSCPD(bytes.NewReader(b))
}

// Marshal encodes the description with an XML header.
func (s *SCPD) Marshal() ([]byte, error) {
	out, err := xml.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// Action returns the named action or nil.
func (s *SCPD) Action(name string) *Action {
	for i := range s.Actions {
		if s.Actions[i].Name == name {
			return &s.Actions[i]
		}
	}
	return nil
}

// Variable returns the named state variable or nil.
func (s *SCPD) Variable(name string) *StateVariable {
	for i := range s.Variables {
		if s.Variables[i].Name == name {
			return &s.Variables[i]
		}
	}
	return nil
}

// EventedVariables returns the names of all evented variables in table order.
func (s *SCPD) EventedVariables() []string {
	var out []string
	for i := range s.Variables {
		if s.Variables[i].Evented() {
			out = append(out, s.Variables[i].Name)
		}
	}
	return out
}
