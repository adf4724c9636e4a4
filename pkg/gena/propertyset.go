package gena

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
)

// EventNamespace is the namespace of property set documents.
const EventNamespace = "urn:schemas-upnp-org:event-1-0"

// ErrInvalidPropertySet is returned for bodies that are not property sets.
var ErrInvalidPropertySet = errors.New("invalid property set")

// Property is one changed state variable.
type Property struct {
	Name  string
	Value string
}

// BuildPropertySet returns the NOTIFY body for props.
func BuildPropertySet(props []Property) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0"?>` + "\n")
	b.WriteString(`<e:propertyset xmlns:e="` + EventNamespace + `">` + "\n")
	for _, p := range props {
		if !isXMLName(p.Name) {
			return nil, fmt.Errorf("%w: variable name %q", ErrInvalidPropertySet, p.Name)
		}
		b.WriteString("<e:property>\n<" + p.Name + ">")
		if err := xml.EscapeText(&b, []byte(p.Value)); err != nil {
			return nil, err
		}
		b.WriteString("</" + p.Name + ">\n</e:property>\n")
	}
	b.WriteString("</e:propertyset>\n")
	return b.Bytes(), nil
}

type propertySet struct {
	XMLName    xml.Name      `xml:"propertyset"`
	Properties []propertyXML `xml:"property"`
}

type propertyXML struct {
	Vars []variableXML `xml:",any"`
}

type variableXML struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// ParsePropertySet returns the variables of a NOTIFY body in document
// order.
func ParsePropertySet(body []byte) ([]Property, error) {
	var ps propertySet
	if err := xml.Unmarshal(body, &ps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPropertySet, err)
	}
	var out []Property
	for _, p := range ps.Properties {
		for _, v := range p.Vars {
			out = append(out, Property{Name: v.XMLName.Local, Value: v.Value})
		}
	}
	return out, nil
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
