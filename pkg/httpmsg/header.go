package httpmsg

import (
	"strings"

	"github.com/upnpsdk/upnpsdk-go/pkg/strintmap"
)

// HeaderID identifies a header name known to the SDK.
type HeaderID int

// Known headers.
const (
	HdrUnknown HeaderID = iota - 1
	HdrAcceptLanguage
	HdrCacheControl
	HdrCallback
	HdrConnection
	HdrContentLanguage
	HdrContentLength
	HdrContentType
	HdrDate
	HdrExt
	HdrHost
	HdrLocation
	HdrMan
	HdrMX
	HdrNT
	HdrNTS
	HdrRange
	HdrSEQ
	HdrServer
	HdrSID
	HdrSOAPAction
	HdrST
	HdrTE
	HdrTimeout
	HdrTransferEncoding
	HdrUserAgent
	HdrUSN
	HdrBootID
	HdrConfigID
	HdrNextBootID
	HdrSearchPort
	HdrOpt
	HdrNLS
)

var headerTable = strintmap.NewTable(
	strintmap.Entry{Name: "ACCEPT-LANGUAGE", ID: int(HdrAcceptLanguage)},
	strintmap.Entry{Name: "CACHE-CONTROL", ID: int(HdrCacheControl)},
	strintmap.Entry{Name: "CALLBACK", ID: int(HdrCallback)},
	strintmap.Entry{Name: "CONNECTION", ID: int(HdrConnection)},
	strintmap.Entry{Name: "CONTENT-LANGUAGE", ID: int(HdrContentLanguage)},
	strintmap.Entry{Name: "CONTENT-LENGTH", ID: int(HdrContentLength)},
	strintmap.Entry{Name: "CONTENT-TYPE", ID: int(HdrContentType)},
	strintmap.Entry{Name: "DATE", ID: int(HdrDate)},
	strintmap.Entry{Name: "EXT", ID: int(HdrExt)},
	strintmap.Entry{Name: "HOST", ID: int(HdrHost)},
	strintmap.Entry{Name: "LOCATION", ID: int(HdrLocation)},
	strintmap.Entry{Name: "MAN", ID: int(HdrMan)},
	strintmap.Entry{Name: "MX", ID: int(HdrMX)},
	strintmap.Entry{Name: "NT", ID: int(HdrNT)},
	strintmap.Entry{Name: "NTS", ID: int(HdrNTS)},
	strintmap.Entry{Name: "RANGE", ID: int(HdrRange)},
	strintmap.Entry{Name: "SEQ", ID: int(HdrSEQ)},
	strintmap.Entry{Name: "SERVER", ID: int(HdrServer)},
	strintmap.Entry{Name: "SID", ID: int(HdrSID)},
	strintmap.Entry{Name: "SOAPACTION", ID: int(HdrSOAPAction)},
	strintmap.Entry{Name: "ST", ID: int(HdrST)},
	strintmap.Entry{Name: "TE", ID: int(HdrTE)},
	strintmap.Entry{Name: "TIMEOUT", ID: int(HdrTimeout)},
	strintmap.Entry{Name: "TRANSFER-ENCODING", ID: int(HdrTransferEncoding)},
	strintmap.Entry{Name: "USER-AGENT", ID: int(HdrUserAgent)},
	strintmap.Entry{Name: "USN", ID: int(HdrUSN)},
	strintmap.Entry{Name: "BOOTID.UPNP.ORG", ID: int(HdrBootID)},
	strintmap.Entry{Name: "CONFIGID.UPNP.ORG", ID: int(HdrConfigID)},
	strintmap.Entry{Name: "NEXTBOOTID.UPNP.ORG", ID: int(HdrNextBootID)},
	strintmap.Entry{Name: "SEARCHPORT.UPNP.ORG", ID: int(HdrSearchPort)},
	strintmap.Entry{Name: "OPT", ID: int(HdrOpt)},
	strintmap.Entry{Name: "01-NLS", ID: int(HdrNLS)},
)

// HeaderIDOf returns the id of a header name, ignoring case.
func HeaderIDOf(name string) HeaderID {
	id := headerTable.ID(strings.TrimSpace(name), false)
	if id == strintmap.NotFound {
		return HdrUnknown
	}
	return HeaderID(id)
}

// String returns the canonical upper-case header name.
func (h HeaderID) String() string {
	if name, ok := headerTable.Name(int(h)); ok {
		return name
	}
	return "UNKNOWN"
}

// Field is one header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered header list with case-insensitive lookup.
// Names keep the spelling they were added with.
type Header []Field

// Get returns the first value for name, or "".
func (h Header) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the first value for name and whether it is present.
func (h Header) Lookup(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present.
func (h Header) Has(name string) bool {
	_, ok := h.Lookup(name)
	return ok
}

// Add appends a header line.
func (h *Header) Add(name, value string) {
	*h = append(*h, Field{Name: name, Value: value})
}

// Set replaces every line for name with one line, keeping the position of
// the first.
func (h *Header) Set(name, value string) {
	for i, f := range *h {
		if strings.EqualFold(f.Name, name) {
			(*h)[i].Value = value
			h.delFrom(name, i+1)
			return
		}
	}
	h.Add(name, value)
}

// Del removes every line for name.
func (h *Header) Del(name string) {
	h.delFrom(name, 0)
}

func (h *Header) delFrom(name string, start int) {
	out := (*h)[:start]
	for _, f := range (*h)[start:] {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	*h = out
}

// Map returns the headers keyed by upper-case name, first value wins.
func (h Header) Map() map[string]string {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]string, len(h))
	for _, f := range h {
		k := strings.ToUpper(f.Name)
		if _, ok := m[k]; !ok {
			m[k] = f.Value
		}
	}
	return m
}
