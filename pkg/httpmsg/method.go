package httpmsg

import "github.com/upnpsdk/upnpsdk-go/pkg/strintmap"

// Method identifies an HTTP request method.
type Method uint8

const (
	MethodUnknown Method = iota
	MethodGet
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodMPost
	MethodMSearch
	MethodNotify
	MethodSubscribe
	MethodUnsubscribe
	// MethodSimpleGet is an HTTP/0.9 request line without a version.
	MethodSimpleGet
)

var methodTable = strintmap.NewTable(
	strintmap.Entry{Name: "DELETE", ID: int(MethodDelete)},
	strintmap.Entry{Name: "GET", ID: int(MethodGet)},
	strintmap.Entry{Name: "HEAD", ID: int(MethodHead)},
	strintmap.Entry{Name: "M-POST", ID: int(MethodMPost)},
	strintmap.Entry{Name: "M-SEARCH", ID: int(MethodMSearch)},
	strintmap.Entry{Name: "NOTIFY", ID: int(MethodNotify)},
	strintmap.Entry{Name: "POST", ID: int(MethodPost)},
	strintmap.Entry{Name: "PUT", ID: int(MethodPut)},
	strintmap.Entry{Name: "SUBSCRIBE", ID: int(MethodSubscribe)},
	strintmap.Entry{Name: "UNSUBSCRIBE", ID: int(MethodUnsubscribe)},
)

// MethodFromString looks up a method name. Method names are case sensitive.
func MethodFromString(s string) Method {
	id := methodTable.ID(s, true)
	if id == strintmap.NotFound {
		return MethodUnknown
	}
	return Method(id)
}

// String returns the method as it appears on the request line.
func (m Method) String() string {
	if m == MethodSimpleGet {
		return "GET"
	}
	if name, ok := methodTable.Name(int(m)); ok {
		return name
	}
	return "UNKNOWN"
}
