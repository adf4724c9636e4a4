package upnp

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	"github.com/upnpsdk/upnpsdk-go/pkg/gena"
	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/miniserver"
	"github.com/upnpsdk/upnpsdk-go/pkg/netadapter"
	"github.com/upnpsdk/upnpsdk-go/pkg/soap"
	"github.com/upnpsdk/upnpsdk-go/pkg/ssdp"
	"github.com/upnpsdk/upnpsdk-go/pkg/threadpool"
	"github.com/upnpsdk/upnpsdk-go/pkg/uri"
)

// SDK errors.
var (
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrInvalidParam      = errors.New("invalid parameter")
	ErrOutOfHandle       = errors.New("out of handles")
	ErrInit              = errors.New("sdk already started")
	ErrFinish            = errors.New("sdk not started")
	ErrInitFailed        = errors.New("sdk start failed")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrInvalidInterface  = errors.New("invalid network interface")
	ErrInvalidDevice     = errors.New("invalid device")
	ErrInvalidService    = errors.New("invalid service")
	ErrInvalidSID        = errors.New("invalid subscription id")
)

// Error codes returned by Code.
const (
	Success                   = 0
	CodeInvalidHandle         = -100
	CodeInvalidParam          = -101
	CodeOutOfHandle           = -102
	CodeOutOfMemory           = -104
	CodeInit                  = -105
	CodeInvalidDesc           = -107
	CodeInvalidURL            = -108
	CodeInvalidSID            = -109
	CodeInvalidDevice         = -110
	CodeInvalidService        = -111
	CodeBadResponse           = -113
	CodeBadRequest            = -114
	CodeInvalidAction         = -115
	CodeFinish                = -116
	CodeInitFailed            = -117
	CodeBadHTTPMsg            = -119
	CodeAlreadyRegistered     = -120
	CodeInvalidInterface      = -121
	CodeNetworkError          = -200
	CodeSocketWrite           = -201
	CodeSocketRead            = -202
	CodeSocketBind            = -203
	CodeSocketConnect         = -204
	CodeOutOfSocket           = -205
	CodeListen                = -206
	CodeTimedOut              = -207
	CodeSocketError           = -208
	CodeCanceled              = -210
	CodeSubscribeUnaccepted   = -301
	CodeUnsubscribeUnaccepted = -302
	CodeNotifyUnaccepted      = -303
	CodeInvalidArgument       = -501
	CodeNotExist              = -502
	CodeExtNotXML             = -511
	CodeInternalError         = -911
)

var messages = map[int]string{
	Success:                   "UPNP_E_SUCCESS",
	CodeInvalidHandle:         "UPNP_E_INVALID_HANDLE",
	CodeInvalidParam:          "UPNP_E_INVALID_PARAM",
	CodeOutOfHandle:           "UPNP_E_OUTOF_HANDLE",
	CodeOutOfMemory:           "UPNP_E_OUTOF_MEMORY",
	CodeInit:                  "UPNP_E_INIT",
	CodeInvalidDesc:           "UPNP_E_INVALID_DESC",
	CodeInvalidURL:            "UPNP_E_INVALID_URL",
	CodeInvalidSID:            "UPNP_E_INVALID_SID",
	CodeInvalidDevice:         "UPNP_E_INVALID_DEVICE",
	CodeInvalidService:        "UPNP_E_INVALID_SERVICE",
	CodeBadResponse:           "UPNP_E_BAD_RESPONSE",
	CodeBadRequest:            "UPNP_E_BAD_REQUEST",
	CodeInvalidAction:         "UPNP_E_INVALID_ACTION",
	CodeFinish:                "UPNP_E_FINISH",
	CodeInitFailed:            "UPNP_E_INIT_FAILED",
	CodeBadHTTPMsg:            "UPNP_E_BAD_HTTPMSG",
	CodeAlreadyRegistered:     "UPNP_E_ALREADY_REGISTERED",
	CodeInvalidInterface:      "UPNP_E_INVALID_INTERFACE",
	CodeNetworkError:          "UPNP_E_NETWORK_ERROR",
	CodeSocketWrite:           "UPNP_E_SOCKET_WRITE",
	CodeSocketRead:            "UPNP_E_SOCKET_READ",
	CodeSocketBind:            "UPNP_E_SOCKET_BIND",
	CodeSocketConnect:         "UPNP_E_SOCKET_CONNECT",
	CodeOutOfSocket:           "UPNP_E_OUTOF_SOCKET",
	CodeListen:                "UPNP_E_LISTEN",
	CodeTimedOut:              "UPNP_E_TIMEDOUT",
	CodeSocketError:           "UPNP_E_SOCKET_ERROR",
	CodeCanceled:              "UPNP_E_CANCELED",
	CodeSubscribeUnaccepted:   "UPNP_E_SUBSCRIBE_UNACCEPTED",
	CodeUnsubscribeUnaccepted: "UPNP_E_UNSUBSCRIBE_UNACCEPTED",
	CodeNotifyUnaccepted:      "UPNP_E_NOTIFY_UNACCEPTED",
	CodeInvalidArgument:       "UPNP_E_INVALID_ARGUMENT",
	CodeNotExist:              "UPNP_E_FILE_NOT_FOUND",
	CodeExtNotXML:             "UPNP_E_EXT_NOT_XML",
	CodeInternalError:         "UPNP_E_INTERNAL_ERROR",
}

// ErrorMessage returns the name of code. Positive codes are UPnP action
// error codes; they get the SOAP error description.
func ErrorMessage(code int) string {
	if code > 0 {
		return soap.CodeText(code)
	}
	if m, ok := messages[code]; ok {
		return m
	}
	return "Unknown error code"
}

// Code maps err to an SDK error code. A SOAP fault returns its positive
// UPnP error code. nil maps to Success.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var soapErr *soap.Error
	if errors.As(err, &soapErr) {
		return soapErr.Code
	}
	var opErr *net.OpError
	switch {
	case errors.Is(err, ErrInvalidHandle):
		return CodeInvalidHandle
	case errors.Is(err, ErrInvalidParam),
		errors.Is(err, ssdp.ErrInvalidTarget),
		errors.Is(err, gena.ErrInvalidTimeout),
		errors.Is(err, gena.ErrInvalidCallback):
		return CodeInvalidParam
	case errors.Is(err, ErrOutOfHandle):
		return CodeOutOfHandle
	case errors.Is(err, ErrInit):
		return CodeInit
	case errors.Is(err, ErrFinish), errors.Is(err, threadpool.ErrShutdown),
		errors.Is(err, ssdp.ErrClosed), errors.Is(err, gena.ErrClosed):
		return CodeFinish
	case errors.Is(err, ErrInitFailed), errors.Is(err, ssdp.ErrNoSocket),
		errors.Is(err, miniserver.ErrNoListener):
		return CodeInitFailed
	case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ssdp.ErrAlreadyRegistered),
		errors.Is(err, gena.ErrAlreadyAccepted):
		return CodeAlreadyRegistered
	case errors.Is(err, ErrInvalidInterface), errors.Is(err, netadapter.ErrNotFound):
		return CodeInvalidInterface
	case errors.Is(err, description.ErrInvalid):
		return CodeInvalidDesc
	case errors.Is(err, uri.ErrInvalidURL):
		return CodeInvalidURL
	case errors.Is(err, ErrInvalidSID), errors.Is(err, gena.ErrSubscriptionNotFound):
		return CodeInvalidSID
	case errors.Is(err, ErrInvalidDevice), errors.Is(err, description.ErrDeviceNotFound),
		errors.Is(err, ssdp.ErrNotRegistered):
		return CodeInvalidDevice
	case errors.Is(err, ErrInvalidService), errors.Is(err, description.ErrServiceNotFound):
		return CodeInvalidService
	case errors.Is(err, gena.ErrSubscribeFailed):
		return CodeSubscribeUnaccepted
	case errors.Is(err, httpmsg.ErrBadResponse), errors.Is(err, httpmsg.ErrTooLarge),
		errors.Is(err, soap.ErrInvalidEnvelope):
		return CodeBadResponse
	case errors.Is(err, httpmsg.ErrMalformed):
		return CodeBadHTTPMsg
	case errors.Is(err, threadpool.ErrQueueFull):
		return CodeOutOfMemory
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return CodeTimedOut
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, os.ErrNotExist):
		return CodeNotExist
	case errors.Is(err, syscall.EADDRINUSE):
		return CodeSocketBind
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeSocketConnect
	case errors.As(err, &opErr):
		switch opErr.Op {
		case "dial":
			return CodeSocketConnect
		case "read":
			return CodeSocketRead
		case "write":
			return CodeSocketWrite
		case "listen":
			return CodeListen
		}
		return CodeNetworkError
	}
	return CodeInternalError
}
