// Package soap implements UPnP control: action requests, responses and
// faults carried in SOAP 1.1 envelopes over HTTP.
//
// Devices serve actions with a Dispatcher, which maps control URLs of the
// registered description documents to services and passes each parsed
// request to an ActionHandler. Handlers report UPnP errors by returning an
// *Error; any other error is answered with 501 Action Failed.
//
// Control points invoke actions with Client.Call. A device answering POST
// with 405 is asked again with M-POST.
package soap
