// Package httpmsg reads and writes the HTTP messages UPnP is built on.
//
// SSDP runs HTTP over UDP (HTTPU/HTTPMU): a datagram carries one complete
// request or response. ParseDatagram parses such a datagram into a Message
// and Message.Bytes serialises one, keeping header order and spelling.
//
// The method and header name tables map the names UPnP uses to small
// integer identifiers.
//
// Client issues HTTP requests with the UPnP methods net/http does not know
// (SUBSCRIBE, UNSUBSCRIBE, NOTIFY, M-POST) and downloads description
// documents with a size limit.
package httpmsg
