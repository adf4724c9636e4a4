package gena

import "net/http"

// Handler routes GENA requests. Either side may be nil.
type Handler struct {
	Publisher  *Publisher
	Subscriber *Subscriber
}

var _ http.Handler = (*Handler)(nil)

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "SUBSCRIBE", "UNSUBSCRIBE":
		if h.Publisher != nil {
			h.Publisher.ServeHTTP(w, r)
			return
		}
	case "NOTIFY":
		if h.Subscriber != nil {
			h.Subscriber.HandleNotify(w, r)
			return
		}
	}
	w.WriteHeader(http.StatusNotImplemented)
}
