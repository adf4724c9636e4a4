package soap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	"github.com/upnpsdk/upnpsdk-go/pkg/log"
)

const maxRequestBody = 1 << 20

// ActionRequest is a parsed action invocation.
type ActionRequest struct {
	UDN         string
	ServiceID   string
	ServiceType string
	ActionName  string
	Args        []Argument

	RemoteAddr string
	UserAgent  string
	Header     http.Header
}

// ActionHandler performs an action and returns its output arguments.
type ActionHandler func(ctx context.Context, req *ActionRequest) ([]Argument, error)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Server is sent as SERVER on every response.
	Server string

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Dispatcher serves the control URLs of registered description documents.
type Dispatcher struct {
	mu     sync.RWMutex
	roots  []*description.Root
	handle ActionHandler
	config DispatcherConfig
	logger *slog.Logger
	plog   log.Logger
}

var _ http.Handler = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher calling handle for every action.
func NewDispatcher(config DispatcherConfig, handle ActionHandler) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Dispatcher{
		handle: handle,
		config: config,
		logger: config.Logger,
		plog:   log.OrNoop(config.ProtocolLogger),
	}
}

// AddRoot serves the control URLs of root.
func (d *Dispatcher) AddRoot(root *description.Root) {
	d.mu.Lock()
	d.roots = append(d.roots, root)
	d.mu.Unlock()
}

// RemoveRoot stops serving root.
func (d *Dispatcher) RemoveRoot(root *description.Root) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.roots {
		if r == root {
			d.roots = append(d.roots[:i], d.roots[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) lookup(path string) (*description.Device, *description.Service, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, root := range d.roots {
		if dev, svc, err := root.FindServiceByURL(path, false); err == nil {
			return dev, svc, true
		}
	}
	return nil, nil, false
}

// ServeHTTP handles POST and M-POST action requests.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	connID := uuid.New().String()
	if d.config.Server != "" {
		w.Header().Set("Server", d.config.Server)
	}

	req, err := ParseActionRequest(r)
	if err != nil {
		d.logger.Debug("soap request refused", "path", r.URL.Path, "error", err)
		d.fault(w, NewError(CodeInvalidAction))
		return
	}
	d.capture(connID, log.DirectionIn, r.RemoteAddr, &log.MessageEvent{
		Type:    log.MessageTypeRequest,
		Method:  r.Method,
		Target:  r.URL.Path,
		Headers: map[string]string{"SOAPACTION": FormatSOAPAction(req.ServiceType, req.ActionName)},
	})

	dev, svc, ok := d.lookup(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !compatible(req.ServiceType, svc.ServiceType) {
		d.fault(w, NewError(CodeInvalidAction))
		return
	}
	req.UDN, req.ServiceID = dev.UDN, svc.ServiceID

	var out []Argument
	if d.handle == nil {
		err = NewError(CodeInvalidAction)
	} else {
		out, err = d.handle(r.Context(), req)
	}
	status := http.StatusOK
	if err != nil {
		var ue *Error
		if !errors.As(err, &ue) {
			d.logger.Debug("soap action failed", "action", req.ActionName, "error", err)
			ue = NewError(CodeActionFailed)
		}
		d.fault(w, ue)
		status = http.StatusInternalServerError
	} else if err := d.respond(w, req, out); err != nil {
		d.logger.Warn("soap response not built", "action", req.ActionName, "error", err)
		d.fault(w, NewError(CodeActionFailed))
		status = http.StatusInternalServerError
	}

	elapsed := time.Since(start)
	d.capture(connID, log.DirectionOut, r.RemoteAddr, &log.MessageEvent{
		Type:           log.MessageTypeResponse,
		Method:         r.Method,
		Target:         r.URL.Path,
		Status:         status,
		ProcessingTime: &elapsed,
	})
}

func (d *Dispatcher) respond(w http.ResponseWriter, req *ActionRequest, out []Argument) error {
	body, err := BuildResponse(req.ServiceType, req.ActionName, out)
	if err != nil {
		return err
	}
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Ext", "")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	return nil
}

func (d *Dispatcher) fault(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(BuildFault(e))
}

func (d *Dispatcher) capture(connID string, dir log.Direction, remote string, msg *log.MessageEvent) {
	d.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerHTTP,
		Category:     log.CategorySOAP,
		LocalRole:    log.RoleDevice,
		RemoteAddr:   remote,
		Message:      msg,
	})
}

// compatible reports whether a request for requested may be served by a
// service of type advertised. Lower versions are accepted.
func compatible(requested, advertised string) bool {
	if requested == advertised {
		return true
	}
	rb, rv := description.ServiceVersion(requested)
	ab, av := description.ServiceVersion(advertised)
	return rb == ab && rv > 0 && rv <= av
}

// ParseActionRequest parses a POST or M-POST action request.
func ParseActionRequest(r *http.Request) (*ActionRequest, error) {
	header, err := soapActionHeader(r)
	if err != nil {
		return nil, err
	}
	serviceType, action, err := ParseSOAPAction(header)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	body, err := ParseEnvelope(data)
	if err != nil {
		return nil, err
	}
	if body.Name != action || body.Namespace != serviceType {
		return nil, fmt.Errorf("%w: body %s#%s does not match SOAPACTION", ErrInvalidEnvelope, body.Namespace, body.Name)
	}
	return &ActionRequest{
		ServiceType: serviceType,
		ActionName:  action,
		Args:        body.Args,
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.Header.Get("User-Agent"),
		Header:      r.Header,
	}, nil
}

// soapActionHeader returns SOAPACTION, or NN-SOAPACTION for M-POST
// requests whose MAN header declares namespace NN.
func soapActionHeader(r *http.Request) (string, error) {
	if r.Method != "M-POST" {
		v := r.Header.Get("SOAPACTION")
		if v == "" {
			return "", fmt.Errorf("%w: missing", ErrInvalidSOAPAction)
		}
		return v, nil
	}
	man := r.Header.Get("MAN")
	if !strings.Contains(man, EnvelopeNamespace) {
		return "", fmt.Errorf("%w: MAN %q", ErrInvalidSOAPAction, man)
	}
	i := strings.Index(man, "ns=")
	if i < 0 {
		return "", fmt.Errorf("%w: MAN without ns", ErrInvalidSOAPAction)
	}
	ns := strings.TrimSpace(man[i+3:])
	v := r.Header.Get(ns + "-SOAPACTION")
	if v == "" {
		return "", fmt.Errorf("%w: missing %s-SOAPACTION", ErrInvalidSOAPAction, ns)
	}
	return v, nil
}
