package main

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	"github.com/upnpsdk/upnpsdk-go/pkg/gena"
	"github.com/upnpsdk/upnpsdk-go/pkg/soap"
	"github.com/upnpsdk/upnpsdk-go/pkg/upnp"
)

//go:embed web
var webFS embed.FS

// Service identifiers of the emulated television.
const (
	ControlServiceID = "urn:upnp-org:serviceId:tvcontrol1"
	PictureServiceID = "urn:upnp-org:serviceId:tvpicture1"
)

// Publisher sends GENA events for a registered device.
type Publisher interface {
	AcceptSubscription(udn, serviceID, sid string, props []gena.Property) error
	Notify(udn, serviceID string, props []gena.Property) error
}

type tvVar struct {
	name     string
	value    int
	min, max int
}

type tvService struct {
	id   string
	scpd *description.SCPD
	vars []*tvVar
}

func (s *tvService) lookup(name string) *tvVar {
	for _, v := range s.vars {
		if v.name == name {
			return v
		}
	}
	return nil
}

func (s *tvService) properties() []gena.Property {
	props := make([]gena.Property, 0, len(s.vars))
	for _, v := range s.vars {
		props = append(props, gena.Property{Name: v.name, Value: strconv.Itoa(v.value)})
	}
	return props
}

// TV emulates a television with a control and a picture service. Its
// state table is read from the service descriptions.
type TV struct {
	mu        sync.Mutex
	udn       string
	services  map[string]*tvService
	publisher Publisher
	logger    *slog.Logger
}

// NewTV builds a television from the description document root and the
// SCPD documents in fsys. SCPD URLs of root are paths within fsys.
func NewTV(root *description.Root, fsys fs.FS, logger *slog.Logger) (*TV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tv := &TV{
		udn:      root.Device.UDN,
		services: make(map[string]*tvService),
		logger:   logger,
	}
	for _, svc := range root.Device.Services {
		doc, err := fs.ReadFile(fsys, strings.TrimPrefix(path.Clean("/"+svc.SCPDURL), "/"))
		if err != nil {
			return nil, fmt.Errorf("read SCPD of %s: %w", svc.ServiceID, err)
		}
		scpd, err := description.ParseSCPDBytes(doc)
		if err != nil {
			return nil, fmt.Errorf("parse SCPD of %s: %w", svc.ServiceID, err)
		}
		s := &tvService{id: svc.ServiceID, scpd: scpd}
		for _, sv := range scpd.Variables {
			v, err := newVar(sv)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", svc.ServiceID, err)
			}
			s.vars = append(s.vars, v)
		}
		tv.services[svc.ServiceID] = s
	}
	return tv, nil
}

func newVar(sv description.StateVariable) (*tvVar, error) {
	v := &tvVar{name: sv.Name, min: 0, max: 1<<31 - 1}
	var err error
	if sv.AllowedRange != nil {
		if v.min, err = strconv.Atoi(sv.AllowedRange.Minimum); err != nil {
			return nil, fmt.Errorf("variable %s minimum: %w", sv.Name, err)
		}
		if v.max, err = strconv.Atoi(sv.AllowedRange.Maximum); err != nil {
			return nil, fmt.Errorf("variable %s maximum: %w", sv.Name, err)
		}
	}
	v.value = v.min
	if sv.DefaultValue != "" {
		if v.value, err = strconv.Atoi(sv.DefaultValue); err != nil {
			return nil, fmt.Errorf("variable %s default: %w", sv.Name, err)
		}
	}
	return v, nil
}

// SetPublisher attaches the registered device. Events are only sent once
// a publisher is set.
func (tv *TV) SetPublisher(p Publisher) {
	tv.mu.Lock()
	tv.publisher = p
	tv.mu.Unlock()
}

// Value returns the current value of a state variable.
func (tv *TV) Value(serviceID, name string) (int, bool) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	s, ok := tv.services[serviceID]
	if !ok {
		return 0, false
	}
	v := s.lookup(name)
	if v == nil {
		return 0, false
	}
	return v.value, true
}

// HandleEvent is the device callback passed to RegisterRootDevice.
func (tv *TV) HandleEvent(event upnp.EventType, data any) {
	switch event {
	case upnp.EventControlActionRequest:
		req := data.(*upnp.ActionRequest)
		req.Result, req.Err = tv.Invoke(req.UDN, req.ServiceID, req.ActionName, req.Args)
		tv.logger.Info("action",
			"service", req.ServiceID,
			"action", req.ActionName,
			"remote", req.RemoteAddr,
			"error", req.Err)

	case upnp.EventSubscriptionRequest:
		req := data.(*gena.SubscriptionRequest)
		if err := tv.Accept(req.UDN, req.ServiceID, req.SID); err != nil {
			tv.logger.Warn("accept subscription failed", "sid", req.SID, "error", err)
			return
		}
		tv.logger.Info("subscription accepted", "service", req.ServiceID, "sid", req.SID)
	}
}

// Accept sends the full state of a service as the initial event of
// subscription sid.
func (tv *TV) Accept(udn, serviceID, sid string) error {
	tv.mu.Lock()
	s, ok := tv.services[serviceID]
	if !ok || udn != tv.udn {
		tv.mu.Unlock()
		return fmt.Errorf("%w: %s", upnp.ErrInvalidService, serviceID)
	}
	props := s.properties()
	p := tv.publisher
	tv.mu.Unlock()
	if p == nil {
		return upnp.ErrInvalidHandle
	}
	return p.AcceptSubscription(udn, serviceID, sid, props)
}

// Invoke performs an action and notifies subscribers of the changed
// variable.
func (tv *TV) Invoke(udn, serviceID, action string, args []soap.Argument) ([]soap.Argument, error) {
	tv.mu.Lock()
	s, ok := tv.services[serviceID]
	if !ok || udn != tv.udn || s.scpd.Action(action) == nil {
		tv.mu.Unlock()
		return nil, soap.NewError(soap.CodeInvalidAction)
	}
	v, err := tv.apply(s, action, args)
	if err != nil {
		tv.mu.Unlock()
		return nil, err
	}
	value := strconv.Itoa(v.value)
	p := tv.publisher
	tv.mu.Unlock()

	if p != nil {
		props := []gena.Property{{Name: v.name, Value: value}}
		if err := p.Notify(udn, serviceID, props); err != nil {
			tv.logger.Warn("notify failed", "service", serviceID, "variable", v.name, "error", err)
		}
	}
	return []soap.Argument{{Name: "New" + v.name, Value: value}}, nil
}

func (tv *TV) apply(s *tvService, action string, args []soap.Argument) (*tvVar, error) {
	switch action {
	case "PowerOn", "PowerOff":
		v := s.lookup("Power")
		if v == nil {
			return nil, soap.NewError(soap.CodeInvalidAction)
		}
		v.value = 0
		if action == "PowerOn" {
			v.value = 1
		}
		return v, nil
	}

	var name string
	var op string
	for _, prefix := range []string{"Set", "Increase", "Decrease"} {
		if rest, ok := strings.CutPrefix(action, prefix); ok {
			op, name = prefix, rest
			break
		}
	}
	v := s.lookup(name)
	if v == nil {
		return nil, soap.NewError(soap.CodeInvalidAction)
	}

	next := v.value
	switch op {
	case "Set":
		arg, ok := argument(args, name)
		if !ok {
			return nil, soap.NewError(soap.CodeInvalidArgs)
		}
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return nil, soap.NewError(soap.CodeInvalidArgs)
		}
		next = n
	case "Increase":
		next++
	case "Decrease":
		next--
	}
	if next < v.min || next > v.max {
		return nil, &soap.Error{
			Code:        soap.CodeArgumentValueOutOfRange,
			Description: fmt.Sprintf("%s must be within %d..%d", v.name, v.min, v.max),
		}
	}
	v.value = next
	return v, nil
}

func argument(args []soap.Argument, name string) (string, bool) {
	for _, a := range args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}
