package upnp

import (
	"context"
	"fmt"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/description"
	"github.com/upnpsdk/upnpsdk-go/pkg/gena"
	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/soap"
	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
	"github.com/upnpsdk/upnpsdk-go/pkg/ssdp"
	"github.com/upnpsdk/upnpsdk-go/pkg/uri"
)

// Client is the control point of an SDK.
type Client struct {
	sdk      *SDK
	callback Callback
	cp       *ssdp.ControlPoint
	sub      *gena.Subscriber
	soap     *soap.Client
}

// RegisterClient creates the control point. An SDK has at most one.
func (s *SDK) RegisterClient(cb Callback) (*Client, error) {
	if cb == nil {
		return nil, fmt.Errorf("%w: nil callback", ErrInvalidParam)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.runningLocked(); err != nil {
		return nil, err
	}
	if s.client != nil {
		return nil, fmt.Errorf("%w: client", ErrAlreadyRegistered)
	}

	c := &Client{sdk: s, callback: cb, soap: soap.NewClient(s.http)}
	c.cp = ssdp.NewControlPoint(ssdp.ControlPointConfig{
		UserAgent:      s.token,
		Logger:         s.logger,
		ProtocolLogger: s.config.ProtocolLogger,
		Metrics:        s.metrics,
	}, s.sock.Requester(), s.timer, s.pool, c.onDiscovery)

	callback := s.baseURLLocked(sockaddr.FamilyInet)
	if callback == "" {
		callback = s.baseURLLocked(sockaddr.FamilyInet6)
	}
	subConfig := gena.DefaultSubscriberConfig()
	subConfig.CallbackURL = callback + "/"
	subConfig.AutoRenewMargin = s.config.AutoRenewMargin
	subConfig.Logger = s.logger
	subConfig.ProtocolLogger = s.config.ProtocolLogger
	c.sub = gena.NewSubscriber(subConfig, s.http, s.timer, s.pool, c.onEvent)

	s.client = c
	s.logger.Info("client registered", "callback", callback)
	return c, nil
}

func (c *Client) onDiscovery(kind ssdp.EventKind, d *ssdp.Discovery, cookie any) {
	c.callback(discoveryEventType(kind), &DiscoveryEvent{Discovery: d, Cookie: cookie})
}

func (c *Client) onEvent(kind gena.EventKind, data any) {
	switch v := data.(type) {
	case *gena.Event:
		c.callback(EventReceived, v)
	case *gena.SubscriptionEvent:
		c.callback(genaEventType(kind), &SubscriptionEvent{SubscriptionEvent: *v})
	}
}

// Unregister cancels the searches, unsubscribes from every publisher and
// removes the client from the SDK.
func (c *Client) Unregister(ctx context.Context) error {
	s := c.sdk
	s.mu.Lock()
	if s.client != c {
		s.mu.Unlock()
		return ErrInvalidHandle
	}
	s.client = nil
	s.mu.Unlock()

	c.cp.Close()
	for _, sid := range c.sub.Subscriptions() {
		if err := c.sub.Unsubscribe(ctx, sid); err != nil {
			s.logger.Debug("unsubscribe on unregister failed", "sid", sid, "error", err)
		}
	}
	c.sub.Close()
	s.logger.Info("client unregistered")
	return nil
}

func (c *Client) check() (*httpmsg.Client, error) {
	c.sdk.mu.RLock()
	defer c.sdk.mu.RUnlock()
	if err := c.sdk.runningLocked(); err != nil {
		return nil, err
	}
	if c.sdk.client != c {
		return nil, ErrInvalidHandle
	}
	return c.sdk.http, nil
}

// SearchAsync multicasts an M-SEARCH for target. Results arrive as
// DISCOVERY_SEARCH_RESULT events carrying cookie, followed by one
// DISCOVERY_SEARCH_TIMEOUT after mx seconds.
func (c *Client) SearchAsync(ctx context.Context, mx int, target string, cookie any) error {
	if _, err := c.check(); err != nil {
		return err
	}
	return c.cp.Search(ctx, mx, target, cookie)
}

// Subscribe subscribes to the event URL of a service and returns the SID
// and the granted timeout. timeout < 0 asks for an infinite
// subscription.
func (c *Client) Subscribe(ctx context.Context, publisherURL string, timeout time.Duration) (string, time.Duration, error) {
	if _, err := c.check(); err != nil {
		return "", 0, err
	}
	if _, err := uri.Parse(publisherURL); err != nil {
		return "", 0, err
	}
	return c.sub.Subscribe(ctx, publisherURL, timeout)
}

// SubscribeAsync subscribes on a pool worker and reports the outcome as
// EVENT_SUBSCRIBE_COMPLETE.
func (c *Client) SubscribeAsync(publisherURL string, timeout time.Duration, cookie any) error {
	if _, err := c.check(); err != nil {
		return err
	}
	if _, err := uri.Parse(publisherURL); err != nil {
		return err
	}
	return c.sdk.submit(func(ctx context.Context) {
		sid, granted, err := c.sub.Subscribe(ctx, publisherURL, timeout)
		c.callback(EventSubscribeComplete, &SubscriptionEvent{
			SubscriptionEvent: gena.SubscriptionEvent{Err: err, Timeout: granted, SID: sid, PublisherURL: publisherURL},
			Cookie:            cookie,
		})
	})
}

// Renew renews subscription sid and returns the granted timeout.
func (c *Client) Renew(ctx context.Context, sid string, timeout time.Duration) (time.Duration, error) {
	if _, err := c.check(); err != nil {
		return 0, err
	}
	return c.sub.Renew(ctx, sid, timeout)
}

// RenewAsync renews on a pool worker and reports the outcome as
// EVENT_RENEWAL_COMPLETE.
func (c *Client) RenewAsync(sid string, timeout time.Duration, cookie any) error {
	if _, err := c.check(); err != nil {
		return err
	}
	return c.sdk.submit(func(ctx context.Context) {
		url, _ := c.sub.PublisherURL(sid)
		granted, err := c.sub.Renew(ctx, sid, timeout)
		c.callback(EventRenewalComplete, &SubscriptionEvent{
			SubscriptionEvent: gena.SubscriptionEvent{Err: err, Timeout: granted, SID: sid, PublisherURL: url},
			Cookie:            cookie,
		})
	})
}

// Unsubscribe cancels subscription sid.
func (c *Client) Unsubscribe(ctx context.Context, sid string) error {
	if _, err := c.check(); err != nil {
		return err
	}
	return c.sub.Unsubscribe(ctx, sid)
}

// UnsubscribeAsync unsubscribes on a pool worker and reports the outcome
// as EVENT_UNSUBSCRIBE_COMPLETE.
func (c *Client) UnsubscribeAsync(sid string, cookie any) error {
	if _, err := c.check(); err != nil {
		return err
	}
	return c.sdk.submit(func(ctx context.Context) {
		url, _ := c.sub.PublisherURL(sid)
		err := c.sub.Unsubscribe(ctx, sid)
		c.callback(EventUnsubscribeComplete, &SubscriptionEvent{
			SubscriptionEvent: gena.SubscriptionEvent{Err: err, SID: sid, PublisherURL: url},
			Cookie:            cookie,
		})
	})
}

// Subscriptions returns the SIDs of the active subscriptions.
func (c *Client) Subscriptions() []string {
	return c.sub.Subscriptions()
}

// SendAction invokes action on the service at controlURL. A UPnP error
// reported by the device is returned as *soap.Error.
func (c *Client) SendAction(ctx context.Context, controlURL, serviceType, action string, args []soap.Argument) ([]soap.Argument, error) {
	if _, err := c.check(); err != nil {
		return nil, err
	}
	if action == "" || serviceType == "" {
		return nil, fmt.Errorf("%w: missing action or service type", ErrInvalidParam)
	}
	if _, err := uri.Parse(controlURL); err != nil {
		return nil, err
	}
	return c.soap.Call(ctx, controlURL, serviceType, action, args)
}

// SendActionAsync invokes the action on a pool worker and reports the
// outcome as CONTROL_ACTION_COMPLETE.
func (c *Client) SendActionAsync(controlURL, serviceType, action string, args []soap.Argument, cookie any) error {
	if _, err := c.check(); err != nil {
		return err
	}
	if action == "" || serviceType == "" {
		return fmt.Errorf("%w: missing action or service type", ErrInvalidParam)
	}
	if _, err := uri.Parse(controlURL); err != nil {
		return err
	}
	return c.sdk.submit(func(ctx context.Context) {
		result, err := c.soap.Call(ctx, controlURL, serviceType, action, args)
		c.callback(EventControlActionComplete, &ActionComplete{
			Err:         err,
			CtrlURL:     controlURL,
			ServiceType: serviceType,
			ActionName:  action,
			Args:        args,
			Result:      result,
			Cookie:      cookie,
		})
	})
}

// DownloadDescription fetches and parses the description at url. Service
// URLs of the result are absolute.
func (c *Client) DownloadDescription(ctx context.Context, url string) (*description.Root, error) {
	doc, _, err := c.DownloadURL(ctx, url)
	if err != nil {
		return nil, err
	}
	root, err := description.ParseBytes(doc)
	if err != nil {
		return nil, err
	}
	if err := root.ResolveURLs(url); err != nil {
		return nil, fmt.Errorf("%w: %w", description.ErrInvalid, err)
	}
	return root, nil
}

// DownloadURL fetches url and returns the body and its content type.
func (c *Client) DownloadURL(ctx context.Context, url string) ([]byte, string, error) {
	client, err := c.check()
	if err != nil {
		return nil, "", err
	}
	if _, err := uri.Parse(url); err != nil {
		return nil, "", err
	}
	return client.Download(ctx, url, MaxDescriptionSize)
}
