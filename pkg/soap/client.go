package soap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
)

// mpostNamespace is the extension namespace used with M-POST.
const mpostNamespace = "01"

// Requester sends an HTTP request and reads the response.
type Requester interface {
	Do(ctx context.Context, method, url string, header httpmsg.Header, body []byte) (*httpmsg.Response, error)
}

var _ Requester = (*httpmsg.Client)(nil)

// Client invokes actions on devices.
type Client struct {
	http Requester
}

// NewClient creates a client sending requests with r.
func NewClient(r Requester) *Client {
	return &Client{http: r}
}

// Call invokes action on the service at controlURL and returns the output
// arguments. UPnP errors reported by the device are returned as *Error.
func (c *Client) Call(ctx context.Context, controlURL, serviceType, action string, args []Argument) ([]Argument, error) {
	body, err := BuildAction(serviceType, action, args)
	if err != nil {
		return nil, err
	}
	soapAction := FormatSOAPAction(serviceType, action)

	var header httpmsg.Header
	header.Add("CONTENT-TYPE", ContentType)
	header.Add("SOAPACTION", soapAction)
	resp, err := c.http.Do(ctx, http.MethodPost, controlURL, header, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed {
		header = nil
		header.Add("CONTENT-TYPE", ContentType)
		header.Add("MAN", `"`+EnvelopeNamespace+`"; ns=`+mpostNamespace)
		header.Add(mpostNamespace+"-SOAPACTION", soapAction)
		if resp, err = c.http.Do(ctx, "M-POST", controlURL, header, body); err != nil {
			return nil, err
		}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusInternalServerError:
		if _, err := ParseEnvelope(resp.Body); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: status 500 without fault", ErrInvalidEnvelope)
	default:
		return nil, fmt.Errorf("%w: %s: status %d", httpmsg.ErrBadResponse, controlURL, resp.StatusCode)
	}

	out, err := ParseEnvelope(resp.Body)
	if err != nil {
		return nil, err
	}
	if out.Name != action+"Response" {
		return nil, fmt.Errorf("%w: unexpected element %s", ErrInvalidEnvelope, out.Name)
	}
	return out.Args, nil
}
