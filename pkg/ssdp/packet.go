package ssdp

import (
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/upnpsdk/upnpsdk-go/pkg/httpmsg"
	"github.com/upnpsdk/upnpsdk-go/pkg/sockaddr"
)

// Protocol constants.
const (
	Port = 1900

	// NumCopy is how often every advertisement and M-SEARCH is sent.
	NumCopy = 2
	// Pause separates the copies.
	Pause = 100 * time.Millisecond

	// DefaultMaxAge is the advertisement lifetime in seconds.
	DefaultMaxAge = 1800

	// MinSearchTime and MaxSearchTime bound the MX of outgoing searches.
	MinSearchTime = 2
	MaxSearchTime = 80

	// OPT header value announcing the 01-NLS extension.
	optValue = `"http://schemas.upnp.org/upnp/1/0/"; ns=01`

	mxFudgeFactor = 10
)

// Multicast groups.
var (
	GroupIPv4          = netip.MustParseAddr("239.255.255.250")
	GroupIPv6LinkLocal = netip.MustParseAddr("ff02::c")
	GroupIPv6SiteLocal = netip.MustParseAddr("ff05::c")
)

// NTS values.
const (
	NTSAlive  = "ssdp:alive"
	NTSByebye = "ssdp:byebye"
	manValue  = `"ssdp:discover"`
)

// Kind selects the packet built by BuildPacket.
type Kind uint8

const (
	// KindReply is a unicast M-SEARCH response.
	KindReply Kind = iota
	// KindAlive is a NOTIFY ssdp:alive.
	KindAlive
	// KindByebye is a NOTIFY ssdp:byebye.
	KindByebye
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindReply:
		return "REPLY"
	case KindAlive:
		return "ALIVE"
	case KindByebye:
		return "BYEBYE"
	default:
		return "UNKNOWN"
	}
}

// Packet holds the values of one advertisement or reply.
type Packet struct {
	Kind Kind
	// NT is the notification type, sent as ST in replies.
	NT       string
	USN      string
	Location string
	MaxAge   int
	Server   string
	// NLS is the 01-NLS value; empty omits OPT and 01-NLS.
	NLS string
	// BootID and ConfigID are sent when BootID is non-zero.
	BootID   uint32
	ConfigID uint32
	// Host is the HOST value of NOTIFY messages.
	Host string
	// Date of a reply; zero uses the current time.
	Date time.Time
}

// Build returns the message for p.
func (p *Packet) Build() *httpmsg.Message {
	var m *httpmsg.Message
	if p.Kind == KindReply {
		m = httpmsg.NewResponse(200)
		m.Header.Add("CACHE-CONTROL", "max-age="+strconv.Itoa(p.MaxAge))
		date := p.Date
		if date.IsZero() {
			date = time.Now()
		}
		m.Header.Add("DATE", httpmsg.FormatDate(date))
		m.Header.Add("EXT", "")
		m.Header.Add("LOCATION", p.Location)
		p.addNLS(m)
		if p.Server != "" {
			m.Header.Add("SERVER", p.Server)
		}
		m.Header.Add("ST", p.NT)
		m.Header.Add("USN", p.USN)
	} else {
		m = httpmsg.NewRequest(httpmsg.MethodNotify, "*")
		m.Header.Add("HOST", p.Host)
		m.Header.Add("CACHE-CONTROL", "max-age="+strconv.Itoa(p.MaxAge))
		m.Header.Add("LOCATION", p.Location)
		p.addNLS(m)
		m.Header.Add("NT", p.NT)
		nts := NTSAlive
		if p.Kind == KindByebye {
			nts = NTSByebye
		}
		m.Header.Add("NTS", nts)
		if p.Server != "" {
			m.Header.Add("SERVER", p.Server)
		}
		m.Header.Add("USN", p.USN)
	}
	if p.BootID != 0 {
		m.Header.Add("BOOTID.UPNP.ORG", strconv.FormatUint(uint64(p.BootID), 10))
		m.Header.Add("CONFIGID.UPNP.ORG", strconv.FormatUint(uint64(p.ConfigID), 10))
	}
	return m
}

func (p *Packet) addNLS(m *httpmsg.Message) {
	if p.NLS == "" {
		return
	}
	m.Header.Add("OPT", optValue)
	m.Header.Add("01-NLS", p.NLS)
}

// BuildSearch returns an M-SEARCH request for st sent to host. An mx of 0
// omits the MX header.
func BuildSearch(host string, mx int, st, userAgent string) *httpmsg.Message {
	m := httpmsg.NewRequest(httpmsg.MethodMSearch, "*")
	m.Header.Add("HOST", host)
	m.Header.Add("MAN", manValue)
	if mx > 0 {
		m.Header.Add("MX", strconv.Itoa(mx))
	}
	if st != "" {
		m.Header.Add("ST", st)
	}
	if userAgent != "" {
		m.Header.Add("USER-AGENT", userAgent)
	}
	return m
}

// HostHeader formats a HOST value for the group.
func HostHeader(group netip.Addr) string {
	if group.Is6() {
		return "[" + strings.ToUpper(group.String()) + "]:" + strconv.Itoa(Port)
	}
	return group.String() + ":" + strconv.Itoa(Port)
}

// Group returns the multicast group advertisements for location go to. IPv6
// uses the site-local group when location carries a ULA or GUA literal and
// the link-local group otherwise.
func Group(family sockaddr.Family, location string) netip.Addr {
	if family == sockaddr.FamilyInet {
		return GroupIPv4
	}
	if isUlaGuaLocation(location) {
		return GroupIPv6SiteLocal
	}
	return GroupIPv6LinkLocal
}

func isUlaGuaLocation(location string) bool {
	start := strings.IndexByte(location, '[')
	if start < 0 {
		return false
	}
	end := strings.IndexByte(location[start:], ']')
	if end < 0 {
		return false
	}
	host := location[start+1 : start+end]
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	a, err := netip.ParseAddr(host)
	if err != nil || !a.Is6() {
		return false
	}
	return !a.IsLinkLocalUnicast()
}

// adjustMX subtracts a share of mx to allow for network and processing
// delays and returns at least 1.
func adjustMX(mx int) int {
	if mx >= 2 {
		mx -= max(1, mx/mxFudgeFactor)
	}
	if mx < 1 {
		mx = 1
	}
	return mx
}

// clampMX bounds the MX of an outgoing search.
func clampMX(mx int) int {
	return min(max(mx, MinSearchTime), MaxSearchTime)
}

// parseMaxAge extracts the max-age value from CACHE-CONTROL. It returns -1
// when absent or malformed.
func parseMaxAge(v string) int {
	for _, part := range strings.Split(v, ",") {
		name, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "max-age") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return -1
		}
		return n
	}
	return -1
}
