package soap

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tvControl = "urn:schemas-upnp-org:service:tvcontrol:1"

func TestParseSOAPAction(t *testing.T) {
	tests := []struct {
		in          string
		serviceType string
		action      string
		wantErr     bool
	}{
		{`"urn:schemas-upnp-org:service:tvcontrol:1#PowerOn"`, tvControl, "PowerOn", false},
		{`urn:schemas-upnp-org:service:tvcontrol:1#PowerOn`, tvControl, "PowerOn", false},
		{` "urn:x#y" `, "urn:x", "y", false},
		{`"urn:x#"`, "", "", true},
		{`"#y"`, "", "", true},
		{`"urn:x"`, "", "", true},
		{``, "", "", true},
	}
	for _, tt := range tests {
		st, action, err := ParseSOAPAction(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSOAPAction(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if st != tt.serviceType || action != tt.action {
			t.Errorf("ParseSOAPAction(%q) = %q, %q, want %q, %q", tt.in, st, action, tt.serviceType, tt.action)
		}
	}
	assert.Equal(t, `"urn:x#y"`, FormatSOAPAction("urn:x", "y"))
}

func TestBuildAction(t *testing.T) {
	body, err := BuildAction(tvControl, "SetChannel", []Argument{{Name: "Channel", Value: "5"}})
	require.NoError(t, err)
	want := `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body>
<u:SetChannel xmlns:u="urn:schemas-upnp-org:service:tvcontrol:1">
<Channel>5</Channel>
</u:SetChannel>
</s:Body>
</s:Envelope>
`
	assert.Equal(t, want, string(body))

	_, err = BuildAction(tvControl, "Bad Name", nil)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
	_, err = BuildAction(tvControl, "Ok", []Argument{{Name: "<x>"}})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestParseEnvelopeRoundTrip(t *testing.T) {
	args := []Argument{{Name: "B", Value: "2"}, {Name: "A", Value: "x<y&z"}, {Name: "Empty"}}
	data, err := BuildResponse(tvControl, "GetAll", args)
	require.NoError(t, err)

	body, err := ParseEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, tvControl, body.Namespace)
	assert.Equal(t, "GetAllResponse", body.Name)
	if diff := cmp.Diff(args, body.Args); diff != "" {
		t.Errorf("ParseEnvelope() args mismatch (-want +got):\n%s", diff)
	}

	v, ok := Lookup(body.Args, "A")
	assert.True(t, ok)
	assert.Equal(t, "x<y&z", v)
	_, ok = Lookup(body.Args, "C")
	assert.False(t, ok)
}

func TestParseEnvelopeFault(t *testing.T) {
	_, err := ParseEnvelope(BuildFault(&Error{Code: 601, Description: "Argument Value Out of Range"}))
	var ue *Error
	require.True(t, errors.As(err, &ue), "err = %v", err)
	assert.Equal(t, 601, ue.Code)
	assert.Equal(t, "Argument Value Out of Range", ue.Description)
	assert.Equal(t, "upnp error 601: Argument Value Out of Range", ue.Error())
}

func TestParseEnvelopeInvalid(t *testing.T) {
	for _, data := range []string{
		"",
		"<Envelope/>",
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body/></s:Envelope>`,
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault/></s:Body></s:Envelope>`,
	} {
		_, err := ParseEnvelope([]byte(data))
		assert.ErrorIs(t, err, ErrInvalidEnvelope, data)
	}
}

func TestCodeText(t *testing.T) {
	assert.Equal(t, "Invalid Action", NewError(CodeInvalidAction).Description)
	assert.Equal(t, "Invalid Args", CodeText(CodeInvalidArgs))
	assert.Equal(t, "Action Failed", CodeText(999))
}
