package gena

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"Second-1800", 1800 * time.Second, false},
		{"second-15", 15 * time.Second, false},
		{" Second-0 ", 0, false},
		{"Second-infinite", Infinite, false},
		{"SECOND-INFINITE", Infinite, false},
		{"Second-", 0, true},
		{"Second--5", 0, true},
		{"Minute-5", 0, true},
		{"1800", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimeout(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTimeout(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeout(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatTimeout(t *testing.T) {
	assert.Equal(t, "Second-1800", FormatTimeout(1800*time.Second))
	assert.Equal(t, "Second-infinite", FormatTimeout(Infinite))
	assert.Equal(t, "Second-0", FormatTimeout(0))
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"<http://192.168.1.2:49152/>", []string{"http://192.168.1.2:49152/"}, false},
		{"<http://a:1/x><http://b:2/y>", []string{"http://a:1/x", "http://b:2/y"}, false},
		{"<ftp://a/><http://b/>", []string{"http://b/"}, false},
		{"<ftp://a/>", nil, true},
		{"http://a/", nil, true},
		{"<http://a/", nil, true},
		{"", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseCallback(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCallback(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseCallback(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestParseSEQ(t *testing.T) {
	n, err := ParseSEQ("4294967295")
	assert.NoError(t, err)
	assert.Equal(t, uint32(4294967295), n)

	for _, bad := range []string{"", "-1", "4294967296", "x"} {
		_, err := ParseSEQ(bad)
		assert.ErrorIs(t, err, ErrInvalidSEQ, bad)
	}
}

func TestNextSEQWraps(t *testing.T) {
	assert.Equal(t, uint32(1), nextSEQ(0))
	assert.Equal(t, uint32(2), nextSEQ(1))
	assert.Equal(t, uint32(1), nextSEQ(^uint32(0)))
}
