package netguard

import (
	"net"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL_RejectsNonHTTPScheme(t *testing.T) {
	err := ValidateURL("file:///etc/passwd", false)
	assert.Error(t, err)
}

func TestValidateURL_RejectsEmptyHostname(t *testing.T) {
	err := ValidateURL("http://", false)
	assert.Error(t, err)
}

func TestValidateURL_AllowsPublicSchemeWhenNotResolving(t *testing.T) {
	err := ValidateURL("https://example.com/feed.xml", false)
	assert.NoError(t, err)
}

func TestValidateURL_RejectsLoopbackWhenDenyingPrivateIPs(t *testing.T) {
	err := ValidateURL("http://127.0.0.1:8080/feed.xml", true)
	assert.Error(t, err)
}

func TestIsPrivateIP(t *testing.T) {
	cases := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.5", true},
		{"192.168.1.1", true},
		{"169.254.1.1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.private, IsPrivateIP(net.ParseIP(tc.ip)), tc.ip)
	}
}

func TestCheckRedirect_RejectsAfterMaxRedirects(t *testing.T) {
	check := CheckRedirect(2, false)
	u, _ := url.Parse("https://example.com/next")
	req := &http.Request{URL: u}
	via := []*http.Request{{}, {}}

	err := check(req, via)

	assert.Error(t, err)
}

func TestCheckRedirect_AllowsWithinLimit(t *testing.T) {
	check := CheckRedirect(5, false)
	u, _ := url.Parse("https://example.com/next")
	req := &http.Request{URL: u}
	via := []*http.Request{{}}

	err := check(req, via)

	assert.NoError(t, err)
}
