package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"10.1.2.3", true},
		{"172.20.0.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.10.10", true},
		{"100.64.0.1", true},
		{"::1", true},
		{"fd00::1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"151.101.1.140", false},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.private, IsPrivateIP(net.ParseIP(tt.ip)))
		})
	}
}

func TestDialControl(t *testing.T) {
	assert.NoError(t, DialControl("tcp", "127.0.0.1:8080", nil))
	assert.NoError(t, DialControl("tcp", "93.184.216.34:443", nil))
	assert.Error(t, DialControl("tcp", "10.0.0.5:80", nil))
	assert.Error(t, DialControl("tcp", "[fe80::1]:80", nil))
	assert.Error(t, DialControl("tcp", "not-an-address", nil))
}
