package clients

import (
	"net/http"
	"testing"
	"time"
)

func TestNewHTTPClientTimeout(t *testing.T) {
	c := NewHTTPClient(3 * time.Second)
	if c.Timeout != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %s", c.Timeout)
	}
	if _, ok := c.Transport.(*http.Transport); !ok {
		t.Fatalf("expected *http.Transport, got %T", c.Transport)
	}
	if got := NewHTTPClient(0).Timeout; got != DefaultTimeout {
		t.Fatalf("expected default timeout, got %s", got)
	}
}
