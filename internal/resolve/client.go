// internal/resolve/client.go
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	securitynet "reddit-image-download/internal/security/netutil"
)

const (
	// UserAgent identifies our client to media hosts.
	UserAgent = "reddit_image_download/2.0 (by /u/rlbond86)"

	// MaxBodyBytes caps a single fetched body.
	MaxBodyBytes = 64 << 20

	maxRedirects = 5
)

var ErrFetch = errors.New("fetch failed")

// Response is one fetched URL with its complete body
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// NewClient returns the HTTP client used for media fetches. Connections to
// private or reserved addresses are refused at dial time.
func NewClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   securitynet.DialControl,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:       30 * time.Second,
		Transport:     transport,
		CheckRedirect: checkRedirect,
	}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

// fetch GETs rawURL and reads the whole body.
func fetch(ctx context.Context, client *http.Client, rawURL string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Response{}, fmt.Errorf("%w: error creating request: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return Response{}, fmt.Errorf("%w: error reading %s: %v", ErrFetch, rawURL, err)
	}

	r := Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}
	if len(body) > MaxBodyBytes {
		return r, fmt.Errorf("%w: %s exceeds %d bytes", ErrFetch, rawURL, MaxBodyBytes)
	}
	if resp.StatusCode >= 400 {
		return r, fmt.Errorf("%w: unexpected response status %d from %s", ErrFetch, resp.StatusCode, rawURL)
	}
	return r, nil
}
