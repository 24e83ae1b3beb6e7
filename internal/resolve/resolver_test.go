package resolve

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rewriteTransport sends every request to the test server while keeping
// the requested Host so handlers can route on it.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	r.Host = req.URL.Host
	resp, err := http.DefaultTransport.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}

type hitLog struct {
	mu   sync.Mutex
	hits []string
}

func (h *hitLog) add(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits = append(h.hits, s)
}

func (h *hitLog) list() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.hits...)
}

func newTestResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: rewriteTransport{target: target}, CheckRedirect: checkRedirect}
	return NewResolver(client, nil)
}

const imgurPage = `<!doctype html>
<html><head>
<title>abc123 - Imgur</title>
<link rel="image_src" href="//i.imgur.com/abc123.png"/>
</head><body></body></html>`

func TestResolve_ImgurBasePage(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.Host + req.URL.Path {
		case "imgur.com/abc123":
			w.Write([]byte(imgurPage))
		case "i.imgur.com/abc123.png":
			assert.Equal(t, UserAgent, req.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("PNGDATA"))
		default:
			http.NotFound(w, req)
		}
	})

	responses, err := r.Resolve(context.Background(), "https://imgur.com/abc123")
	require.NoError(t, err)
	require.Len(t, responses, 2)

	last := responses[len(responses)-1]
	assert.Equal(t, "https://i.imgur.com/abc123.png", last.URL)
	assert.Equal(t, "PNGDATA", string(last.Body))
	assert.Equal(t, int64(len(imgurPage)+len("PNGDATA")), Bytes(responses))
}

func TestResolve_ImgurLooseMatch(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.Host + req.URL.Path {
		case "imgur.com/a/album9":
			w.Write([]byte(`<img src="//i.imgur.com/Zx81.jpg" alt="">`))
		case "i.imgur.com/Zx81.jpg":
			w.Write([]byte("JPEG"))
		default:
			http.NotFound(w, req)
		}
	})

	responses, err := r.Resolve(context.Background(), "https://imgur.com/a/album9")
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, "https://i.imgur.com/Zx81.jpg", responses[1].URL)
}

func TestResolve_ImgurNoLinkFallsBack(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("<html>nothing here</html>"))
	})

	responses, err := r.Resolve(context.Background(), "https://imgur.com/gone")
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "https://imgur.com/gone", responses[0].URL)
}

func TestResolve_ImgurDirectFile(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`"//i.imgur.com/other.png"`))
	})

	responses, err := r.Resolve(context.Background(), "https://i.imgur.com/abc123.jpg")
	require.NoError(t, err)
	assert.Len(t, responses, 1)
}

func TestResolve_FlickrBasePage(t *testing.T) {
	const sizesPage = `<html><body>
<div id="allsizes-photo"><img src="https://live.staticflickr.com/65535/5123_abc_k.jpg"></div>
<a href="https://live.staticflickr.com/65535/5123_abc_k_d.jpg">Download</a>
</body></html>`

	var paths hitLog
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		paths.add(req.Host + req.URL.Path)
		switch req.Host + req.URL.Path {
		case "www.flickr.com/photos/someone/5123/sizes/k":
			w.Write([]byte(sizesPage))
		case "live.staticflickr.com/65535/5123_abc_k_d.jpg":
			w.Write([]byte("FLICKRJPEG"))
		default:
			http.NotFound(w, req)
		}
	})

	responses, err := r.Resolve(context.Background(), "https://www.flickr.com/photos/someone/5123/")
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, "FLICKRJPEG", string(responses[1].Body))
	assert.Equal(t, []string{
		"www.flickr.com/photos/someone/5123/sizes/k",
		"live.staticflickr.com/65535/5123_abc_k_d.jpg",
	}, paths.list())
}

func TestResolve_FlickrScriptFallback(t *testing.T) {
	const sizesPage = `<script>var dl = "//live.staticflickr.com/1/777_ff_o_d.png";</script>`

	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.Host + req.URL.Path {
		case "www.flickr.com/photos/someone/777/sizes/k":
			w.Write([]byte(sizesPage))
		case "live.staticflickr.com/1/777_ff_o_d.png":
			w.Write([]byte("PNG"))
		default:
			http.NotFound(w, req)
		}
	})

	responses, err := r.Resolve(context.Background(), "https://www.flickr.com/photos/someone/777")
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, "https://live.staticflickr.com/1/777_ff_o_d.png", responses[1].URL)
}

func TestResolve_FlickrSetsPassThrough(t *testing.T) {
	var hits hitLog
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		hits.add(req.URL.Path)
		w.Write([]byte("page"))
	})

	responses, err := r.Resolve(context.Background(), "https://www.flickr.com/photos/someone/sets")
	require.NoError(t, err)
	assert.Len(t, responses, 1)
	assert.Equal(t, []string{"/photos/someone/sets"}, hits.list())
}

func TestResolve_Default(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("JPEG"))
	})

	responses, err := r.Resolve(context.Background(), "https://i.redd.it/xyz.jpg")
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "image/jpeg", responses[0].ContentType)
	assert.Equal(t, http.StatusOK, responses[0].StatusCode)
}

func TestResolve_NoHost(t *testing.T) {
	r := NewResolver(nil, nil)
	for _, raw := range []string{"/r/pics/comments/abc", "not a url", "", "::bad"} {
		responses, err := r.Resolve(context.Background(), raw)
		assert.NoError(t, err, raw)
		assert.Empty(t, responses, raw)
	}
}

func TestResolve_HTTPError(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})

	responses, err := r.Resolve(context.Background(), "https://i.redd.it/xyz.jpg")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetch))
	require.Len(t, responses, 1)
	assert.Positive(t, Bytes(responses))
}
