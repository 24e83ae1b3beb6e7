// internal/resolve/strategy.go
package resolve

import (
	"bytes"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Strategy turns a hosting site's viewer page into a direct media link.
type Strategy interface {
	Name() string
	// Matches reports whether the strategy handles u.
	Matches(u *url.URL) bool
	// PageURL returns the first URL to fetch for u.
	PageURL(u *url.URL) string
	// Next scans the first fetched body for the media link to fetch next.
	// ok is false when the first fetch is already the artifact or no link
	// was found.
	Next(u *url.URL, page []byte) (next string, ok bool)
}

// Default fetches the URL as-is; the single response is the artifact.
type Default struct{}

func (Default) Name() string { return "default" }

func (Default) Matches(*url.URL) bool { return true }

func (Default) PageURL(u *url.URL) string { return u.String() }

func (Default) Next(*url.URL, []byte) (string, bool) { return "", false }

func hostIs(u *url.URL, domain string) bool {
	host := strings.ToLower(u.Hostname())
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// lastSegment returns the final path element and whether it looks like a
// file name.
func lastSegment(u *url.URL) (string, bool) {
	seg := path.Base(strings.TrimSuffix(u.Path, "/"))
	if seg == "." || seg == "/" {
		return "", false
	}
	return seg, strings.Contains(seg, ".")
}

func schemeless(link string) string {
	if strings.HasPrefix(link, "//") {
		return "https:" + link
	}
	return link
}

var (
	flickrPhotoRe = regexp.MustCompile(`^.*flickr\.com/photos/([^/]+)/([^/]+)`)
	flickrSizeRe  = regexp.MustCompile(`_d\.[^"/?#]+(\?[^"]*)?$`)
)

// Flickr rewrites a photo base page to its largest-size view and picks the
// download link out of that page.
type Flickr struct{}

func (Flickr) Name() string { return "flickr" }

func (Flickr) Matches(u *url.URL) bool { return hostIs(u, "flickr.com") }

// photoID returns the photo id when u is a photo base page.
func (Flickr) photoID(u *url.URL) (prefix, id string, ok bool) {
	if _, isFile := lastSegment(u); isFile {
		return "", "", false
	}
	m := flickrPhotoRe.FindStringSubmatch(u.String())
	if m == nil || m[2] == "sets" || m[2] == "items" {
		return "", "", false
	}
	return m[0], m[2], true
}

func (f Flickr) PageURL(u *url.URL) string {
	if prefix, _, ok := f.photoID(u); ok {
		return prefix + "/sizes/k"
	}
	return u.String()
}

func (f Flickr) Next(u *url.URL, page []byte) (string, bool) {
	_, id, ok := f.photoID(u)
	if !ok {
		return "", false
	}

	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return flickrFallback(id, page)
		case html.StartTagToken, html.SelfClosingTagToken:
			for _, a := range z.Token().Attr {
				if a.Key != "href" && a.Key != "src" {
					continue
				}
				v := a.Val
				if strings.HasPrefix(v, "//") || strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "http://") {
					if strings.Contains(v, id) && flickrSizeRe.MatchString(v) {
						return schemeless(v), true
					}
				}
			}
		}
	}
}

// flickrFallback scans the raw page when the link is not in a tag attribute,
// e.g. inside inline script.
func flickrFallback(id string, page []byte) (string, bool) {
	re, err := regexp.Compile(`//[^"]+` + regexp.QuoteMeta(id) + `[^"]+_d\.[^"]+`)
	if err != nil {
		return "", false
	}
	m := re.Find(page)
	if m == nil {
		return "", false
	}
	return "https:" + string(m), true
}

var imgurLooseRe = regexp.MustCompile(`(//i\.imgur\.com/[a-zA-Z0-9]{2,}\.[^"]+)"`)

// Imgur finds the direct image behind an imgur viewer page.
type Imgur struct{}

func (Imgur) Name() string { return "imgur" }

func (Imgur) Matches(u *url.URL) bool { return hostIs(u, "imgur.com") }

func (Imgur) PageURL(u *url.URL) string { return u.String() }

func (Imgur) Next(u *url.URL, page []byte) (string, bool) {
	id, isFile := lastSegment(u)
	if isFile || id == "" {
		return "", false
	}

	exact := regexp.MustCompile(`(//i\.imgur\.com/` + regexp.QuoteMeta(id) + `\.[^"]+)"`)
	if m := exact.FindSubmatch(page); m != nil {
		return "https:" + string(m[1]), true
	}
	if m := imgurLooseRe.FindSubmatch(page); m != nil {
		return "https:" + string(m[1]), true
	}
	return "", false
}
