// internal/harvest/reddit.go
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"reddit-image-download/internal/config"
	"reddit-image-download/internal/resolve"
)

const (
	TokenURL = "https://www.reddit.com/api/v1/access_token"
	APIBase  = "https://oauth.reddit.com"

	// maxPage is the largest listing page the API serves.
	maxPage = 100
)

// Reddit harvests the hot listing of a multireddit
type Reddit struct {
	client  *http.Client
	apiBase string
	user    string
	multi   string
	logger  *zap.Logger
}

// RedditOptions overrides the endpoints, mostly for tests.
type RedditOptions struct {
	TokenURL string
	APIBase  string
	// Transport is the base transport; nil uses the media client's.
	Transport http.RoundTripper
}

// userAgentTransport sets the User-Agent the API requires on every request.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", resolve.UserAgent)
	return t.base.RoundTrip(r)
}

// NewReddit returns a source authenticated with application-only OAuth.
func NewReddit(ctx context.Context, creds config.Credentials, m config.Multireddit, opts RedditOptions, logger *zap.Logger) *Reddit {
	if opts.TokenURL == "" {
		opts.TokenURL = TokenURL
	}
	if opts.APIBase == "" {
		opts.APIBase = APIBase
	}
	if opts.Transport == nil {
		opts.Transport = resolve.NewClient().Transport
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := &http.Client{
		Timeout:   30 * time.Second,
		Transport: userAgentTransport{base: opts.Transport},
	}
	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     opts.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	client := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	client.Timeout = 30 * time.Second

	return &Reddit{
		client:  client,
		apiBase: opts.APIBase,
		user:    m.User,
		multi:   m.Multi,
		logger:  logger,
	}
}

type listing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Author     string  `json:"author"`
	Subreddit  string  `json:"subreddit"`
	URL        string  `json:"url"`
	Over18     bool    `json:"over_18"`
	IsSelf     bool    `json:"is_self"`
	CreatedUTC float64 `json:"created_utc"`
}

func (p redditPost) candidate() Candidate {
	user := p.Author
	if user == "" {
		user = DeletedUser
	}
	return Candidate{
		Postcode:  p.ID,
		Title:     p.Title,
		User:      user,
		Subreddit: p.Subreddit,
		URL:       p.URL,
		Over18:    p.Over18,
		IsSelf:    p.IsSelf,
		Created:   time.Unix(int64(p.CreatedUTC), 0).UTC(),
	}
}

// Harvest pages through the hot listing until limit candidates are read or
// the listing ends.
func (r *Reddit) Harvest(ctx context.Context, limit int) ([]Candidate, error) {
	var (
		out   []Candidate
		after string
	)
	for len(out) < limit {
		n := min(limit-len(out), maxPage)
		page, err := r.page(ctx, n, after)
		if err != nil {
			return nil, err
		}
		for _, c := range page.Data.Children {
			if len(out) == limit {
				break
			}
			out = append(out, c.Data.candidate())
		}
		r.logger.Debug("read listing page", zap.Int("items", len(page.Data.Children)), zap.String("after", page.Data.After))

		after = page.Data.After
		if after == "" || len(page.Data.Children) == 0 {
			break
		}
	}
	return out, nil
}

func (r *Reddit) page(ctx context.Context, limit int, after string) (*listing, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("raw_json", "1")
	if after != "" {
		q.Set("after", after)
	}
	endpoint := fmt.Sprintf("%s/user/%s/m/%s/hot?%s",
		r.apiBase, url.PathEscape(r.user), url.PathEscape(r.multi), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: error creating request: %v", ErrHarvest, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHarvest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected response status %d", ErrHarvest, resp.StatusCode)
	}

	var l listing
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&l); err != nil {
		return nil, fmt.Errorf("%w: error decoding listing: %v", ErrHarvest, err)
	}
	return &l, nil
}
