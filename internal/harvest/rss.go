// internal/harvest/rss.go
package harvest

import (
	"context"
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"reddit-image-download/internal/resolve"
)

const maxFeedBytes = 5 << 20

// RSS harvests an RSS or Atom feed, e.g. a subreddit's .rss listing
type RSS struct {
	url    string
	client *http.Client
	parser *gofeed.Parser
	policy *bluemonday.Policy
	logger *zap.Logger
	now    func() time.Time
}

// NewRSS returns a feed source; a nil client means resolve.NewClient().
func NewRSS(feedURL string, client *http.Client, logger *zap.Logger) *RSS {
	if client == nil {
		client = resolve.NewClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RSS{
		url:    feedURL,
		client: client,
		parser: gofeed.NewParser(),
		policy: bluemonday.StrictPolicy(),
		logger: logger,
		now:    time.Now,
	}
}

func (s *RSS) Harvest(ctx context.Context, limit int) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: error creating request: %v", ErrHarvest, err)
	}
	req.Header.Set("User-Agent", resolve.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: error fetching feed: %v", ErrHarvest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: unexpected response status %d", ErrHarvest, resp.StatusCode)
	}

	feed, err := s.parser.Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: error parsing feed: %v", ErrHarvest, err)
	}

	var out []Candidate
	for _, item := range feed.Items {
		if len(out) == limit {
			break
		}
		out = append(out, s.candidate(feed, item))
	}
	s.logger.Debug("parsed feed", zap.String("feed", feed.Title), zap.Int("items", len(feed.Items)))
	return out, nil
}

func (s *RSS) candidate(feed *gofeed.Feed, item *gofeed.Item) Candidate {
	link := item.Link
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			link = enc.URL
			break
		}
	}

	created := s.now()
	if item.PublishedParsed != nil {
		created = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		created = *item.UpdatedParsed
	}

	user := DeletedUser
	if item.Author != nil && item.Author.Name != "" {
		user = strings.TrimPrefix(item.Author.Name, "/u/")
	}

	subreddit := feed.Title
	if len(item.Categories) > 0 {
		subreddit = item.Categories[0]
	}

	key := item.GUID
	if key == "" {
		key = item.Link
	}

	return Candidate{
		Postcode:  Postcode(key),
		Title:     s.clean(item.Title),
		User:      s.clean(user),
		Subreddit: s.clean(strings.TrimPrefix(subreddit, "r/")),
		URL:       link,
		Created:   created.UTC(),
	}
}

// clean strips markup from feed text.
func (s *RSS) clean(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}

// Postcode derives a stable identifier for feeds without one of their own.
func Postcode(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return "r" + hex.EncodeToString(sum[:])[:12]
}
