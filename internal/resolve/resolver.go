// internal/resolve/resolver.go
package resolve

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// Resolver fetches media URLs, following at most one viewer-page hop.
type Resolver struct {
	client     *http.Client
	logger     *zap.Logger
	strategies []Strategy
}

// NewResolver returns a resolver with the flickr and imgur strategies.
// A nil client means NewClient().
func NewResolver(client *http.Client, logger *zap.Logger) *Resolver {
	if client == nil {
		client = NewClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client:     client,
		logger:     logger,
		strategies: []Strategy{Flickr{}, Imgur{}},
	}
}

func (r *Resolver) strategyFor(u *url.URL) Strategy {
	for _, s := range r.strategies {
		if s.Matches(u) {
			return s
		}
	}
	return Default{}
}

// Resolve fetches rawURL. The last response is the artifact; earlier ones
// only count toward bytes transferred. An empty result means rawURL has no
// host and the item should be skipped.
//
// On error the responses received so far are still returned.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) ([]Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		r.logger.Warn("could not determine host", zap.String("url", rawURL))
		return nil, nil
	}

	s := r.strategyFor(u)
	page := s.PageURL(u)
	if page != rawURL {
		r.logger.Debug("rewrote url", zap.String("strategy", s.Name()), zap.String("from", rawURL), zap.String("to", page))
	}

	first, err := fetch(ctx, r.client, page)
	responses := collect(nil, first)
	if err != nil {
		return responses, err
	}

	next, ok := s.Next(u, first.Body)
	if !ok {
		if _, isFile := lastSegment(u); !isFile && s.Name() != (Default{}).Name() {
			r.logger.Info("could not find media link", zap.String("strategy", s.Name()), zap.String("url", rawURL))
		}
		return responses, nil
	}

	r.logger.Debug("following media link", zap.String("strategy", s.Name()), zap.String("from", page), zap.String("to", next))
	second, err := fetch(ctx, r.client, next)
	return collect(responses, second), err
}

func collect(responses []Response, r Response) []Response {
	if r.URL == "" && r.Body == nil {
		return responses
	}
	return append(responses, r)
}

// Bytes sums the body sizes of responses.
func Bytes(responses []Response) int64 {
	var n int64
	for _, r := range responses {
		n += int64(len(r.Body))
	}
	return n
}
