// internal/harvest/types.go
package harvest

import (
	"context"
	"errors"
	"time"
)

// DeletedUser stands in for authors whose account no longer exists.
const DeletedUser = "[deleted]"

var ErrHarvest = errors.New("harvest failed")

// Candidate is one feed submission considered for download
type Candidate struct {
	Postcode  string
	Title     string
	User      string
	Subreddit string
	URL       string
	Over18    bool
	IsSelf    bool
	Created   time.Time
}

// Source yields the current top-ranked candidates of a feed.
type Source interface {
	Harvest(ctx context.Context, limit int) ([]Candidate, error)
}
