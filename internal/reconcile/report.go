package reconcile

import (
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Report summarises one run
type Report struct {
	Harvested  int
	Registered int
	Purged     int
	Aged       int
	Unpopular  int
	Deleted    int
	Downloaded int
	Failed     int
	// Tracked is the number of tracked files after the run.
	Tracked int
	// Bytes counts every fetched body, including failed downloads.
	Bytes    int64
	Sequence int64
	Elapsed  time.Duration
}

func (r Report) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("harvested", r.Harvested),
		zap.Int("registered", r.Registered),
		zap.Int("purged", r.Purged),
		zap.Int("aged", r.Aged),
		zap.Int("unpopular", r.Unpopular),
		zap.Int("deleted", r.Deleted),
		zap.Int("downloaded", r.Downloaded),
		zap.Int("failed", r.Failed),
		zap.Int("tracked", r.Tracked),
		zap.String("transferred", humanize.Bytes(uint64(max(r.Bytes, 0)))),
		zap.Int64("sequence", r.Sequence),
		zap.Duration("elapsed", r.Elapsed),
	}
}
