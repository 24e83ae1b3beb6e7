// internal/reconcile/driver.go
// One reconciliation run: harvest, register, expire, sync the images
// directory with the store and download new media up to the budget.
package reconcile

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"reddit-image-download/internal/database"
	"reddit-image-download/internal/filesys"
	"reddit-image-download/internal/harvest"
	"reddit-image-download/internal/logging"
	"reddit-image-download/internal/resolve"
)

// Store is the part of the post store a run drives.
type Store interface {
	RegisterPost(ctx context.Context, url, title, user, subreddit, postcode string) error
	PurgeVeryOld(ctx context.Context, maxAgeDays int) ([]database.ExcludedPost, error)
	ExcludeAged(ctx context.Context, maxAgeDays int) ([]database.ExcludedPost, error)
	ExcludeUnlisted(ctx context.Context, currentURLs []string) ([]database.ExcludedPost, error)
	ExcludeExplicit(ctx context.Context, url, reason string) (int64, error)
	StaleFiles(ctx context.Context, filesOnDisk []string) ([]string, error)
	CountDownloaded(ctx context.Context) (int, error)
	NextUndecided(ctx context.Context) (database.Post, error)
	ChecksumTracked(ctx context.Context, checksum string) (bool, error)
	RecordDownload(ctx context.Context, url, filename, checksum string) error
	LastSequence(ctx context.Context) (int64, error)
}

type Resolver interface {
	Resolve(ctx context.Context, rawURL string) ([]resolve.Response, error)
}

type Renderer interface {
	Render(ctx context.Context, post database.Post, raw []byte) (string, error)
}

type Censor interface {
	Posts(ctx context.Context, posts []harvest.Candidate) ([]harvest.Candidate, error)
}

type Mirror interface {
	Put(ctx context.Context, dir, name string) error
	Remove(ctx context.Context, name string) error
}

// Deps are the collaborators of a run. Filter, Censor and Mirror are optional.
type Deps struct {
	Store    Store
	Source   harvest.Source
	Filter   *harvest.Filter
	Censor   Censor
	Resolver Resolver
	Renderer Renderer
	Mirror   Mirror
}

// Options are the limits of a run
type Options struct {
	Dir          string
	PostsLimit   int
	ImagesLimit  int
	AgeDays      int
	PurgeAgeDays int
	// RateLimit is the minimum time between download attempts.
	RateLimit time.Duration
}

type Driver struct {
	Deps
	opts   Options
	logger *zap.Logger
}

func NewDriver(deps Deps, opts Options, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PurgeAgeDays == 0 {
		opts.PurgeAgeDays = opts.AgeDays + 30
	}
	return &Driver{Deps: deps, opts: opts, logger: logger}
}

// Run performs one reconciliation. A harvest failure leaves the store
// untouched; a failure of a single download only excludes that post.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	var rep Report
	start := time.Now()

	urls, err := d.register(ctx, &rep)
	if err != nil {
		return rep, err
	}
	if err := d.expire(ctx, urls, &rep); err != nil {
		return rep, err
	}
	if err := d.syncDirectory(ctx, &rep); err != nil {
		return rep, err
	}
	if err := d.downloadAll(ctx, &rep); err != nil {
		return rep, err
	}

	if rep.Tracked, err = d.Store.CountDownloaded(ctx); err != nil {
		return rep, err
	}
	if rep.Sequence, err = d.Store.LastSequence(ctx); err != nil {
		return rep, err
	}
	rep.Elapsed = time.Since(start)
	d.logger.Info("run complete", rep.Fields()...)
	return rep, nil
}

// register harvests, filters and censors candidates and registers them.
// It returns the urls of the registered posts.
func (d *Driver) register(ctx context.Context, rep *Report) ([]string, error) {
	candidates, err := d.Source.Harvest(ctx, d.opts.PostsLimit)
	if err != nil {
		return nil, fmt.Errorf("error harvesting feed: %w", err)
	}
	rep.Harvested = len(candidates)
	d.logger.Info("harvested feed", zap.Int("candidates", len(candidates)))

	if d.Filter != nil {
		candidates = d.Filter.Apply(candidates)
	}
	if d.Censor != nil {
		if candidates, err = d.Censor.Posts(ctx, candidates); err != nil {
			return nil, fmt.Errorf("error censoring posts: %w", err)
		}
	}

	urls := make([]string, 0, len(candidates))
	for _, c := range candidates {
		err := d.Store.RegisterPost(ctx, c.URL, c.Title, c.User, c.Subreddit, c.Postcode)
		if errors.Is(err, database.ErrInvalidInput) {
			d.logger.Warn("skipping post", zap.String("postcode", c.Postcode), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		urls = append(urls, c.URL)
		rep.Registered++
	}
	return urls, nil
}

func (d *Driver) expire(ctx context.Context, urls []string, rep *Report) error {
	purged, err := d.Store.PurgeVeryOld(ctx, d.opts.PurgeAgeDays)
	if err != nil {
		return err
	}
	d.logExcluded("purged", purged)
	rep.Purged = len(purged)

	aged, err := d.Store.ExcludeAged(ctx, d.opts.AgeDays)
	if err != nil {
		return err
	}
	d.logExcluded("too old", aged)
	rep.Aged = len(aged)

	// An empty feed is an outage, not a signal that every post fell off it.
	if len(urls) == 0 {
		d.logger.Warn("no posts registered, keeping current posts")
		return nil
	}
	unpopular, err := d.Store.ExcludeUnlisted(ctx, urls)
	if err != nil {
		return err
	}
	d.logExcluded("no longer popular", unpopular)
	rep.Unpopular = len(unpopular)
	return nil
}

func (d *Driver) logExcluded(msg string, posts []database.ExcludedPost) {
	for _, p := range posts {
		d.logger.Info(msg, zap.String("postcode", p.Postcode), zap.String("title", logging.ASCII(p.Title)))
	}
}

// syncDirectory deletes every file in the images directory the store does
// not track.
func (d *Driver) syncDirectory(ctx context.Context, rep *Report) error {
	files, err := filesys.ListFiles(d.opts.Dir)
	if err != nil {
		return err
	}
	stale, err := d.Store.StaleFiles(ctx, files)
	if err != nil {
		return err
	}

	for _, name := range stale {
		if err := filesys.Remove(filepath.Join(d.opts.Dir, name)); err != nil {
			d.logger.Warn("could not delete file", zap.String("file", name), zap.Error(err))
			continue
		}
		d.logger.Info("deleted file", zap.String("file", name))
		rep.Deleted++
		if d.Mirror != nil {
			if err := d.Mirror.Remove(ctx, name); err != nil {
				d.logger.Warn("mirror remove failed", zap.String("file", name), zap.Error(err))
			}
		}
	}
	return nil
}

func (d *Driver) downloadAll(ctx context.Context, rep *Report) error {
	p := newPacer(d.opts.RateLimit)
	for {
		n, err := d.Store.CountDownloaded(ctx)
		if err != nil {
			return err
		}
		if n >= d.opts.ImagesLimit {
			d.logger.Info("reached image limit", zap.Int("limit", d.opts.ImagesLimit))
			return nil
		}

		post, err := d.Store.NextUndecided(ctx)
		if errors.Is(err, database.ErrNotFound) {
			d.logger.Info("out of candidates")
			return nil
		}
		if err != nil {
			return err
		}

		if err := d.download(ctx, post, rep); err != nil {
			return err
		}
		if err := p.Wait(ctx); err != nil {
			return err
		}
	}
}

// download fetches, renders and tracks one post. Per-item failures exclude
// the post; only store failures and cancellation are returned.
func (d *Driver) download(ctx context.Context, post database.Post, rep *Report) error {
	logger := d.logger.With(zap.String("postcode", post.Postcode))
	logger.Info("downloading", zap.String("url", post.URL), zap.String("title", logging.ASCII(post.Title)))

	responses, err := d.Resolver.Resolve(ctx, post.URL)
	rep.Bytes += resolve.Bytes(responses)
	if err != nil {
		return d.fail(ctx, post, database.ReasonDownloadError, err, rep)
	}
	if len(responses) == 0 {
		return d.fail(ctx, post, database.ReasonUnresolvable, nil, rep)
	}

	body := responses[len(responses)-1].Body
	if mt := mimetype.Detect(body); !strings.HasPrefix(mt.String(), "image/") {
		return d.fail(ctx, post, database.ReasonDownloadError, fmt.Errorf("unexpected media type %s", mt), rep)
	}

	sum := blake2b.Sum256(body)
	checksum := hex.EncodeToString(sum[:])
	dup, err := d.Store.ChecksumTracked(ctx, checksum)
	if err != nil {
		return err
	}
	if dup {
		return d.fail(ctx, post, database.ReasonDuplicate, nil, rep)
	}

	filename, err := d.Renderer.Render(ctx, post, body)
	if err != nil {
		return d.fail(ctx, post, database.ReasonDownloadError, err, rep)
	}
	err = d.Store.RecordDownload(ctx, post.URL, filename, checksum)
	if errors.Is(err, database.ErrDuplicateFilename) {
		return d.fail(ctx, post, database.ReasonDownloadError, err, rep)
	}
	if err != nil {
		return err
	}
	rep.Downloaded++

	if d.Mirror != nil {
		if err := d.Mirror.Put(ctx, d.opts.Dir, filename); err != nil {
			logger.Warn("mirror upload failed", zap.String("file", filename), zap.Error(err))
		}
	}
	logger.Debug("tracked file", zap.String("file", filename))
	return nil
}

// fail excludes post for reason. A cancelled run leaves the post undecided
// so the next run retries it.
func (d *Driver) fail(ctx context.Context, post database.Post, reason string, cause error, rep *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.Store.ExcludeExplicit(ctx, post.URL, reason); err != nil {
		return err
	}
	rep.Failed++
	d.logger.Warn("excluded post",
		zap.String("postcode", post.Postcode),
		zap.String("reason", reason),
		zap.NamedError("cause", cause))
	return nil
}
