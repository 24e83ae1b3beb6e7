// internal/censor/censor.go
// Profanity censoring of post text fields
package censor

import (
	"bufio"
	"context"
	_ "embed"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reddit-image-download/internal/config"
	"reddit-image-download/internal/harvest"
	"reddit-image-download/internal/logging"
)

// EraseCharacter configures a field to drop matched words instead of masking them.
const EraseCharacter = "erase"

//go:embed words.txt
var wordList string

// Words returns the built-in word list. Two-letter words are never censored.
func Words() []string {
	var words []string
	scanner := bufio.NewScanner(strings.NewReader(wordList))
	for scanner.Scan() {
		w := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if utf8.RuneCountInString(w) > 2 {
			words = append(words, w)
		}
	}
	return words
}

// field censors one text field
type field struct {
	name        string
	enabled     bool
	replacement string
	pattern     *regexp.Regexp
}

func newField(name string, f config.LanguageFilter, words []string) field {
	replacement := f.Character
	if replacement == EraseCharacter {
		replacement = ""
	}

	// Longest first so the alternation prefers the full word.
	sorted := append([]string(nil), words...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, len(sorted))
	for i, w := range sorted {
		quoted[i] = regexp.QuoteMeta(w)
	}
	expr := `(?i)(` + strings.Join(quoted, "|") + `)`
	if f.WholeWord {
		expr = `(?i)\b(` + strings.Join(quoted, "|") + `)\b`
	}

	return field{
		name:        name,
		enabled:     f.Filter && len(words) > 0,
		replacement: replacement,
		pattern:     regexp.MustCompile(expr),
	}
}

func (f field) apply(text string) string {
	if !f.enabled {
		return text
	}
	return f.pattern.ReplaceAllStringFunc(text, func(m string) string {
		if f.replacement == "" {
			return ""
		}
		return strings.Repeat(f.replacement, utf8.RuneCountInString(m))
	})
}

// Censor masks words in post titles, user names and subreddit names
type Censor struct {
	title     field
	user      field
	subreddit field
	workers   int
	logger    *zap.Logger
}

// New builds a censor from the three language-filter sections using words,
// or the built-in list when words is nil.
func New(title, user, subreddit config.LanguageFilter, words []string, logger *zap.Logger) *Censor {
	if words == nil {
		words = Words()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Censor{
		title:     newField("title", title, words),
		user:      newField("user", user, words),
		subreddit: newField("subreddit", subreddit, words),
		workers:   runtime.GOMAXPROCS(0),
		logger:    logger,
	}
}

// Post censors one candidate.
func (c *Censor) Post(p harvest.Candidate) harvest.Candidate {
	p.Title = c.title.apply(p.Title)
	p.User = c.user.apply(p.User)
	p.Subreddit = c.subreddit.apply(p.Subreddit)
	return p
}

// Posts censors every candidate, one field at a time across a bounded pool.
// The result keeps the input order; the input is not modified.
func (c *Censor) Posts(ctx context.Context, posts []harvest.Candidate) ([]harvest.Candidate, error) {
	out := append([]harvest.Candidate(nil), posts...)

	fields := []struct {
		f   field
		get func(*harvest.Candidate) *string
	}{
		{c.title, func(p *harvest.Candidate) *string { return &p.Title }},
		{c.user, func(p *harvest.Candidate) *string { return &p.User }},
		{c.subreddit, func(p *harvest.Candidate) *string { return &p.Subreddit }},
	}

	for _, fd := range fields {
		if !fd.f.enabled {
			continue
		}

		censored := make([]string, len(out))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)
		for i := range out {
			text := *fd.get(&out[i])
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				censored[i] = fd.f.apply(text)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i := range out {
			old := fd.get(&out[i])
			if *old != censored[i] {
				c.logger.Info("censored text",
					zap.String("field", fd.f.name),
					zap.String("from", logging.ASCII(*old)),
					zap.String("to", logging.ASCII(censored[i])))
				*old = censored[i]
			}
		}
	}
	return out, nil
}
