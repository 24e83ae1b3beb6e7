// internal/harvest/filter.go
package harvest

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"reddit-image-download/internal/logging"
)

// FilterDecision represents the result of filter evaluation
type FilterDecision int

const (
	FilterKeep FilterDecision = iota
	FilterDiscard
)

// Discard reasons
const (
	ReasonBlankURL        = "blank url"
	ReasonNoHost          = "no host"
	ReasonNonFileDomain   = "non-file domain"
	ReasonThrowawayDomain = "throwaway-format domain"
	ReasonOver18          = "over 18"
	ReasonSelfPost        = "self post"
	ReasonCrossPost       = "cross-post"
	ReasonNonFile         = "non-file"
	ReasonGIF             = "gif"
	ReasonTooOld          = "too old"
)

var (
	// Hosts serving players or pages rather than image files.
	nonFileDomains = []string{"youtube.com", "youtu.be", "v.redd.it"}
	// Hosts serving short-lived video formats.
	throwawayDomains = []string{"gfycat.com", "redgifs.com"}
)

type urlRule struct {
	reason  string
	pattern *regexp.Regexp
}

var urlRules = []urlRule{
	{ReasonCrossPost, regexp.MustCompile(`reddit\.com/r`)},
	{ReasonNonFile, regexp.MustCompile(`/$`)},
	{ReasonGIF, regexp.MustCompile(`(?i)\.gifv?$`)},
}

// Filter decides which harvested candidates are registered
type Filter struct {
	allowOver18 bool
	maxAge      time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewFilter returns a filter discarding candidates created more than
// maxAgeDays ago. A nil now means time.Now.
func NewFilter(allowOver18 bool, maxAgeDays int, now func() time.Time, logger *zap.Logger) *Filter {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		allowOver18: allowOver18,
		maxAge:      time.Duration(maxAgeDays) * 24 * time.Hour,
		now:         now,
		logger:      logger,
	}
}

func domainIn(host string, domains []string) bool {
	host = strings.ToLower(host)
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Check evaluates one candidate. The reason is empty when it is kept.
func (f *Filter) Check(c Candidate) (FilterDecision, string) {
	if strings.TrimSpace(c.URL) == "" {
		return FilterDiscard, ReasonBlankURL
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Hostname() == "" {
		return FilterDiscard, ReasonNoHost
	}
	if domainIn(u.Hostname(), nonFileDomains) {
		return FilterDiscard, ReasonNonFileDomain
	}
	if domainIn(u.Hostname(), throwawayDomains) {
		return FilterDiscard, ReasonThrowawayDomain
	}
	if c.Over18 && !f.allowOver18 {
		return FilterDiscard, ReasonOver18
	}
	if c.IsSelf {
		return FilterDiscard, ReasonSelfPost
	}
	for _, rule := range urlRules {
		if rule.pattern.MatchString(c.URL) {
			return FilterDiscard, rule.reason
		}
	}
	if !c.Created.IsZero() && f.now().Sub(c.Created) > f.maxAge {
		return FilterDiscard, ReasonTooOld
	}
	return FilterKeep, ""
}

// Apply returns the candidates that pass Check, in input order.
func (f *Filter) Apply(candidates []Candidate) []Candidate {
	var kept []Candidate
	var filteredCount int
	for _, c := range candidates {
		decision, reason := f.Check(c)
		switch decision {
		case FilterKeep:
			kept = append(kept, c)
		case FilterDiscard:
			filteredCount++
			f.logger.Debug("filtered out candidate",
				zap.String("postcode", c.Postcode),
				zap.String("title", logging.ASCII(c.Title)),
				zap.String("reason", reason))
		}
	}
	if filteredCount > 0 {
		f.logger.Info("filtered candidates", zap.Int("filtered", filteredCount), zap.Int("total", len(candidates)))
	}
	return kept
}
