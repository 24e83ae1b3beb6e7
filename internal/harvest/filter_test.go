// internal/harvest/filter_test.go
package harvest

import (
	"testing"
	"time"
)

func TestFilter_Check(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFilter(false, 7, func() time.Time { return now }, nil)

	fresh := now.Add(-time.Hour)
	base := Candidate{Postcode: "abc", Title: "Sunrise", User: "alice", Subreddit: "EarthPorn", Created: fresh}

	with := func(mod func(*Candidate)) Candidate {
		c := base
		mod(&c)
		return c
	}

	tests := []struct {
		name     string
		c        Candidate
		decision FilterDecision
		reason   string
	}{
		{"direct image", with(func(c *Candidate) { c.URL = "https://i.redd.it/abc.jpg" }), FilterKeep, ""},
		{"imgur page", with(func(c *Candidate) { c.URL = "https://imgur.com/abc" }), FilterKeep, ""},
		{"blank url", with(func(c *Candidate) { c.URL = "  " }), FilterDiscard, ReasonBlankURL},
		{"relative url", with(func(c *Candidate) { c.URL = "/r/pics/comments/abc" }), FilterDiscard, ReasonNoHost},
		{"youtube", with(func(c *Candidate) { c.URL = "https://www.youtube.com/watch?v=x" }), FilterDiscard, ReasonNonFileDomain},
		{"reddit video", with(func(c *Candidate) { c.URL = "https://v.redd.it/xyz" }), FilterDiscard, ReasonNonFileDomain},
		{"gfycat", with(func(c *Candidate) { c.URL = "https://gfycat.com/SomeThing" }), FilterDiscard, ReasonThrowawayDomain},
		{"over 18", with(func(c *Candidate) { c.URL = "https://i.redd.it/a.jpg"; c.Over18 = true }), FilterDiscard, ReasonOver18},
		{"self post", with(func(c *Candidate) { c.URL = "https://i.redd.it/a.jpg"; c.IsSelf = true }), FilterDiscard, ReasonSelfPost},
		{"cross-post", with(func(c *Candidate) { c.URL = "https://www.reddit.com/r/pics/comments/abc/x" }), FilterDiscard, ReasonCrossPost},
		{"trailing slash", with(func(c *Candidate) { c.URL = "https://example.com/gallery/" }), FilterDiscard, ReasonNonFile},
		{"gifv", with(func(c *Candidate) { c.URL = "https://i.imgur.com/abc.gifv" }), FilterDiscard, ReasonGIF},
		{"gif", with(func(c *Candidate) { c.URL = "https://i.redd.it/abc.GIF" }), FilterDiscard, ReasonGIF},
		{"too old", with(func(c *Candidate) { c.URL = "https://i.redd.it/a.jpg"; c.Created = now.Add(-8 * 24 * time.Hour) }), FilterDiscard, ReasonTooOld},
		{"unknown age", with(func(c *Candidate) { c.URL = "https://i.redd.it/a.jpg"; c.Created = time.Time{} }), FilterKeep, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, reason := f.Check(tt.c)
			if decision != tt.decision || reason != tt.reason {
				t.Errorf("Check(%q) = (%v, %q), want (%v, %q)", tt.c.URL, decision, reason, tt.decision, tt.reason)
			}
		})
	}
}

func TestFilter_AllowOver18(t *testing.T) {
	f := NewFilter(true, 7, nil, nil)
	c := Candidate{URL: "https://i.redd.it/a.jpg", Over18: true, Created: time.Now()}
	if decision, reason := f.Check(c); decision != FilterKeep {
		t.Errorf("expected over 18 content to pass when allowed, got %q", reason)
	}
}

func TestFilter_ApplyKeepsOrder(t *testing.T) {
	f := NewFilter(false, 7, nil, nil)
	now := time.Now()
	in := []Candidate{
		{Postcode: "a", URL: "https://i.redd.it/a.jpg", Created: now},
		{Postcode: "b", URL: "https://v.redd.it/b", Created: now},
		{Postcode: "c", URL: "https://i.redd.it/c.png", Created: now},
	}

	out := f.Apply(in)
	if len(out) != 2 || out[0].Postcode != "a" || out[1].Postcode != "c" {
		t.Fatalf("Apply() = %+v, want a and c", out)
	}
}
