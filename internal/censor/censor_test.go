package censor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddit-image-download/internal/config"
	"reddit-image-download/internal/harvest"
)

var testWords = []string{"darn", "heck"}

func TestField_Modes(t *testing.T) {
	whole := newField("title", config.LanguageFilter{Filter: true, Character: "*", WholeWord: true}, testWords)
	assert.Equal(t, "What the **** is this", whole.apply("What the heck is this"))
	assert.Equal(t, "Checkpoint", whole.apply("Checkpoint"))
	assert.Equal(t, "****, DARNit", whole.apply("Darn, DARNit"))

	substring := newField("user", config.LanguageFilter{Filter: true, Character: "#"}, testWords)
	assert.Equal(t, "####it_fan", substring.apply("darnit_fan"))

	erase := newField("subreddit", config.LanguageFilter{Filter: true, Character: EraseCharacter}, []string{"porn"})
	assert.Equal(t, "Earth", erase.apply("EarthPorn"))

	off := newField("title", config.LanguageFilter{Filter: false, Character: "*"}, testWords)
	assert.Equal(t, "heck", off.apply("heck"))
}

func TestWords_DropsTwoLetterWords(t *testing.T) {
	words := Words()
	require.NotEmpty(t, words)
	for _, w := range words {
		assert.Greater(t, len([]rune(w)), 2, w)
	}
}

func TestCensor_PostsKeepsOrder(t *testing.T) {
	c := New(
		config.LanguageFilter{Filter: true, Character: "*", WholeWord: true},
		config.LanguageFilter{Filter: true, Character: "*"},
		config.LanguageFilter{Filter: true, Character: EraseCharacter},
		[]string{"heck", "porn"},
		nil,
	)

	var in []harvest.Candidate
	for i := 0; i < 50; i++ {
		in = append(in, harvest.Candidate{
			Postcode:  fmt.Sprintf("p%d", i),
			Title:     fmt.Sprintf("Photo %d heck", i),
			User:      fmt.Sprintf("heckler%d", i),
			Subreddit: "CityPorn",
		})
	}

	out, err := c.Posts(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 50)
	for i, p := range out {
		assert.Equal(t, fmt.Sprintf("p%d", i), p.Postcode)
		assert.Equal(t, fmt.Sprintf("Photo %d ****", i), p.Title)
		assert.Equal(t, fmt.Sprintf("****ler%d", i), p.User)
		assert.Equal(t, "City", p.Subreddit)
	}

	assert.Equal(t, "Photo 0 heck", in[0].Title, "input must not be modified")
	assert.Equal(t, out[3], c.Post(in[3]))
}

func TestCensor_PostsCancelled(t *testing.T) {
	c := New(config.LanguageFilter{Filter: true, Character: "*"}, config.LanguageFilter{}, config.LanguageFilter{}, testWords, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Posts(ctx, []harvest.Candidate{{Title: "heck"}})
	assert.ErrorIs(t, err, context.Canceled)
}
