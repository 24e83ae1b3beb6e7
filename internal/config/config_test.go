package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "reddit_image_download.yaml", `
limits:
  posts: 50
  age: 3
paths:
  images: `+dir+`
processing:
  timestamp: false
rate-limit:
  seconds: 0.5
title-language-filter:
  character: "#"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, 50, cfg.Limits.Posts)
	assert.Equal(t, 120, cfg.Limits.Images)
	assert.Equal(t, 3, cfg.Limits.Age)
	assert.Equal(t, 33, cfg.PurgeAgeDays())
	assert.False(t, cfg.Processing.Timestamp)
	assert.True(t, cfg.Processing.Title)
	assert.Equal(t, 1920, cfg.Processing.Width)
	assert.Equal(t, 100, cfg.Processing.Quality)
	assert.InDelta(t, 0.5, cfg.RateLimit.Seconds, 1e-9)
	assert.Equal(t, "#", cfg.TitleFilter.Character)
	assert.True(t, cfg.TitleFilter.WholeWord)
	assert.Equal(t, "erase", cfg.SubredditFilter.Character)
	assert.Equal(t, "reddit", cfg.Feed.Kind)
	assert.Equal(t, "kjoneslol", cfg.Multireddit.User)
	assert.Equal(t, dir, cfg.Paths.Images)
	assert.Equal(t, filepath.Join(dir, StoreName), cfg.Paths.Database)
	assert.False(t, cfg.Allow.Over18)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conf.yaml", "paths:\n  images: "+dir+"\n")

	t.Setenv("RID_LIMITS_POSTS", "42")
	t.Setenv("RID_ALLOW_OVER18", "true")
	t.Setenv("RID_PATHS_DATABASE", filepath.Join(dir, "custom.db"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Limits.Posts)
	assert.True(t, cfg.Allow.Over18)
	assert.Equal(t, filepath.Join(dir, "custom.db"), cfg.Paths.Database)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"quality", "processing:\n  quality: 0\n"},
		{"feed kind", "feed:\n  kind: atom\n"},
		{"rss without url", "feed:\n  kind: rss\n"},
		{"mirror without bucket", "mirror:\n  endpoint: s3.example.com\n"},
		{"log level", "logging:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "bad.yaml", tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestReadCredentials(t *testing.T) {
	dir := t.TempDir()

	creds, err := ReadCredentials(writeFile(t, dir, "auth.txt", "client-id\n  client-secret  \nextra\n"))
	require.NoError(t, err)
	assert.Equal(t, "client-id", creds.ClientID)
	assert.Equal(t, "client-secret", creds.ClientSecret)

	_, err = ReadCredentials(writeFile(t, dir, "short.txt", "only-id\n"))
	assert.ErrorIs(t, err, ErrCredentials)

	_, err = ReadCredentials(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "reddit_images"), expandHome("~/reddit_images"))
	assert.Equal(t, "/srv/images", expandHome("/srv/images"))
	assert.Equal(t, "", expandHome(""))
}
