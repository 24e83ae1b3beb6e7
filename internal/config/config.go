// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// FileName is the config file looked up in the user config directory,
	// without extension.
	FileName = "reddit_image_download"

	// StoreName is the default store file inside the images directory.
	StoreName = "reddit_image_download.db"
)

var ErrCredentials = errors.New("invalid credentials file")

type Feed struct {
	Kind string `mapstructure:"kind" validate:"oneof=reddit rss"`
	URL  string `mapstructure:"url"`
}

type Multireddit struct {
	User  string `mapstructure:"user"`
	Multi string `mapstructure:"multi"`
}

type Limits struct {
	Posts  int `mapstructure:"posts" validate:"min=1"`
	Images int `mapstructure:"images" validate:"min=0"`
	Age    int `mapstructure:"age" validate:"min=1"`
}

type Processing struct {
	Timestamp bool `mapstructure:"timestamp"`
	Title     bool `mapstructure:"title"`
	Username  bool `mapstructure:"username"`
	Subreddit bool `mapstructure:"subreddit"`
	Width     int  `mapstructure:"width" validate:"min=1"`
	Height    int  `mapstructure:"height" validate:"min=1"`
	Quality   int  `mapstructure:"quality" validate:"min=1,max=100"`
}

type Font struct {
	Name string  `mapstructure:"name"`
	Size float64 `mapstructure:"size" validate:"gt=0"`
}

// LanguageFilter configures censoring of one text field. Character is the
// replacement rune, or "erase" to drop matched words entirely.
type LanguageFilter struct {
	Filter    bool   `mapstructure:"filter"`
	Character string `mapstructure:"character"`
	WholeWord bool   `mapstructure:"wholeword"`
}

type Allow struct {
	Over18 bool `mapstructure:"over18"`
}

type Paths struct {
	Images   string `mapstructure:"images" validate:"required"`
	Database string `mapstructure:"database"`
}

type Logging struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max-size-mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max-backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max-age-days" validate:"min=0"`
}

type RateLimit struct {
	Seconds float64 `mapstructure:"seconds" validate:"gte=0"`
}

// Mirror is an optional S3-compatible copy of the images directory.
// An empty Endpoint disables it.
type Mirror struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access-key"`
	SecretKey string `mapstructure:"secret-key"`
	Bucket    string `mapstructure:"bucket" validate:"required_with=Endpoint"`
	UseSSL    bool   `mapstructure:"use-ssl"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

type Config struct {
	Feed            Feed           `mapstructure:"feed"`
	Multireddit     Multireddit    `mapstructure:"multireddit"`
	Limits          Limits         `mapstructure:"limits"`
	Processing      Processing     `mapstructure:"processing"`
	TitleFont       Font           `mapstructure:"title-font"`
	TimestampFont   Font           `mapstructure:"timestamp-font"`
	TitleFilter     LanguageFilter `mapstructure:"title-language-filter"`
	UserFilter      LanguageFilter `mapstructure:"user-language-filter"`
	SubredditFilter LanguageFilter `mapstructure:"subreddit-language-filter"`
	Allow           Allow          `mapstructure:"allow"`
	Paths           Paths          `mapstructure:"paths"`
	Logging         Logging        `mapstructure:"logging"`
	RateLimit       RateLimit      `mapstructure:"rate-limit"`
	Mirror          Mirror         `mapstructure:"mirror"`
	Schedule        string         `mapstructure:"schedule"`

	// File is the config file that was read, empty when only defaults apply.
	File string `mapstructure:"-"`
}

// PurgeAgeDays is the lastseen age after which posts are deleted outright.
func (c *Config) PurgeAgeDays() int {
	return c.Limits.Age + 30
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"feed.kind": "reddit",
		"feed.url":  "",

		"multireddit.user":  "kjoneslol",
		"multireddit.multi": "sfwpornnetwork",

		"limits.posts":  250,
		"limits.images": 120,
		"limits.age":    7,

		"processing.timestamp": true,
		"processing.title":     true,
		"processing.username":  true,
		"processing.subreddit": true,
		"processing.width":     1920,
		"processing.height":    1080,
		"processing.quality":   100,

		"title-font.name":     "/usr/share/fonts/truetype/roboto/hinted/Roboto-Black.ttf",
		"title-font.size":     28,
		"timestamp-font.name": "/usr/share/fonts/truetype/roboto/hinted/Roboto-Black.ttf",
		"timestamp-font.size": 12,

		"subreddit-language-filter.filter":    true,
		"subreddit-language-filter.character": "erase",
		"subreddit-language-filter.wholeword": false,
		"user-language-filter.filter":         true,
		"user-language-filter.character":      "*",
		"user-language-filter.wholeword":      false,
		"title-language-filter.filter":        true,
		"title-language-filter.character":     "*",
		"title-language-filter.wholeword":     true,

		"allow.over18": false,

		"paths.images":   "~/reddit_images",
		"paths.database": "",

		"logging.level":        "info",
		"logging.path":         "",
		"logging.max-size-mb":  100,
		"logging.max-backups":  3,
		"logging.max-age-days": 7,

		"rate-limit.seconds": 2,

		"mirror.endpoint":   "",
		"mirror.access-key": "",
		"mirror.secret-key": "",
		"mirror.bucket":     "",
		"mirror.use-ssl":    true,
		"mirror.region":     "",
		"mirror.prefix":     "",

		"schedule": "",
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load reads configuration from path, or from the user config directory
// when path is empty. Defaults apply to every key not set by the file or
// the environment.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	bindEnvironment(v)

	if path != "" {
		v.SetConfigFile(expandHome(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(FileName)
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	cfg.Paths.Images = expandHome(cfg.Paths.Images)
	if cfg.Paths.Database == "" {
		cfg.Paths.Database = filepath.Join(cfg.Paths.Images, StoreName)
	}
	cfg.Paths.Database = expandHome(cfg.Paths.Database)
	cfg.Logging.Path = expandHome(cfg.Logging.Path)
	cfg.TitleFont.Name = expandHome(cfg.TitleFont.Name)
	cfg.TimestampFont.Name = expandHome(cfg.TimestampFont.Name)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the cross-section rules.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Feed.Kind {
	case "reddit":
		if c.Multireddit.User == "" || c.Multireddit.Multi == "" {
			return fmt.Errorf("invalid config: multireddit user and multi are required for the reddit feed")
		}
	case "rss":
		if err := validate.Var(c.Feed.URL, "required,url"); err != nil {
			return fmt.Errorf("invalid config: feed.url: %w", err)
		}
	}
	return nil
}

// Credentials are the API client id and secret.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// ReadCredentials reads a credentials file: client id on the first line,
// client secret on the second.
func ReadCredentials(path string) (Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("error opening credentials: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return Credentials{}, fmt.Errorf("error reading credentials: %w", err)
	}
	if len(lines) < 2 || lines[0] == "" || lines[1] == "" {
		return Credentials{}, fmt.Errorf("%w: %s needs a client id and a client secret line", ErrCredentials, path)
	}
	return Credentials{ClientID: lines[0], ClientSecret: lines[1]}, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
