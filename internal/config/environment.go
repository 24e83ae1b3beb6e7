// internal/config/environment.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RID_LIMITS_POSTS or
// RID_RATE_LIMIT_SECONDS.
const EnvPrefix = "RID"

// loadDotEnv loads a .env file from the working directory when one exists.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env: %w", err)
	}
	return nil
}

func bindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}
