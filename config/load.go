package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/stokaro/behave/core/metadata"
)

// EnvPrefix prefixes environment variables read by Load, e.g. BEHAVE_DSN.
const EnvPrefix = "BEHAVE"

// File is the content of a behave configuration file.
//
// Example (YAML):
//
//	dsn: file:app.db
//	dialect: sqlite
//	max_slug_suffix: 500
//	entities:
//	  category:
//	    tree:
//	      parent: parent_id
//	      left: lft
//	      right: rgt
//	      level: lvl
//	    slugs:
//	      - field: slug
//	        sources: [title]
//
// Entity names are matched case-insensitively and stored in lower case.
type File struct {
	DSN           string                    `mapstructure:"dsn"`
	Dialect       string                    `mapstructure:"dialect"`
	MaxSlugSuffix int                       `mapstructure:"max_slug_suffix"`
	DefaultLocale string                    `mapstructure:"default_locale"`
	Entities      map[string]metadata.Entry `mapstructure:"entities"`
}

// Load reads a configuration file (YAML, JSON or TOML, by extension) and
// overlays BEHAVE_* environment variables. An empty path reads the
// environment only.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("dsn", "")
	v.SetDefault("dialect", "")
	v.SetDefault("max_slug_suffix", DefaultMaxSlugSuffix)
	v.SetDefault("default_locale", DefaultLocale)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &f, nil
}

// Options returns the engine options described by the file.
func (f *File) Options() *Options {
	return (&Options{
		MaxSlugSuffix: f.MaxSlugSuffix,
		DefaultLocale: f.DefaultLocale,
	}).OrDefault()
}

// Source exposes the entity section as a metadata source.
func (f *File) Source() metadata.Source {
	src := make(metadata.MapSource, len(f.Entities))
	for name, e := range f.Entities {
		src[strings.ToLower(name)] = e
	}
	return src
}
