package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/schemaregistry/v3"
	"github.com/tryfix/schemaregistry/v3/compatibility"
	"github.com/tryfix/schemaregistry/v3/storage"
	"gopkg.in/yaml.v3"
)

// Config describes the store, logging and optional remote import of the demo
type Config struct {
	Store         StoreConfig  `yaml:"store"`
	LogLevel      string       `yaml:"log_level"`
	Compatibility string       `yaml:"compatibility"`
	Remote        RemoteConfig `yaml:"remote"`
}

type StoreConfig struct {
	// Type is one of memory, bolt or postgres
	Type   string `yaml:"type"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
	Shards int    `yaml:"shards"`
}

type RemoteConfig struct {
	URL      string        `yaml:"url"`
	Subjects []string      `yaml:"subjects"`
	Interval time.Duration `yaml:"interval"`
}

// LoadConfig reads a YAML config and applies the defaults
func LoadConfig(r io.Reader) (*Config, error) {
	c := new(Config)
	if err := yaml.NewDecoder(r).Decode(c); err != nil && err != io.EOF {
		return nil, errors.WithPrevious(err, `cannot decode config`)
	}

	if c.Store.Type == `` {
		c.Store.Type = `memory`
	}

	if c.LogLevel == `` {
		c.LogLevel = `info`
	}

	if c.Compatibility == `` {
		c.Compatibility = string(compatibility.ModeBackward)
	}

	if _, err := compatibility.ParseMode(c.Compatibility); err != nil {
		return nil, err
	}

	switch c.Store.Type {
	case `memory`:
	case `bolt`:
		if c.Store.Path == `` {
			return nil, errors.New(`bolt store requires a path`)
		}
	case `postgres`:
		if c.Store.DSN == `` {
			return nil, errors.New(`postgres store requires a dsn`)
		}
	default:
		return nil, errors.New(fmt.Sprintf(`unknown store type [%s]`, c.Store.Type))
	}

	return c, nil
}

// LoadConfigFile reads the config at path, an empty path yields the defaults
func LoadConfigFile(path string) (*Config, error) {
	if path == `` {
		return LoadConfig(strings.NewReader(``))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot open config`)
	}
	defer f.Close()

	return LoadConfig(f)
}

func (c *Config) Level() log.Level {
	switch strings.ToLower(c.LogLevel) {
	case `trace`:
		return log.TRACE
	case `debug`:
		return log.DEBUG
	case `warn`:
		return log.WARN
	case `error`:
		return log.ERROR
	}

	return log.INFO
}

func (c *Config) Mode() schemaregistry.CompatibilityMode {
	m, _ := compatibility.ParseMode(c.Compatibility)
	return m
}

// OpenStore opens the configured Schema Store backend
func (c *Config) OpenStore(ctx context.Context) (storage.Store, error) {
	switch c.Store.Type {
	case `bolt`:
		return storage.OpenBoltStore(c.Store.Path)
	case `postgres`:
		return storage.OpenPostgresStore(ctx, c.Store.DSN)
	}

	return storage.NewMemoryStore(c.Store.Shards), nil
}
