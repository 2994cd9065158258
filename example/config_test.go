package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tryfix/log"
	"github.com/tryfix/schemaregistry/v3"
)

func TestLoadConfig(t *testing.T) {
	conf, err := LoadConfig(strings.NewReader(`
store:
  type: bolt
  path: /tmp/schemas.db
log_level: DEBUG
compatibility: FULL_TRANSITIVE
remote:
  url: http://localhost:8081
  subjects: [a, b]
  interval: 30s
`))
	require.NoError(t, err)

	assert.Equal(t, `bolt`, conf.Store.Type)
	assert.Equal(t, `/tmp/schemas.db`, conf.Store.Path)
	assert.Equal(t, log.DEBUG, conf.Level())
	assert.Equal(t, schemaregistry.CompatibilityFullAll, conf.Mode())
	assert.Equal(t, []string{`a`, `b`}, conf.Remote.Subjects)
	assert.Equal(t, 30*time.Second, conf.Remote.Interval)
}

func TestLoadConfig_Defaults(t *testing.T) {
	conf, err := LoadConfigFile(``)
	require.NoError(t, err)

	assert.Equal(t, `memory`, conf.Store.Type)
	assert.Equal(t, log.INFO, conf.Level())
	assert.Equal(t, schemaregistry.CompatibilityBackward, conf.Mode())
	assert.Empty(t, conf.Remote.URL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		`unknown store`:     "store:\n  type: redis\n",
		`bolt without path`: "store:\n  type: bolt\n",
		`postgres no dsn`:   "store:\n  type: postgres\n",
		`unknown mode`:      "compatibility: sideways\n",
		`malformed`:         "store: [\n",
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(strings.NewReader(raw))
			assert.Error(t, err)
		})
	}
}

func TestConfig_OpenStore(t *testing.T) {
	ctx := context.Background()

	conf, err := LoadConfig(strings.NewReader("store:\n  type: bolt\n  path: " + filepath.Join(t.TempDir(), `schemas.db`) + "\n"))
	require.NoError(t, err)

	store, err := conf.OpenStore(ctx)
	require.NoError(t, err)

	registry, err := schemaregistry.NewRegistry(schemaregistry.WithStore(store), schemaregistry.WithLogger(log.NewNoopLogger()))
	require.NoError(t, err)
	defer registry.Close()

	require.NoError(t, demo(ctx, registry, log.NewNoopLogger()))

	schemas, err := registry.ListSchemas(ctx, schemaregistry.ListOptions{Tags: map[string]string{`team`: `orders`}})
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, 2, schemas[0].LatestVersion)
}
