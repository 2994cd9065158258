package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tryfix/schemaregistry/v3/compatibility"
)

func testSchema(name string) *SchemaRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &SchemaRecord{
		Name:          name,
		Format:        compatibility.FormatAvro,
		Compatibility: compatibility.ModeBackward,
		Description:   `orders`,
		Tags:          map[string]string{`team`: `payments`},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func testVersion(name string, number int) *VersionRecord {
	return &VersionRecord{
		ID:         uuid.Must(uuid.NewV7()),
		SchemaName: name,
		Number:     number,
		Definition: []byte(fmt.Sprintf(`{"type":"record","name":"v%d","fields":[]}`, number)),
		Format:     compatibility.FormatAvro,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

// runStoreSuite exercises the behaviour every Store backend must share
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run(`CreateAndGet`, func(t *testing.T) {
		s := open(t)

		rec := testSchema(`orders`)
		require.NoError(t, s.CreateSchema(ctx, rec))
		assert.ErrorIs(t, s.CreateSchema(ctx, testSchema(`orders`)), ErrExists)

		got, err := s.GetSchema(ctx, `orders`)
		require.NoError(t, err)
		assert.Equal(t, rec.Name, got.Name)
		assert.Equal(t, rec.Format, got.Format)
		assert.Equal(t, rec.Compatibility, got.Compatibility)
		assert.Equal(t, rec.Tags, got.Tags)
		assert.Equal(t, 0, got.LatestVersion)

		got.Tags[`team`] = `changed`
		again, err := s.GetSchema(ctx, `orders`)
		require.NoError(t, err)
		assert.Equal(t, `payments`, again.Tags[`team`])

		_, err = s.GetSchema(ctx, `missing`)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run(`CreateWithInitialVersions`, func(t *testing.T) {
		s := open(t)

		v1 := testVersion(`orders`, 1)
		require.NoError(t, s.CreateSchema(ctx, testSchema(`orders`), v1))

		got, err := s.GetSchema(ctx, `orders`)
		require.NoError(t, err)
		assert.Equal(t, 1, got.LatestVersion)

		byID, err := s.GetVersionByID(ctx, v1.ID)
		require.NoError(t, err)
		assert.Equal(t, v1.Definition, byID.Definition)

		// the next append continues the numbering
		require.NoError(t, s.AppendVersion(ctx, testVersion(`orders`, 2)))

		assert.ErrorIs(t, s.CreateSchema(ctx, testSchema(`gaps`), testVersion(`gaps`, 2)), ErrVersionConflict)
		_, err = s.GetSchema(ctx, `gaps`)
		assert.ErrorIs(t, err, ErrNotFound)

		// a taken version id leaves nothing behind
		taken := testVersion(`dup`, 1)
		taken.ID = v1.ID
		assert.ErrorIs(t, s.CreateSchema(ctx, testSchema(`dup`), taken), ErrExists)
		_, err = s.GetSchema(ctx, `dup`)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run(`Update`, func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateSchema(ctx, testSchema(`orders`)))

		upd := testSchema(`orders`)
		upd.Description = `new`
		upd.Tags = map[string]string{`env`: `prod`}
		upd.Compatibility = compatibility.ModeFull
		upd.Format = compatibility.FormatJSON
		require.NoError(t, s.UpdateSchema(ctx, upd))

		got, err := s.GetSchema(ctx, `orders`)
		require.NoError(t, err)
		assert.Equal(t, `new`, got.Description)
		assert.Equal(t, map[string]string{`env`: `prod`}, got.Tags)
		assert.Equal(t, compatibility.ModeFull, got.Compatibility)
		assert.Equal(t, compatibility.FormatAvro, got.Format)

		assert.ErrorIs(t, s.UpdateSchema(ctx, testSchema(`missing`)), ErrNotFound)
	})

	t.Run(`AppendVersions`, func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateSchema(ctx, testSchema(`orders`)))

		v1 := testVersion(`orders`, 1)
		require.NoError(t, s.AppendVersion(ctx, v1))
		assert.ErrorIs(t, s.AppendVersion(ctx, testVersion(`orders`, 1)), ErrVersionConflict)
		assert.ErrorIs(t, s.AppendVersion(ctx, testVersion(`orders`, 3)), ErrVersionConflict)
		require.NoError(t, s.AppendVersion(ctx, testVersion(`orders`, 2)))
		assert.ErrorIs(t, s.AppendVersion(ctx, testVersion(`missing`, 1)), ErrNotFound)

		rec, err := s.GetSchema(ctx, `orders`)
		require.NoError(t, err)
		assert.Equal(t, 2, rec.LatestVersion)

		got, err := s.GetVersion(ctx, `orders`, 1)
		require.NoError(t, err)
		assert.Equal(t, v1.ID, got.ID)
		assert.Equal(t, v1.Definition, got.Definition)

		byID, err := s.GetVersionByID(ctx, v1.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, byID.Number)
		assert.Equal(t, `orders`, byID.SchemaName)

		_, err = s.GetVersionByID(ctx, uuid.Must(uuid.NewV7()))
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetVersion(ctx, `orders`, 9)
		assert.ErrorIs(t, err, ErrNotFound)

		list, err := s.ListVersions(ctx, `orders`)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, 1, list[0].Number)
		assert.Equal(t, 2, list[1].Number)
	})

	t.Run(`DeleteVersions`, func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateSchema(ctx, testSchema(`orders`)))
		for i := 1; i <= 3; i++ {
			require.NoError(t, s.AppendVersion(ctx, testVersion(`orders`, i)))
		}

		v1, err := s.GetVersion(ctx, `orders`, 1)
		require.NoError(t, err)

		assert.ErrorIs(t, s.DeleteVersions(ctx, `orders`, []int{1, 7}), ErrNotFound)
		_, err = s.GetVersion(ctx, `orders`, 1)
		require.NoError(t, err, `failed deletes must not remove anything`)

		require.NoError(t, s.DeleteVersions(ctx, `orders`, []int{1, 2}))

		list, err := s.ListVersions(ctx, `orders`)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, 3, list[0].Number)

		_, err = s.GetVersionByID(ctx, v1.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		// numbers are never reused
		assert.ErrorIs(t, s.AppendVersion(ctx, testVersion(`orders`, 1)), ErrVersionConflict)
		require.NoError(t, s.AppendVersion(ctx, testVersion(`orders`, 4)))
	})

	t.Run(`DeleteSchema`, func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateSchema(ctx, testSchema(`orders`)))
		v1 := testVersion(`orders`, 1)
		require.NoError(t, s.AppendVersion(ctx, v1))

		require.NoError(t, s.DeleteSchema(ctx, `orders`))
		assert.ErrorIs(t, s.DeleteSchema(ctx, `orders`), ErrNotFound)

		_, err := s.GetVersionByID(ctx, v1.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.ListVersions(ctx, `orders`)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.CreateSchema(ctx, testSchema(`orders`)))
		require.NoError(t, s.AppendVersion(ctx, testVersion(`orders`, 1)))
	})

	t.Run(`ListSchemas`, func(t *testing.T) {
		s := open(t)
		for _, name := range []string{`payments.refund`, `orders.created`, `orders.cancelled`} {
			require.NoError(t, s.CreateSchema(ctx, testSchema(name)))
		}

		all, err := s.ListSchemas(ctx, ``)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, `orders.cancelled`, all[0].Name)
		assert.Equal(t, `orders.created`, all[1].Name)
		assert.Equal(t, `payments.refund`, all[2].Name)

		orders, err := s.ListSchemas(ctx, `orders.`)
		require.NoError(t, err)
		assert.Len(t, orders, 2)

		none, err := s.ListSchemas(ctx, `billing`)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run(`ConcurrentAppend`, func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateSchema(ctx, testSchema(`orders`)))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.AppendVersion(ctx, testVersion(`orders`, 1)); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
	})

	t.Run(`CancelledContext`, func(t *testing.T) {
		s := open(t)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		assert.Error(t, s.CreateSchema(cctx, testSchema(`orders`)))
	})
}
