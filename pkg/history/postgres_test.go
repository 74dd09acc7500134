package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/travigo/vehiclefeed/pkg/database"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("vehiclefeed_test"),
		pgcontainer.WithUsername("test"),
		pgcontainer.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate postgres container: %s", err)
		}
	}()
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.OpenSQL("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, "postgres"))

	store, err := NewSQLStore(db, "postgres")
	require.NoError(t, err)
	defer store.Close()

	for range 2 {
		require.NoError(t, store.Append(ctx, record(t, "V1", 50.0)))
		require.NoError(t, store.Flush(ctx))
	}

	require.NoError(t, store.Append(ctx, record(t, "V2", 95.0)))
	assert.ErrorIs(t, store.Flush(ctx), ErrConstraintViolation)

	records, err := store.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "V1", records[0].VehicleID)
	assert.True(t, observed.Equal(records[0].Timestamp))
}
