package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meikuraledutech/flow/storetest"
	"github.com/stretchr/testify/require"
)

// pgStorage joins the store with the notification writer on the same pool.
type pgStorage struct {
	*PGStore
	*NotificationWriter
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("FLOW_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FLOW_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	storetest.TestStore(t, func(t *testing.T) storetest.Storage {
		s := New(pool)
		require.NoError(t, s.DropSchema(ctx))
		require.NoError(t, s.CreateSchema(ctx))
		return pgStorage{PGStore: s, NotificationWriter: NewNotificationWriter(pool)}
	})
}
