package dedup_test

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/luoliAsyns/Gateway/pkg/dedup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// N concurrent deliveries of the same tid must yield exactly one winner.
func TestMemoryStore_ConcurrentDuplicates(t *testing.T) {
	store := dedup.NewMemoryStore()

	const n = 64
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TryAccept(context.Background(), "T1")
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)

	// A different tid is unaffected.
	ok, err := store.TryAccept(context.Background(), "T2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_ReleaseReopensTid(t *testing.T) {
	store := dedup.NewMemoryStore()

	ok, err := store.TryAccept(context.Background(), "T1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Release(context.Background(), "T1"))

	ok, err = store.TryAccept(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgresStore_FirstAcceptWins(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	insert := regexp.QuoteMeta(`INSERT INTO received_orders (tid, accepted_at)
		 VALUES ($1, $2)
		 ON CONFLICT (tid) DO NOTHING`)

	mock.ExpectExec(insert).
		WithArgs("T1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).
		WithArgs("T1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := dedup.NewPostgresStore(db)

	ok, err := store.TryAccept(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryAccept(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Release(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM received_orders WHERE tid = $1`)).
		WithArgs("T1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := dedup.NewPostgresStore(db)
	require.NoError(t, store.Release(context.Background(), "T1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Cleanup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM received_orders WHERE accepted_at < $1`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 17))

	store := dedup.NewPostgresStore(db)
	require.NoError(t, store.Cleanup(context.Background(), 30*24*time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}
