package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/enrich"
	"github.com/JakeFAU/sitegraph/internal/pipeline"
)

func TestSummaryStoreHandleInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSummaryStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	res := pipeline.Result{
		SessionID:         "s1",
		URL:               "https://example.com",
		Domain:            "example.com",
		CrawledAt:         now,
		DurationMillis:    1200,
		TotalPagesCrawled: 5,
		TotalLinksFound:   40,
		UniquePathsFound:  20,
		Paths: []pipeline.PathSelection{
			{Path: "/", Allow: true},
			{Path: "/about", Allow: true},
		},
		Enrichment: []enrich.Record{{Path: "/"}},
		Gating:     pipeline.Gating{IsDemo: true, PageLimit: 5, RemainingPages: 15},
	}

	mock.ExpectExec("INSERT INTO crawl_summaries").
		WithArgs(
			"s1", "https://example.com", "example.com", now, int64(1200),
			5, 40, 20, 1, true, 5, 15,
			[]byte(`["/","/about"]`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Handle(context.Background(), res))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryStoreHandleWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSummaryStoreWithPool(mock, "summaries")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO summaries").WillReturnError(errors.New("connection reset"))

	err = store.Handle(context.Background(), pipeline.Result{SessionID: "s1"})
	require.ErrorContains(t, err, "insert summary")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryStoreRejectsEmptySession(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSummaryStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.Handle(context.Background(), pipeline.Result{}))
}

func TestSummaryStorePing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSummaryStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryStoreConstructorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewSummaryStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewSummaryStoreWithPool(mock, "bad;table")
	require.Error(t, err)

	_, err = NewSummaryStore(context.Background(), Config{})
	require.Error(t, err)
}
