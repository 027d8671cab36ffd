package ingestservice

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RobsonDevCode/advidex/internal/advisories/catalog"
	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/advisories/sources"
	"github.com/RobsonDevCode/advidex/internal/configuration"
	"github.com/RobsonDevCode/advidex/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource stages a canned advisory, optionally failing a number of
// attempts first.
type fakeSource struct {
	name      string
	exclusive bool
	failures  int
	staging   *catalog.Cache
	advisory  *models.Advisory

	calls int
}

func (f *fakeSource) Name() string    { return f.name }
func (f *fakeSource) Exclusive() bool { return f.exclusive }

func (f *fakeSource) Fetch(_ context.Context, _ func(string)) (sources.FetchResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return sources.FetchResult{}, errors.New("mirror unreachable")
	}

	dir, err := f.staging.Init(f.name)
	if err != nil {
		return sources.FetchResult{}, err
	}
	if err := f.staging.Save(f.name, f.advisory); err != nil {
		return sources.FetchResult{}, err
	}

	return sources.FetchResult{StagingDir: dir, Fetched: 1, Staged: 1}, nil
}

func advisory(id string) *models.Advisory {
	return &models.Advisory{
		ID:       id,
		Aliases:  []string{id},
		Severity: models.SeverityHigh,
		Products: []models.Product{{Name: "foo", Version: "*"}},
	}
}

func newIngestEnv(t *testing.T, feeds []sources.Source, workers configuration.WorkerSettings) (*Ingestor, *storage.SqliteStore) {
	t.Helper()

	store, err := storage.NewSqliteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewIngestor(feeds, catalog.NewCache(t.TempDir()), store, workers, configuration.CatalogSettings{}), store
}

func TestIngestBuildsCatalogAndMovesAlias(t *testing.T) {
	staging := catalog.NewCache(t.TempDir())
	feeds := []sources.Source{
		&fakeSource{name: "one", staging: staging, advisory: advisory("CVE-2024-0001")},
		&fakeSource{name: "two", staging: staging, advisory: advisory("CVE-2024-0002")},
	}

	ingestor, store := newIngestEnv(t, feeds, configuration.WorkerSettings{Ingest: 2, RetryCount: 1})
	ctx := context.Background()

	report, err := ingestor.Ingest(ctx, nil)
	require.NoError(t, err)

	assert.Empty(t, report.Failed())
	assert.Equal(t, 2, report.Indexed)
	assert.True(t, strings.HasPrefix(report.Collection, catalog.Alias+"-"), report.Collection)

	// The alias reaches the freshly built collection.
	hits, err := store.Search(ctx, catalog.Alias, storage.Query{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestIngestRetriesFlakyFeed(t *testing.T) {
	staging := catalog.NewCache(t.TempDir())
	flaky := &fakeSource{name: "flaky", failures: 1, staging: staging, advisory: advisory("CVE-2024-0001")}

	ingestor, _ := newIngestEnv(t, []sources.Source{flaky},
		configuration.WorkerSettings{Ingest: 1, RetryCount: 3, RetryBackoff: time.Millisecond})

	report, err := ingestor.Ingest(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, report.Sources, 1)
	assert.Equal(t, 2, report.Sources[0].Attempts)
	assert.Equal(t, 1, report.Indexed)
}

func TestIngestSurvivesOneDeadFeed(t *testing.T) {
	staging := catalog.NewCache(t.TempDir())
	feeds := []sources.Source{
		&fakeSource{name: "dead", failures: 99, staging: staging, advisory: advisory("CVE-2024-0001")},
		&fakeSource{name: "alive", staging: staging, advisory: advisory("CVE-2024-0002")},
	}

	ingestor, _ := newIngestEnv(t, feeds,
		configuration.WorkerSettings{Ingest: 2, RetryCount: 2, RetryBackoff: time.Millisecond})

	report, err := ingestor.Ingest(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"dead"}, report.Failed())
	assert.Equal(t, 1, report.Indexed)
}

// panickySource stands in for a feed whose parser blows up instead of
// returning an error.
type panickySource struct{}

func (p *panickySource) Name() string    { return "panicky" }
func (p *panickySource) Exclusive() bool { return false }

func (p *panickySource) Fetch(_ context.Context, _ func(string)) (sources.FetchResult, error) {
	panic("malformed feed index")
}

func TestIngestSurvivesPanickingFeed(t *testing.T) {
	staging := catalog.NewCache(t.TempDir())
	feeds := []sources.Source{
		&panickySource{},
		&fakeSource{name: "alive", staging: staging, advisory: advisory("CVE-2024-0002")},
	}

	ingestor, _ := newIngestEnv(t, feeds,
		configuration.WorkerSettings{Ingest: 2, RetryCount: 1})

	report, err := ingestor.Ingest(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"panicky"}, report.Failed())
	assert.Equal(t, 1, report.Indexed)

	for _, source := range report.Sources {
		if source.Source == "panicky" {
			require.Error(t, source.Err)
			assert.Contains(t, source.Err.Error(), "panicked")
		}
	}
}

func TestIngestFailsWhenEveryFeedFails(t *testing.T) {
	staging := catalog.NewCache(t.TempDir())
	feeds := []sources.Source{
		&fakeSource{name: "dead", failures: 99, staging: staging, advisory: advisory("CVE-2024-0001")},
	}

	ingestor, _ := newIngestEnv(t, feeds,
		configuration.WorkerSettings{Ingest: 1, RetryCount: 2, RetryBackoff: time.Millisecond})

	_, err := ingestor.Ingest(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every advisory source failed")
}

func TestIngestNoSourcesConfigured(t *testing.T) {
	ingestor, _ := newIngestEnv(t, nil, configuration.WorkerSettings{Ingest: 1, RetryCount: 1})

	_, err := ingestor.Ingest(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no advisory sources configured")
}
