package ingestservice

import (
	"context"
	"fmt"
	"time"

	"github.com/RobsonDevCode/advidex/internal/advisories/catalog"
	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/advisories/sources"
	"github.com/RobsonDevCode/advidex/internal/configuration"
	"github.com/RobsonDevCode/advidex/internal/storage"
	"github.com/RobsonDevCode/advidex/internal/workerpool"
)

// SourceReport is one feed's outcome within a refresh run.
type SourceReport struct {
	Source     string
	StagingDir string
	Revision   string
	Fetched    int
	Staged     int
	Rejected   map[string]int
	Err        error
	Attempts   int
}

// Report sums up one full refresh: every feed's outcome plus what ended up
// in the catalog.
type Report struct {
	Sources    []SourceReport
	Collection string
	Indexed    int
	Elapsed    time.Duration
}

// Failed lists the feeds that did not complete after retries.
func (r Report) Failed() []string {
	var failed []string
	for _, source := range r.Sources {
		if source.Err != nil {
			failed = append(failed, source.Source)
		}
	}
	return failed
}

type IngestService interface {
	Ingest(ctx context.Context, progress func(message string)) (Report, error)
}

// Ingestor refreshes the advisory catalog: it fetches every configured feed
// on a bounded worker pool, merges the staged records into canonical
// advisories and swaps the catalog alias onto the freshly built collection.
type Ingestor struct {
	sources  []sources.Source
	staging  *catalog.Cache
	store    storage.Store
	workers  configuration.WorkerSettings
	batching configuration.CatalogSettings
}

func NewIngestor(feeds []sources.Source, staging *catalog.Cache, store storage.Store, workers configuration.WorkerSettings, batching configuration.CatalogSettings) *Ingestor {
	return &Ingestor{
		sources:  feeds,
		staging:  staging,
		store:    store,
		workers:  workers,
		batching: batching,
	}
}

// Ingest runs one full refresh. A feed that keeps failing after its retries
// is dropped from this run and reported; the other feeds still land. The
// alias only moves once the new collection is fully indexed, readers never
// see a half built catalog.
func (i *Ingestor) Ingest(ctx context.Context, progress func(message string)) (Report, error) {
	started := time.Now()
	report := Report{}

	if len(i.sources) == 0 {
		return report, fmt.Errorf("no advisory sources configured")
	}

	pool := workerpool.New(i.workers.Ingest)
	defer pool.Close()

	results := make(chan SourceReport, len(i.sources))

	for index, source := range i.sources {
		if index > 0 && i.workers.StaggerSeconds > 0 {
			// Feeds live on a handful of hosts, give each a head start so the
			// downloads do not all open at once.
			time.Sleep(time.Duration(i.workers.StaggerSeconds) * time.Second)
		}

		var fetched sources.FetchResult
		var attempts int

		submitted := pool.Submit(&workerpool.Task{
			Name:      source.Name(),
			Exclusive: source.Exclusive(),
			Run: func(taskProgress func(string)) error {
				var err error
				fetched, attempts, err = i.fetchWithRetry(ctx, source, taskProgress)
				return err
			},
			OnProgress: progress,
			// The pool fires OnComplete even when a fetch panics, so the
			// report goes out on that path and one broken feed cannot leave
			// the collector below waiting forever.
			OnComplete: func(err error) {
				results <- SourceReport{
					Source:     source.Name(),
					StagingDir: fetched.StagingDir,
					Revision:   fetched.Revision,
					Fetched:    fetched.Fetched,
					Staged:     fetched.Staged,
					Rejected:   fetched.Rejected,
					Err:        err,
					Attempts:   attempts,
				}
			},
		})
		if !submitted {
			return report, fmt.Errorf("worker pool closed while submitting %s", source.Name())
		}
	}

	var dirs []string
	for range i.sources {
		result := <-results
		report.Sources = append(report.Sources, result)

		if result.Err != nil {
			if progress != nil {
				progress(fmt.Sprintf("%s: failed after %d attempts: %v", result.Source, result.Attempts, result.Err))
			}
			continue
		}

		dirs = append(dirs, result.StagingDir)
		if progress != nil {
			progress(fmt.Sprintf("%s: staged %d of %d records", result.Source, result.Staged, result.Fetched))
		}
	}

	if len(dirs) == 0 {
		report.Elapsed = time.Since(started)
		return report, fmt.Errorf("every advisory source failed")
	}

	collection, indexed, err := i.index(ctx, dirs, progress)
	report.Collection = collection
	report.Indexed = indexed
	report.Elapsed = time.Since(started)
	if err != nil {
		return report, err
	}

	return report, nil
}

// fetchWithRetry runs one feed fetch with a fixed backoff between bounded
// attempts.
func (i *Ingestor) fetchWithRetry(ctx context.Context, source sources.Source, progress func(string)) (sources.FetchResult, int, error) {
	var lastErr error

	for attempt := 1; attempt <= i.workers.RetryCount; attempt++ {
		result, err := source.Fetch(ctx, progress)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if attempt < i.workers.RetryCount {
			select {
			case <-time.After(i.workers.RetryBackoff):
			case <-ctx.Done():
				return sources.FetchResult{}, attempt, ctx.Err()
			}
		}
	}

	return sources.FetchResult{}, i.workers.RetryCount, lastErr
}

// index builds the new catalog collection from the staged directories and
// moves the alias onto it.
func (i *Ingestor) index(ctx context.Context, dirs []string, progress func(string)) (string, int, error) {
	collection := fmt.Sprintf("%s-%s", catalog.Alias, time.Now().UTC().Format("20060102-150405"))

	batchSize := i.batching.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	indexed := 0
	batch := make([]any, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := i.store.IndexMany(ctx, collection, batch); err != nil {
			return fmt.Errorf("error indexing advisories: %w", err)
		}
		indexed += len(batch)
		batch = batch[:0]
		return nil
	}

	err := i.staging.Finalize(dirs, func(advisory *models.Advisory) error {
		batch = append(batch, *advisory)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
			if progress != nil {
				progress(fmt.Sprintf("catalog: indexed %d advisories", indexed))
			}
		}
		return nil
	})
	if err != nil {
		return "", indexed, err
	}
	if err := flush(); err != nil {
		return "", indexed, err
	}

	if err := i.store.PointAlias(ctx, catalog.Alias, collection, true); err != nil {
		return "", indexed, fmt.Errorf("error moving catalog alias: %w", err)
	}

	return collection, indexed, nil
}
