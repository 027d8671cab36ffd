package summaryservice

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/configuration"
	"github.com/RobsonDevCode/advidex/internal/exclusions"
	"github.com/RobsonDevCode/advidex/internal/storage"
	"github.com/RobsonDevCode/advidex/internal/vulnerabilities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func scan(commit, scanned time.Time, severe, minor int, vulns ...vulnerabilities.ScanVuln) *scanDoc {
	return &scanDoc{
		ScanRecord: vulnerabilities.ScanRecord{
			Project:         "web",
			Tag:             "origin/main",
			Count:           vulnerabilities.Count{Severe: severe, Minor: minor},
			Vulnerabilities: vulns,
			Timestamp:       models.Timestamp{Commit: commit, Scan: scanned},
		},
	}
}

func TestDiffScansFirstSighting(t *testing.T) {
	current := scan(base, base, 2, 1,
		vulnerabilities.ScanVuln{Aliases: []string{"CVE-2024-0001"}, Severity: models.SeverityHigh})

	change := diffScans(current, nil)
	assert.Equal(t, ChangeNew, change.Type)
	assert.Equal(t, Delta{Severe: 2, Minor: 1, Total: 3}, change.Current)
	assert.Equal(t, change.Current, change.Changes)
	require.Len(t, change.News, 1)
	assert.Equal(t, "CVE-2024-0001", change.News[0].ID)
}

func TestDiffScansStale(t *testing.T) {
	current := scan(base, base, 1, 0)
	previous := scan(base, base.Add(time.Hour), 3, 2)
	previous.Examined = true

	change := diffScans(current, previous)
	assert.Equal(t, ChangeStale, change.Type)
	// A stale report keeps showing the examined numbers.
	assert.Equal(t, Delta{Severe: 3, Minor: 2, Total: 5}, change.Current)
}

func TestDiffScansExamined(t *testing.T) {
	// Same commit rescanned later with nothing newer.
	current := scan(base, base, 1, 0)
	previous := scan(base, base, 1, 0)
	previous.Examined = true

	change := diffScans(current, previous)
	assert.Equal(t, ChangeExamined, change.Type)

	// The examined scan sits on a newer commit.
	current = scan(base, base.Add(time.Hour), 1, 0)
	previous = scan(base.Add(time.Minute), base, 1, 0)
	previous.Examined = true

	change = diffScans(current, previous)
	assert.Equal(t, ChangeExamined, change.Type)
}

func TestDiffScansFound(t *testing.T) {
	previous := scan(base, base, 1, 2,
		vulnerabilities.ScanVuln{Aliases: []string{"CVE-2024-0001", "GHSA-aaaa-bbbb-cccc"}, Severity: models.SeverityHigh})
	previous.Examined = true
	current := scan(base.Add(time.Hour), base.Add(time.Hour), 3, 1,
		vulnerabilities.ScanVuln{Aliases: []string{"GHSA-aaaa-bbbb-cccc"}, Severity: models.SeverityHigh},
		vulnerabilities.ScanVuln{Aliases: []string{"CVE-2024-0002"}, Severity: models.SeverityCritical})

	change := diffScans(current, previous)
	assert.Equal(t, ChangeFound, change.Type)
	assert.Equal(t, Delta{Severe: 3, Minor: 1, Total: 4}, change.Current)
	assert.Equal(t, Delta{Severe: 2, Minor: -1, Total: 1}, change.Changes)

	// The GHSA alias ties the first vuln back to the reported CVE, only the
	// genuinely new advisory makes the news.
	require.Len(t, change.News, 1)
	assert.Equal(t, "CVE-2024-0002", change.News[0].ID)
	assert.Equal(t, models.SeverityCritical, change.News[0].Severity)
}

func TestNewsEntriesSkipsExcluded(t *testing.T) {
	previous := scan(base, base, 0, 0,
		vulnerabilities.ScanVuln{Aliases: []string{"CVE-2024-0001"}, Excluded: exclusions.AtProject})
	current := scan(base, base, 0, 0,
		vulnerabilities.ScanVuln{Aliases: []string{"CVE-2024-0001"}},
		vulnerabilities.ScanVuln{Aliases: []string{"CVE-2024-0002"}, Excluded: exclusions.AtRule})

	news := newsEntries(current, previous)

	// An excluded previous finding is no baseline, and excluded current
	// findings never make the news themselves.
	require.Len(t, news, 1)
	assert.Equal(t, "CVE-2024-0001", news[0].ID)
}

func TestExtractNews(t *testing.T) {
	changes := []Change{
		{Project: "web", Tag: "origin/main", News: []NewsEntry{
			{ID: "CVE-2024-0001", Severity: models.SeverityHigh},
			{ID: "CVE-2024-0002", Severity: models.SeverityLow},
		}},
		{Project: "api", Tag: "v1.2", News: []NewsEntry{
			{ID: "CVE-2024-0001", Severity: models.SeverityHigh},
		}},
	}

	items := ExtractNews(changes)
	require.Len(t, items, 2)

	shared := items["CVE-2024-0001"]
	assert.Equal(t, models.SeverityHigh, shared.Severity)
	assert.Equal(t, map[string][]string{
		"web": {"origin/main"},
		"api": {"v1.2"},
	}, shared.Impact)

	assert.Equal(t, map[string][]string{"web": {"origin/main"}}, items["CVE-2024-0002"].Impact)
}

type fakeNotifier struct {
	subjects []string
	bodies   []string
}

func (f *fakeNotifier) Notify(_ context.Context, subject, body string) error {
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func TestSendNews(t *testing.T) {
	notifier := &fakeNotifier{}
	summarizer := NewSummarizer(nil, notifier, nil)

	changes := []Change{
		{Project: "web", Tag: "origin/main", News: []NewsEntry{
			{ID: "CVE-2024-0001", Severity: models.SeverityCritical},
			{ID: "CVE-2024-0002", Severity: models.SeverityLow},
		}},
		{Project: "api", Tag: "v1.2", News: []NewsEntry{
			{ID: "CVE-2024-0001", Severity: models.SeverityCritical},
		}},
	}

	sent, err := summarizer.SendNews(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	require.Len(t, notifier.subjects, 2)
	assert.Equal(t, ":alert: CVE-2024-0001", notifier.subjects[0])
	assert.Equal(t, ":warning: CVE-2024-0002", notifier.subjects[1])
	assert.Equal(t, "Impacted projects:\n■ api\n■ web\n", notifier.bodies[0])
	assert.Equal(t, "Impacted project:\n■ web\n", notifier.bodies[1])
}

func TestSendNewsNothingToSay(t *testing.T) {
	notifier := &fakeNotifier{}
	summarizer := NewSummarizer(nil, notifier, nil)

	sent, err := summarizer.SendNews(context.Background(), []Change{{Type: ChangeExamined}})
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, notifier.subjects)
}

func newSummaryEnv(t *testing.T, projects []configuration.ProjectConfig) (*Summarizer, *storage.SqliteStore) {
	t.Helper()

	store, err := storage.NewSqliteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewSummarizer(store, &fakeNotifier{}, projects), store
}

func TestLatestChangesAndMarkExamined(t *testing.T) {
	summarizer, store := newSummaryEnv(t, nil)
	ctx := context.Background()

	reported := scan(base, base, 1, 0,
		vulnerabilities.ScanVuln{Aliases: []string{"CVE-2024-0001"}, Severity: models.SeverityHigh})
	reported.Examined = true

	fresh := scan(base.Add(time.Hour), base.Add(time.Hour), 2, 0,
		vulnerabilities.ScanVuln{Aliases: []string{"CVE-2024-0001"}, Severity: models.SeverityHigh},
		vulnerabilities.ScanVuln{Aliases: []string{"CVE-2024-0002"}, Severity: models.SeverityCritical})

	firstTimer := scan(base, base, 0, 1,
		vulnerabilities.ScanVuln{Aliases: []string{"CVE-2024-0003"}, Severity: models.SeverityLow})
	firstTimer.Project = "api"

	require.NoError(t, store.IndexMany(ctx, vulnerabilities.ScanCollection,
		[]any{*reported, *fresh, *firstTimer}))

	changes, err := summarizer.LatestChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	// Groups come back sorted by project.
	assert.Equal(t, "api", changes[0].Project)
	assert.Equal(t, ChangeNew, changes[0].Type)

	assert.Equal(t, "web", changes[1].Project)
	assert.Equal(t, ChangeFound, changes[1].Type)
	require.Len(t, changes[1].News, 1)
	assert.Equal(t, "CVE-2024-0002", changes[1].News[0].ID)

	require.NoError(t, summarizer.MarkExamined(ctx, changes))

	// With the fresh scans now reported, the next run has nothing to say.
	changes, err = summarizer.LatestChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, ChangeExamined, changes[0].Type)
	assert.Equal(t, ChangeExamined, changes[1].Type)
}

func TestLatestChangesSkipsDisabledProjects(t *testing.T) {
	summarizer, store := newSummaryEnv(t, []configuration.ProjectConfig{
		{Name: "web"},
		{Name: "api", Disabled: true},
	})
	ctx := context.Background()

	webScan := scan(base, base, 1, 0)
	apiScan := scan(base, base, 1, 0)
	apiScan.Project = "api"

	require.NoError(t, store.IndexMany(ctx, vulnerabilities.ScanCollection,
		[]any{*webScan, *apiScan}))

	changes, err := summarizer.LatestChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "web", changes[0].Project)
}
