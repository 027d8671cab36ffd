package summaryservice

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/configuration"
	"github.com/RobsonDevCode/advidex/internal/notify"
	"github.com/RobsonDevCode/advidex/internal/storage"
	"github.com/RobsonDevCode/advidex/internal/vulnerabilities"
)

// ChangeType classifies how a project's latest scan relates to its last
// reported one.
type ChangeType string

const (
	// ChangeNew is a project scanned for the first time.
	ChangeNew ChangeType = "NEW"
	// ChangeStale means the reported scan is newer than anything current,
	// nothing fresh to say.
	ChangeStale ChangeType = "STALE"
	// ChangeExamined means the latest scan was already reported on.
	ChangeExamined ChangeType = "EXAMINED"
	// ChangeFound is a fresh scan with a diffable predecessor.
	ChangeFound ChangeType = "FOUND"
)

// Delta is the severity movement between two scans of the same project tag.
type Delta struct {
	Severe int
	Minor  int
	Total  int
}

// NewsEntry is one advisory not present in the previously reported scan.
type NewsEntry struct {
	ID       string
	Severity models.Severity
}

// Change is the per project tag outcome of a diff run.
type Change struct {
	Project   string
	Tag       string
	Type      ChangeType
	Current   Delta
	Changes   Delta
	News      []NewsEntry
	Timestamp time.Time
}

// NewsItem aggregates one new advisory across every project it showed up in.
type NewsItem struct {
	Severity models.Severity
	Impact   map[string][]string
}

type SummaryService interface {
	LatestChanges(ctx context.Context) ([]Change, error)
	SendNews(ctx context.Context, changes []Change) (int, error)
	MarkExamined(ctx context.Context, changes []Change) error
}

// Summarizer reports on scan results: it diffs every project's latest scan
// against the last one reported on, fans newly seen advisories out to the
// notifier and marks the scans as reported so the next run stays quiet
// unless something changed.
type Summarizer struct {
	store    storage.Store
	notifier notify.Notifier
	projects []configuration.ProjectConfig
}

func NewSummarizer(store storage.Store, notifier notify.Notifier, projects []configuration.ProjectConfig) *Summarizer {
	return &Summarizer{
		store:    store,
		notifier: notifier,
		projects: projects,
	}
}

// scanDoc is ScanRecord plus the reported marker kept on the stored form.
type scanDoc struct {
	vulnerabilities.ScanRecord
	Examined bool `json:"examined,omitempty"`
}

// LatestChanges diffs, for every enabled project and every tag it has scans
// for, the newest scan against the newest already examined one.
func (s *Summarizer) LatestChanges(ctx context.Context) ([]Change, error) {
	scans, err := s.loadScans(ctx)
	if err != nil {
		return nil, err
	}

	type pair struct{ project, tag string }
	grouped := map[pair][]scanDoc{}
	for _, scan := range scans {
		key := pair{scan.Project, scan.Tag}
		grouped[key] = append(grouped[key], scan)
	}

	enabled := map[string]bool{}
	for _, project := range s.projects {
		if !project.Disabled {
			enabled[project.Name] = true
		}
	}

	keys := make([]pair, 0, len(grouped))
	for key := range grouped {
		if len(s.projects) > 0 && !enabled[key.project] {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].project != keys[j].project {
			return keys[i].project < keys[j].project
		}
		return keys[i].tag < keys[j].tag
	})

	var changes []Change
	for _, key := range keys {
		group := grouped[key]
		sort.Slice(group, func(i, j int) bool {
			a, b := group[i].Timestamp, group[j].Timestamp
			if !a.Commit.Equal(b.Commit) {
				return a.Commit.After(b.Commit)
			}
			return a.Scan.After(b.Scan)
		})

		current := &group[0]
		var previous *scanDoc
		for i := range group {
			if group[i].Examined {
				previous = &group[i]
				break
			}
		}

		change := diffScans(current, previous)
		change.Project = key.project
		change.Tag = key.tag
		changes = append(changes, change)
	}

	return changes, nil
}

// diffScans ports the reporting decision table: first sighting is NEW, a
// reported scan newer than the current one is STALE, an unchanged latest is
// EXAMINED, and everything else is FOUND with a delta and the advisories
// the previous report had never seen.
func diffScans(current, previous *scanDoc) Change {
	if previous == nil {
		return Change{
			Type:      ChangeNew,
			Current:   countDelta(current.Count),
			Changes:   countDelta(current.Count),
			News:      newsEntries(current, nil),
			Timestamp: current.Timestamp.Scan,
		}
	}

	if previous.Timestamp.Scan.After(current.Timestamp.Scan) {
		return Change{
			Type:      ChangeStale,
			Current:   countDelta(previous.Count),
			Timestamp: previous.Timestamp.Scan,
		}
	}

	if previous.Timestamp.Commit.After(current.Timestamp.Commit) ||
		(previous.Timestamp.Commit.Equal(current.Timestamp.Commit) && !current.Timestamp.Scan.After(previous.Timestamp.Scan)) {
		return Change{
			Type:      ChangeExamined,
			Current:   countDelta(previous.Count),
			Timestamp: previous.Timestamp.Scan,
		}
	}

	return Change{
		Type:    ChangeFound,
		Current: countDelta(current.Count),
		Changes: Delta{
			Severe: current.Count.Severe - previous.Count.Severe,
			Minor:  current.Count.Minor - previous.Count.Minor,
			Total:  current.Count.Severe + current.Count.Minor - previous.Count.Severe - previous.Count.Minor,
		},
		News:      newsEntries(current, previous),
		Timestamp: current.Timestamp.Scan,
	}
}

func countDelta(count vulnerabilities.Count) Delta {
	return Delta{Severe: count.Severe, Minor: count.Minor, Total: count.Severe + count.Minor}
}

// newsEntries returns the non excluded advisories of the current scan that
// share no alias with any advisory of the previous one.
func newsEntries(current, previous *scanDoc) []NewsEntry {
	known := map[string]bool{}
	if previous != nil {
		for _, vuln := range previous.Vulnerabilities {
			if vuln.Excluded != "" {
				continue
			}
			for _, alias := range vuln.Aliases {
				known[alias] = true
			}
		}
	}

	var news []NewsEntry
	for _, vuln := range current.Vulnerabilities {
		if vuln.Excluded != "" || len(vuln.Aliases) == 0 {
			continue
		}

		seen := false
		for _, alias := range vuln.Aliases {
			if known[alias] {
				seen = true
				break
			}
		}
		if seen {
			continue
		}

		news = append(news, NewsEntry{ID: vuln.Aliases[0], Severity: vuln.Severity})
	}

	return news
}

// ExtractNews folds the per scan news into one item per advisory with the
// projects and tags it impacts.
func ExtractNews(changes []Change) map[string]NewsItem {
	items := map[string]NewsItem{}
	for _, change := range changes {
		for _, entry := range change.News {
			item, ok := items[entry.ID]
			if !ok {
				item = NewsItem{Severity: entry.Severity, Impact: map[string][]string{}}
			}
			item.Impact[change.Project] = append(item.Impact[change.Project], change.Tag)
			items[entry.ID] = item
		}
	}
	return items
}

// SendNews posts one notification per newly seen advisory and returns how
// many were sent.
func (s *Summarizer) SendNews(ctx context.Context, changes []Change) (int, error) {
	news := ExtractNews(changes)
	if len(news) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(news))
	for id := range news {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		item := news[id]

		projects := make([]string, 0, len(item.Impact))
		for project := range item.Impact {
			projects = append(projects, project)
		}
		sort.Strings(projects)

		marker := ":warning:"
		if item.Severity == models.SeverityCritical || item.Severity == models.SeverityHigh {
			marker = ":alert:"
		}

		noun := "projects"
		if len(projects) == 1 {
			noun = "project"
		}

		body := fmt.Sprintf("Impacted %s:\n", noun)
		for _, project := range projects {
			body += fmt.Sprintf("■ %s\n", project)
		}

		if err := s.notifier.Notify(ctx, fmt.Sprintf("%s %s", marker, id), body); err != nil {
			return 0, fmt.Errorf("error notifying about %s: %w", id, err)
		}
	}

	return len(news), nil
}

// MarkExamined flags every scan at or before each change's timestamp as
// reported, so it becomes the diff baseline for the next run.
func (s *Summarizer) MarkExamined(ctx context.Context, changes []Change) error {
	cutoffs := map[string]time.Time{}
	for _, change := range changes {
		if change.Timestamp.IsZero() {
			continue
		}
		cutoffs[change.Project+"\x00"+change.Tag] = change.Timestamp
	}
	if len(cutoffs) == 0 {
		return nil
	}

	scans, err := s.loadScans(ctx)
	if err != nil {
		return err
	}

	var updated []any
	var touched bool
	for _, scan := range scans {
		cutoff, ok := cutoffs[scan.Project+"\x00"+scan.Tag]
		if ok && !scan.Examined && !scan.Timestamp.Scan.After(cutoff) {
			scan.Examined = true
			touched = true
		}
		updated = append(updated, scan)
	}
	if !touched {
		return nil
	}

	// The store has no in place update. Replace swaps the whole collection
	// in one transaction, so a failed rewrite keeps the previous records.
	if err := s.store.Replace(ctx, vulnerabilities.ScanCollection, updated); err != nil {
		return fmt.Errorf("error rewriting scan records: %w", err)
	}

	return nil
}

func (s *Summarizer) loadScans(ctx context.Context) ([]scanDoc, error) {
	hits, err := storage.SearchAll(ctx, s.store, vulnerabilities.ScanCollection, storage.Query{}, 1000)
	if err != nil {
		return nil, fmt.Errorf("error loading scan records: %w", err)
	}

	scans := make([]scanDoc, 0, len(hits))
	for _, hit := range hits {
		var scan scanDoc
		if err := json.Unmarshal(hit, &scan); err != nil {
			continue
		}
		scans = append(scans, scan)
	}

	return scans, nil
}
