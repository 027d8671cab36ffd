package sbom

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/storage"
)

// Dependency is one resolved package of a project at a given commit, as
// produced by the SBOM generator. Records are written once per scan and
// never mutated.
type Dependency struct {
	Project   string           `json:"project"`
	Tag       string           `json:"tag"`
	Hash      string           `json:"hash"`
	Package   string           `json:"package"`
	Version   string           `json:"version"`
	Ecosystem string           `json:"ecosystem,omitempty"`
	Purl      string           `json:"purl,omitempty"`
	Timestamp models.Timestamp `json:"timestamp,omitzero"`
}

// ScanRef identifies one immutable SBOM snapshot.
type ScanRef struct {
	Project string
	Tag     string
	Hash    string
}

func (r ScanRef) String() string {
	return fmt.Sprintf("%s@%s #%s", r.Project, r.Tag, r.Hash)
}

// Inventory is the dependency-inventory collaborator: it supplies the
// dependency records the matcher works from. Generating them is out of our
// hands.
type Inventory interface {
	Scans(ctx context.Context) ([]ScanRef, error)
	Dependencies(ctx context.Context, ref ScanRef) ([]Dependency, error)
}

const Collection = "sbom"

// StoreInventory reads dependency records previously indexed into the
// document store.
type StoreInventory struct {
	store storage.Store
}

func NewStoreInventory(store storage.Store) *StoreInventory {
	return &StoreInventory{store: store}
}

func (s *StoreInventory) Scans(ctx context.Context) ([]ScanRef, error) {
	tuples, err := s.store.Uniques(ctx, Collection, "project", "tag", "hash")
	if err != nil {
		return nil, fmt.Errorf("error listing sbom scans: %w", err)
	}

	refs := make([]ScanRef, 0, len(tuples))
	for _, tuple := range tuples {
		refs = append(refs, ScanRef{
			Project: tuple["project"],
			Tag:     tuple["tag"],
			Hash:    tuple["hash"],
		})
	}

	return refs, nil
}

func (s *StoreInventory) Dependencies(ctx context.Context, ref ScanRef) ([]Dependency, error) {
	hits, err := storage.SearchAll(ctx, s.store, Collection, storage.Query{
		Must: []storage.Filter{
			{Field: "project", Value: ref.Project},
			{Field: "tag", Value: ref.Tag},
			{Field: "hash", Value: ref.Hash},
		},
	}, 1000)
	if err != nil {
		return nil, fmt.Errorf("error loading dependencies for %s: %w", ref, err)
	}

	dependencies := make([]Dependency, 0, len(hits))
	for _, hit := range hits {
		var dependency Dependency
		if err := json.Unmarshal(hit, &dependency); err != nil {
			// A malformed record is skipped, not fatal to the scan.
			continue
		}
		dependencies = append(dependencies, dependency)
	}

	return dependencies, nil
}

// LoadFile indexes a JSON lines SBOM export into the store, standing in for
// the external generator at the interface boundary. Returns the number of
// indexed records.
func LoadFile(ctx context.Context, store storage.Store, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("error opening sbom file %s: %w", path, err)
	}
	defer file.Close()

	var docs []any
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var dependency Dependency
		if err := json.Unmarshal(line, &dependency); err != nil {
			return 0, fmt.Errorf("error parsing sbom line: %w", err)
		}
		docs = append(docs, dependency)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	if err := store.IndexMany(ctx, Collection, docs); err != nil {
		return 0, err
	}

	return len(docs), nil
}
