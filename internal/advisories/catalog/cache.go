package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
)

// Alias is the stable collection name readers query. Each ingest run builds
// a fresh timestamped collection and repoints the alias when done.
const Alias = "advisories"

// Cache is the per source staging area: one JSON file per advisory id under
// a directory per source. A feed refresh wipes and repopulates its own
// directory, canonical advisories are only built later, from the union of
// every directory.
type Cache struct {
	root string
}

func NewCache(root string) *Cache {
	if root == "" {
		root = filepath.Join(os.TempDir(), "advidex-staging")
	}
	return &Cache{root: root}
}

// Init empties and returns the staging directory for a source.
func (c *Cache) Init(source string) (string, error) {
	dir := filepath.Join(c.root, source)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("error clearing staging dir for %s: %w", source, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating staging dir for %s: %w", source, err)
	}
	return dir, nil
}

// Save writes advisories into the source's staging directory, merging into
// any already staged record with the same id.
func (c *Cache) Save(source string, advisories ...*models.Advisory) error {
	for _, advisory := range advisories {
		if advisory.ID == "" {
			return models.ErrMissingID
		}

		dest := filepath.Join(c.root, source, advisory.ID+".json")

		if existing, err := readAdvisory(dest); err == nil {
			Merge(advisory, existing)
		}

		if err := writeAdvisory(dest, advisory); err != nil {
			return err
		}
	}

	return nil
}

// Finalize runs the two phase batch over every staged record. Phase one is a
// single left to right pass building the alias to canonical key pointer map:
// a record sharing any alias with an already seen group joins that group,
// otherwise its own id starts a new one. The pass is deliberately order
// dependent, it is not a transitive closure over the whole batch. Phase two
// merges each group onto its first enumerated file, computes withdrawn and
// the ecosystem union, stamps the scan time and emits the canonical record.
func (c *Cache) Finalize(dirs []string, emit func(advisory *models.Advisory) error) error {
	if len(dirs) == 0 {
		return nil
	}

	now := time.Now().UTC()

	idPointers := map[string]string{}
	groups := map[string][]string{}
	var groupOrder []string

	for _, dir := range dirs {
		files, err := listStagedFiles(dir)
		if err != nil {
			return err
		}

		for _, file := range files {
			record, err := readAdvisory(file)
			if err != nil {
				return fmt.Errorf("error reading staged record %s: %w", file, err)
			}

			canonical := ""
			for _, alias := range record.Aliases {
				if pointer, seen := idPointers[alias]; seen {
					canonical = pointer
					break
				}
			}
			if canonical == "" {
				canonical = record.ID
			}

			for _, alias := range record.Aliases {
				idPointers[alias] = canonical
			}

			if _, seen := groups[canonical]; !seen {
				groupOrder = append(groupOrder, canonical)
			}
			groups[canonical] = append(groups[canonical], file)
		}
	}

	for _, key := range groupOrder {
		files := groups[key]

		record, err := readAdvisory(files[0])
		if err != nil {
			return fmt.Errorf("error reading merge base %s: %w", files[0], err)
		}
		os.Remove(files[0])

		for _, other := range files[1:] {
			leaf, err := readAdvisory(other)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return fmt.Errorf("error reading group member %s: %w", other, err)
			}
			Merge(record, leaf)
			os.Remove(other)
		}

		if record.ID == "" {
			// Structural failure of this one advisory, not of the run.
			continue
		}

		if IsWithdrawn(record) {
			record.Withdrawn = true
		}

		for _, product := range record.Products {
			record.Ecosystem = appendMissing(record.Ecosystem, product.Ecosystem)
		}

		record.Timestamp.Scan = now

		if err := emit(record); err != nil {
			return err
		}
	}

	return nil
}

// listStagedFiles enumerates a staging directory in a fixed order so merge
// results are deterministic across runs over the same staged set.
func listStagedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading staging dir %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)

	return files, nil
}

func readAdvisory(path string) (*models.Advisory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var advisory models.Advisory
	if err := json.Unmarshal(data, &advisory); err != nil {
		return nil, fmt.Errorf("error unmarshalling %s: %w", path, err)
	}

	return &advisory, nil
}

func writeAdvisory(path string, advisory *models.Advisory) error {
	data, err := json.Marshal(advisory)
	if err != nil {
		return fmt.Errorf("error marshalling advisory %s: %w", advisory.ID, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error staging advisory %s: %w", advisory.ID, err)
	}

	return nil
}
