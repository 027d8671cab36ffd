package vulnerabilities

import (
	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/exclusions"
)

const (
	// Collection holds one finding per (advisory, package) pair per scan.
	Collection = "vulnerabilities"
	// ScanCollection holds one summary record per matching run of a scan.
	ScanCollection = "scans"
)

type FindingPackage struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Ecosystem string `json:"ecosystem,omitempty"`
	Purl      string `json:"purl,omitempty"`
}

// Finding is one advisory applying to one package of a scanned project.
type Finding struct {
	ID        string            `json:"id"`
	Aliases   []string          `json:"aliases,omitempty"`
	Title     string            `json:"title,omitempty"`
	Severity  models.Severity   `json:"severity,omitempty"`
	Package   FindingPackage    `json:"package"`
	Project   string            `json:"project"`
	Tag       string            `json:"tag"`
	Hash      string            `json:"hash"`
	Excluded  exclusions.Reason `json:"excluded,omitempty"`
	Timestamp models.Timestamp  `json:"timestamp,omitzero"`
}

// DedupeKey makes a package satisfy an advisory through at most one finding
// per scan, no matter how many products matched.
func (f Finding) DedupeKey() string {
	return f.ID + "#" + f.Package.Name + "#" + f.Package.Version + "#" + f.Project + "#" + f.Tag + "#" + f.Hash
}

// Count tallies non-excluded findings by weight class.
type Count struct {
	Severe int `json:"severe"`
	Minor  int `json:"minor"`
}

// ScanVuln is the per-finding slice kept on the scan record, enough for the
// summary diffing to work from scans alone.
type ScanVuln struct {
	Aliases  []string          `json:"aliases,omitempty"`
	Severity models.Severity   `json:"severity,omitempty"`
	Excluded exclusions.Reason `json:"excluded,omitempty"`
}

// ScanRecord summarizes one matching run over one (project, tag, hash).
type ScanRecord struct {
	Project         string           `json:"project"`
	Tag             string           `json:"tag"`
	Hash            string           `json:"hash"`
	Count           Count            `json:"count"`
	Vulnerabilities []ScanVuln       `json:"vulnerabilities,omitempty"`
	Skipped         int              `json:"skipped,omitempty"`
	Timestamp       models.Timestamp `json:"timestamp,omitzero"`
}
