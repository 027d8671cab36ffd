package models

import (
	"errors"
	"strings"
	"time"
)

// Typed reject reasons raised by the feed parsers. A rejected record is
// dropped and counted, it never aborts a batch.
var (
	ErrMissingID  = errors.New("MISSING_ID")
	ErrNoPackage  = errors.New("NO_PACKAGE")
	ErrNoVersions = errors.New("NO_VERSIONS")
	ErrBadVersion = errors.New("BAD_VERSION")
)

type Severity string

const (
	SeverityUndefined Severity = "UNDEFINED"
	SeverityLow       Severity = "LOW"
	SeverityMedium    Severity = "MEDIUM"
	SeverityHigh      Severity = "HIGH"
	SeverityCritical  Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityUndefined: 0,
	SeverityLow:       1,
	SeverityMedium:    2,
	SeverityHigh:      3,
	SeverityCritical:  4,
}

func (s Severity) Rank() int {
	return severityRank[s]
}

// HighestSeverity returns the highest ranked severity, an empty value never
// outranks a set one.
func HighestSeverity(severities ...Severity) Severity {
	var highest Severity
	for _, severity := range severities {
		if severity == "" {
			continue
		}
		if highest == "" || severity.Rank() > highest.Rank() {
			highest = severity
		}
	}
	return highest
}

type Timestamp struct {
	Publish time.Time `json:"publish,omitzero"`
	Scan    time.Time `json:"scan,omitzero"`
	Commit  time.Time `json:"commit,omitzero"`
}

// Product describes one piece of software an advisory claims to affect.
// Name carries the vendor qualified form "vendor/package" when a vendor is
// known, Package then holds the bare package name.
type Product struct {
	Vendor    string   `json:"vendor,omitempty"`
	Name      string   `json:"name"`
	Package   string   `json:"package,omitempty"`
	Version   string   `json:"version,omitempty"`
	Ecosystem string   `json:"ecosystem,omitempty"`
	Source    []string `json:"source,omitempty"`
}

// Key is the product identity used to deduplicate during merge.
func (p Product) Key() string {
	return p.Vendor + "//" + p.Name + "//" + p.Version
}

// Advisory is the canonical record for one vulnerability after merging every
// feed's view of it.
type Advisory struct {
	ID          string    `json:"id"`
	Aliases     []string  `json:"aliases"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Severity    Severity  `json:"severity,omitempty"`
	Products    []Product `json:"products,omitempty"`
	Source      []string  `json:"source,omitempty"`
	Ecosystem   []string  `json:"ecosystem,omitempty"`
	CPEs        []string  `json:"cpes,omitempty"`
	Withdrawn   bool      `json:"withdrawn,omitempty"`
	Timestamp   Timestamp `json:"timestamp,omitzero"`
}

// AddIdentifiers folds the given id and aliases into the advisory's alias set
// and recomputes the canonical id: the first CVE prefixed alias wins,
// otherwise the first alias.
func (a *Advisory) AddIdentifiers(id string, aliases ...string) {
	appendAlias := func(alias string) {
		if alias == "" {
			return
		}
		for _, known := range a.Aliases {
			if known == alias {
				return
			}
		}
		a.Aliases = append(a.Aliases, alias)
	}

	appendAlias(id)
	appendAlias(a.ID)
	for _, alias := range aliases {
		appendAlias(alias)
	}

	if strings.HasPrefix(a.ID, "CVE-") {
		return
	}

	for _, alias := range a.Aliases {
		if strings.HasPrefix(alias, "CVE-") {
			a.ID = alias
			return
		}
	}

	if a.ID == "" && len(a.Aliases) > 0 {
		a.ID = a.Aliases[0]
	}
}

// HasAnyAlias reports whether any of the given aliases is known to this
// advisory.
func (a *Advisory) HasAnyAlias(aliases []string) bool {
	for _, alias := range aliases {
		for _, known := range a.Aliases {
			if known == alias {
				return true
			}
		}
	}
	return false
}
