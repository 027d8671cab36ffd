package exclusions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RobsonDevCode/advidex/internal/storage"
)

// Reason tags why a finding was excluded. Exclusions never delete a match,
// they only flag it and keep it out of the severity tally.
type Reason string

const (
	AtProject Reason = "AT_PROJECT"
	AtRule    Reason = "AT_RULE"
)

const (
	ProjectCollection = "excluded-advisories"
	RuleCollection    = "excluded-rules"
)

// ProjectExclusion suppresses advisories by alias for a whole project, or
// for one of its tags when Tag is set.
type ProjectExclusion struct {
	Aliases   []string  `json:"aliases"`
	Project   string    `json:"project"`
	Tag       string    `json:"tag,omitempty"`
	User      string    `json:"user,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// RuleExclusion suppresses advisories by alias for a package and version
// range, optionally limited to one ecosystem. An empty ecosystem means any.
type RuleExclusion struct {
	Aliases   []string  `json:"aliases"`
	Ecosystem string    `json:"ecosystem,omitempty"`
	Package   string    `json:"package"`
	Rule      string    `json:"rule"`
	User      string    `json:"user,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Key is the stable rule lookup format: ecosystem-or-*/package/version-range.
func (r RuleExclusion) Key() string {
	ecosystem := r.Ecosystem
	if ecosystem == "" {
		ecosystem = "*"
	}
	return ecosystem + "/" + r.Package + "/" + r.Rule
}

// Policy is the complete exclusion state, read wholesale before a matching
// run.
type Policy struct {
	projects map[string][]ProjectExclusion
	rules    map[string][]RuleExclusion
	byPkg    map[string][]RuleExclusion
}

// Load pulls both exclusion kinds from the store.
func Load(ctx context.Context, store storage.Store) (*Policy, error) {
	policy := &Policy{
		projects: map[string][]ProjectExclusion{},
		rules:    map[string][]RuleExclusion{},
		byPkg:    map[string][]RuleExclusion{},
	}

	projectDocs, err := storage.SearchAll(ctx, store, ProjectCollection, storage.Query{}, 1000)
	if err != nil {
		return nil, fmt.Errorf("error loading project exclusions: %w", err)
	}
	for _, doc := range projectDocs {
		var exclusion ProjectExclusion
		if err := json.Unmarshal(doc, &exclusion); err != nil {
			continue
		}
		policy.projects[exclusion.Project] = append(policy.projects[exclusion.Project], exclusion)
	}

	ruleDocs, err := storage.SearchAll(ctx, store, RuleCollection, storage.Query{}, 1000)
	if err != nil {
		return nil, fmt.Errorf("error loading rule exclusions: %w", err)
	}
	for _, doc := range ruleDocs {
		var exclusion RuleExclusion
		if err := json.Unmarshal(doc, &exclusion); err != nil {
			continue
		}
		policy.rules[exclusion.Key()] = append(policy.rules[exclusion.Key()], exclusion)
		policy.byPkg[exclusion.Package] = append(policy.byPkg[exclusion.Package], exclusion)
	}

	return policy, nil
}

// NewPolicy builds an in-memory policy, used by tests and by callers that
// already hold the rules.
func NewPolicy(projectExclusions []ProjectExclusion, ruleExclusions []RuleExclusion) *Policy {
	policy := &Policy{
		projects: map[string][]ProjectExclusion{},
		rules:    map[string][]RuleExclusion{},
		byPkg:    map[string][]RuleExclusion{},
	}
	for _, exclusion := range projectExclusions {
		policy.projects[exclusion.Project] = append(policy.projects[exclusion.Project], exclusion)
	}
	for _, exclusion := range ruleExclusions {
		policy.rules[exclusion.Key()] = append(policy.rules[exclusion.Key()], exclusion)
		policy.byPkg[exclusion.Package] = append(policy.byPkg[exclusion.Package], exclusion)
	}
	return policy
}

// RulesForPackage returns the rule exclusions declared for a package name.
func (p *Policy) RulesForPackage(pkg string) []RuleExclusion {
	return p.byPkg[pkg]
}

// ProjectRules returns the exclusions for a project and tag. Rules with no
// tag apply to every tag of the project.
func (p *Policy) ProjectRules(project, tag string) []ProjectExclusion {
	var matched []ProjectExclusion
	for _, exclusion := range p.projects[project] {
		if exclusion.Tag == "" || exclusion.Tag == tag {
			matched = append(matched, exclusion)
		}
	}
	return matched
}
