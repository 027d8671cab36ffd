package normalizer

import (
	"regexp"
	"strings"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
)

var (
	nonAlnumMatcher = regexp.MustCompile(`[^a-z0-9]+`)
	quoteMatcher    = regexp.MustCompile(`['"]+`)
	slashMatcher    = regexp.MustCompile(`[/\\]+`)
)

// Name lowercases a project or package name and collapses anything that is
// not alphanumeric into single dashes.
func Name(name string) string {
	lowered := strings.ToLower(name)
	lowered = quoteMatcher.ReplaceAllString(lowered, "")
	return nonAlnumMatcher.ReplaceAllString(lowered, "-")
}

// Tag makes a git tag safe for use as a key by replacing path separators.
func Tag(tag string) string {
	return slashMatcher.ReplaceAllString(tag, "-")
}

var versionBoundary = map[string]string{
	"(": ">",
	"[": ">=",
	")": "<",
	"]": "<=",
}

var (
	bracketShapeMatcher = regexp.MustCompile(`^[(\[].*[)\]]$`)
	intervalMatcher     = regexp.MustCompile(`([(\[])([^)\](\[,]*),([^)\](\[,]*)([)\]])`)
	fixedPointMatcher   = regexp.MustCompile(`\[([^)\](\[,]+)\]`)
)

type substitution struct {
	matcher   *regexp.Regexp
	replace   string
	firstOnly bool
}

// The order of these substitutions matters: longer, more specific phrases
// must run before the generic ones or they get partially corrupted.
var versionSubstitutions = []substitution{
	{matcher: regexp.MustCompile(`(?i)^(all( versions)?|Not fixed)$`), replace: "*"},
	{matcher: regexp.MustCompile(`(?i)^(and|reported for)\s+`), replace: ""},
	{matcher: regexp.MustCompile(`(?i)^all\s+(\w+\s+)?versions?\s*`), replace: ""},
	{matcher: regexp.MustCompile(`(?i)^Affected versions[:\s]+`), replace: ""},
	{matcher: regexp.MustCompile(`(?i)versions?\s+`), replace: "", firstOnly: true},
	{matcher: regexp.MustCompile(`(?i)ver.(\d)`), replace: "$1", firstOnly: true},
	{matcher: regexp.MustCompile(`(\d)\.x`), replace: "$1.*"},
	{matcher: regexp.MustCompile(`==`), replace: "="},
	{matcher: regexp.MustCompile(`(?i)^([<>]=?)v?(\d)`), replace: "$1$2"},
	{matcher: regexp.MustCompile(`(?i)^v?(\d+(?:[-.][^ ]+)?)$`), replace: "$1"},
	{matcher: regexp.MustCompile(`(?i)^(all )?(versions )?(before|prior to|up to) and including(\s+v(ersion)?)?\s*`), replace: "<="},
	{matcher: regexp.MustCompile(`(?i)^(all )?(versions )?(before|prior to|up to)(\s+v(ersion)?)?\s*`), replace: "<"},
	{matcher: regexp.MustCompile(`(?i)^v?(\d.+?) before v?(\d.+?)$`), replace: ">=$1 <$2"},
	{matcher: regexp.MustCompile(`(?i)^(?:[a-z]+\s+)?v?(\d.+?) and (earlier|below|prior)`), replace: "<=$1"},
	{matcher: regexp.MustCompile(`(?i)^fixed in v?`), replace: "<"},
	{matcher: regexp.MustCompile(`(?i)^(through|up to and including|≤) v?`), replace: "<="},
	{matcher: regexp.MustCompile(`(?i)^(?:all )?(?:versions )?after v?`), replace: ">"},
	{matcher: regexp.MustCompile(`,\s*([<>])`), replace: " $1"},
}

// Version turns a free text version expression from an advisory feed into
// the range grammar the matcher understands: whitespace separated comparison
// terms ANDed together, alternatives joined with " || ", bare "*" meaning any
// version. An empty input yields an empty range, not "*".
func Version(version string) string {
	if version == "" {
		return ""
	}

	if bracketShapeMatcher.MatchString(version) {
		return normalizeBracketRanges(version)
	}

	clean := version
	for _, sub := range versionSubstitutions {
		if sub.firstOnly {
			clean = replaceFirst(sub.matcher, clean, sub.replace)
		} else {
			clean = sub.matcher.ReplaceAllString(clean, sub.replace)
		}
	}

	return clean
}

// normalizeBracketRanges translates maven style interval notation, e.g.
// "(1.0,2.0]" into ">1.0 <=2.0" and the single point "[1.2.3]" into "=1.2.3".
// Comma separated interval groups become OR joined terms.
func normalizeBracketRanges(version string) string {
	var parts []string
	seen := map[string]bool{}
	add := func(part string) {
		if part == "" || seen[part] {
			return
		}
		seen[part] = true
		parts = append(parts, part)
	}

	for _, match := range intervalMatcher.FindAllStringSubmatch(version, -1) {
		var terms []string
		if match[2] != "" {
			terms = append(terms, versionBoundary[match[1]]+match[2])
		}
		if match[3] != "" {
			terms = append(terms, versionBoundary[match[4]]+match[3])
		}
		add(strings.Join(terms, " "))
	}

	for _, match := range fixedPointMatcher.FindAllStringSubmatch(version, -1) {
		add("=" + match[1])
	}

	return strings.Join(parts, " || ")
}

func replaceFirst(matcher *regexp.Regexp, s, replace string) string {
	loc := matcher.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + string(matcher.ExpandString(nil, replace, s, loc)) + s[loc[1]:]
}

var severityTable = map[string]models.Severity{
	"NONE":     models.SeverityUndefined,
	"LOW":      models.SeverityLow,
	"MEDIUM":   models.SeverityMedium,
	"MODERATE": models.SeverityMedium,
	"HIGH":     models.SeverityHigh,
	"CRITICAL": models.SeverityCritical,
}

// Severity maps a feed's severity string onto the canonical scale, unknown
// values default to UNDEFINED.
func Severity(severity string) models.Severity {
	if severity == "" {
		return models.SeverityUndefined
	}
	if mapped, ok := severityTable[strings.ToUpper(severity)]; ok {
		return mapped
	}
	return models.SeverityUndefined
}

var ecosystemTable = map[string]string{
	"rubygems": "gem",
	"crates":   "crates.io",
}

// Ecosystem lowercases a package ecosystem tag and resolves known synonyms.
func Ecosystem(ecosystem string) string {
	lowered := strings.ToLower(ecosystem)
	if mapped, ok := ecosystemTable[lowered]; ok {
		return mapped
	}
	return lowered
}
