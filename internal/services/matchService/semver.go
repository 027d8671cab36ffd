package matchservice

import (
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// versionCore pulls the first dotted numeric run out of a version string, so
// distro styled versions like "1.2.3-r0" or "v2.1" still land on a
// comparable semver triple.
var versionCore = regexp.MustCompile(`(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// coerce turns a raw dependency version into a comparable semver version,
// forgiving prefixes and build suffixes the generators leave in. Returns nil
// when nothing numeric can be found.
func coerce(raw string) *semver.Version {
	if version, err := semver.StrictNewVersion(raw); err == nil {
		return version
	}

	parts := versionCore.FindStringSubmatch(raw)
	if parts == nil {
		return nil
	}

	core := parts[1]
	if parts[2] != "" {
		core += "." + parts[2]
	} else {
		core += ".0"
	}
	if parts[3] != "" {
		core += "." + parts[3]
	} else {
		core += ".0"
	}

	version, err := semver.NewVersion(core)
	if err != nil {
		return nil
	}
	return version
}

// satisfies reports whether a coerced version falls inside a normalized
// range. The "*" range matches any version. Unparseable ranges never match.
func satisfies(version *semver.Version, versionRange string) bool {
	if versionRange == "*" {
		return true
	}
	if version == nil {
		return false
	}

	constraint, err := semver.NewConstraint(versionRange)
	if err != nil {
		return false
	}
	return constraint.Check(version)
}
