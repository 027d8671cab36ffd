package sources

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/RobsonDevCode/advidex/internal/advisories/catalog"
	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/RobsonDevCode/advidex/internal/advisories/parsers"
	"github.com/RobsonDevCode/advidex/internal/configuration"
)

// Source is the fetch collaborator for one advisory feed: it pulls the
// feed's raw records, parses them and populates a staging directory with one
// JSON file per vulnerability. Transient failures surface as errors and are
// retried by the orchestration layer, not in here.
type Source interface {
	Name() string
	Exclusive() bool
	Fetch(ctx context.Context, progress func(message string)) (FetchResult, error)
}

// FetchResult reports where the staged records landed and how the raw feed
// broke down. Revision is the feed's branch head at fetch time, when the
// feed host exposes one.
type FetchResult struct {
	StagingDir string
	Fetched    int
	Staged     int
	Rejected   map[string]int
	Revision   string
}

var defaultFeeds = []configuration.SourceConfig{
	{Name: "CVEProject", Format: "cve", URL: "https://codeload.github.com/CVEProject/cvelist/tar.gz/refs/heads/master"},
	{Name: "CloudSecurityAlliance", Format: "gsd", URL: "https://codeload.github.com/cloudsecurityalliance/gsd-database/tar.gz/refs/heads/main", Exclusive: true},
	{Name: "GitLabAdvisory", Format: "gitlab", URL: "https://gitlab.com/gitlab-org/advisories-community/-/archive/main/advisories-community-main.tar.gz"},
	{Name: "GitHubAdvisory", Format: "github", URL: "https://codeload.github.com/github/advisory-database/tar.gz/refs/heads/main"},
}

// Build turns the configured feed list into sources. An empty list yields
// the default feeds.
func Build(configs []configuration.SourceConfig, client *FeedClient, staging *catalog.Cache) ([]Source, error) {
	if len(configs) == 0 {
		configs = defaultFeeds
	}

	var built []Source
	for _, config := range configs {
		if config.Disabled {
			continue
		}

		parser, ok := parsers.Get(config.Format)
		if !ok {
			return nil, fmt.Errorf("unknown feed format %q for source %s", config.Format, config.Name)
		}

		built = append(built, &archiveSource{
			name:      config.Name,
			url:       config.URL,
			exclusive: config.Exclusive,
			parser:    parser,
			client:    client,
			staging:   staging,
		})
	}

	return built, nil
}

// archiveSource downloads a feed published as a tar.gz tree of JSON records
// and stages every parseable advisory.
type archiveSource struct {
	name      string
	url       string
	exclusive bool
	parser    parsers.Parser
	client    *FeedClient
	staging   *catalog.Cache
}

func (s *archiveSource) Name() string    { return s.name }
func (s *archiveSource) Exclusive() bool { return s.exclusive }

func (s *archiveSource) Fetch(ctx context.Context, progress func(message string)) (FetchResult, error) {
	result := FetchResult{Rejected: map[string]int{}}

	dir, err := s.staging.Init(s.name)
	if err != nil {
		return result, err
	}
	result.StagingDir = dir

	// A feed whose metadata endpoint is unreachable still ingests, just
	// without a recorded revision.
	if metaURL, ok := revisionURL(s.url); ok {
		var head struct {
			SHA string `json:"sha"`
		}
		if err := s.client.GetJSON(ctx, metaURL, &head); err == nil && head.SHA != "" {
			result.Revision = head.SHA
			if progress != nil {
				progress(fmt.Sprintf("[%s]\tbranch head %s", s.name, head.SHA))
			}
		}
	}

	body, err := s.client.Download(ctx, s.url)
	if err != nil {
		return result, fmt.Errorf("error downloading %s: %w", s.name, err)
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return result, fmt.Errorf("error decompressing %s: %w", s.name, err)
	}
	defer gz.Close()

	archive := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		header, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("error reading %s archive: %w", s.name, err)
		}

		if header.Typeflag != tar.TypeReg || !strings.HasSuffix(header.Name, ".json") {
			continue
		}

		raw, err := io.ReadAll(archive)
		if err != nil {
			return result, fmt.Errorf("error reading %s entry %s: %w", s.name, header.Name, err)
		}

		result.Fetched++

		advisory, err := s.parser.Parse(raw)
		if err != nil {
			result.Rejected[rejectReason(err)]++
			continue
		}

		if err := s.staging.Save(s.name, advisory); err != nil {
			return result, fmt.Errorf("error staging %s record %s: %w", s.name, advisory.ID, err)
		}
		result.Staged++

		if progress != nil && result.Fetched%10000 == 0 {
			progress(fmt.Sprintf("[%s]\tprocessed %d records, staged %d", s.name, result.Fetched, result.Staged))
		}
	}

	return result, nil
}

var codeloadMatcher = regexp.MustCompile(`^https://codeload\.github\.com/([^/]+)/([^/]+)/tar\.gz/refs/heads/(.+)$`)

// revisionURL maps a codeload archive URL onto the API endpoint reporting
// the branch head commit. Feeds hosted elsewhere have no revision lookup.
func revisionURL(archiveURL string) (string, bool) {
	m := codeloadMatcher.FindStringSubmatch(archiveURL)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("https://api.github.com/repos/%s/%s/commits/%s", m[1], m[2], m[3]), true
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrMissingID):
		return "MISSING_ID"
	case errors.Is(err, models.ErrNoPackage):
		return "NO_PACKAGE"
	case errors.Is(err, models.ErrNoVersions):
		return "NO_VERSIONS"
	case errors.Is(err, models.ErrBadVersion):
		return "BAD_VERSION"
	default:
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return "MALFORMED"
		}
		return "PARSE_FAILURE"
	}
}
