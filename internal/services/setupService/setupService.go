package setupservice

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/RobsonDevCode/advidex/internal/configuration"
	"gopkg.in/yaml.v3"
)

// CreateConfigFile writes a starter configuration with the default feeds so
// ingest can run straight after setup. Refuses to clobber an existing file.
func CreateConfigFile(path string, projects []string) error {
	if path == "" {
		path = configuration.FilePath
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration already exists at %s", path)
	}

	config := configuration.Default()
	config.Sources = []configuration.SourceConfig{
		{Name: "CVEProject", Format: "cve", URL: "https://codeload.github.com/CVEProject/cvelist/tar.gz/refs/heads/master"},
		{Name: "CloudSecurityAlliance", Format: "gsd", URL: "https://codeload.github.com/cloudsecurityalliance/gsd-database/tar.gz/refs/heads/main", Exclusive: true},
		{Name: "GitLabAdvisory", Format: "gitlab", URL: "https://gitlab.com/gitlab-org/advisories-community/-/archive/main/advisories-community-main.tar.gz"},
		{Name: "GitHubAdvisory", Format: "github", URL: "https://codeload.github.com/github/advisory-database/tar.gz/refs/heads/main"},
	}
	for _, project := range projects {
		config.Projects = append(config.Projects, configuration.ProjectConfig{
			Name: project,
			Tags: []string{"origin/main"},
		})
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("error marshalling configuration, %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating directory for %s, %w", path, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing file at %s, %w", path, err)
	}

	return nil
}
