package sources

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/RobsonDevCode/advidex/internal/advisories/catalog"
	"github.com/RobsonDevCode/advidex/internal/advisories/parsers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestArchiveSourceFetchStagesRecords(t *testing.T) {
	archive := feedArchive(t, map[string]string{
		"advisories/GHSA-aaaa-bbbb-cccc.json": `{
			"id": "GHSA-aaaa-bbbb-cccc",
			"aliases": ["CVE-2021-1234"],
			"affected": [{
				"package": {"name": "foo", "ecosystem": "npm"},
				"ranges": [{"type": "ECOSYSTEM", "events": [{"introduced": "0"}]}]
			}]
		}`,
		"advisories/empty.json": `{}`,
		"advisories/README.md":  "not a record",
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	parser, ok := parsers.Get("github")
	require.True(t, ok)

	source := &archiveSource{
		name:    "test-feed",
		url:     server.URL,
		parser:  parser,
		client:  NewFeedClient(nil),
		staging: catalog.NewCache(t.TempDir()),
	}

	result, err := source.Fetch(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 1, result.Staged)
	assert.Equal(t, map[string]int{"MISSING_ID": 1}, result.Rejected)
	assert.Empty(t, result.Revision)

	// The GHSA alias was promoted to its CVE id on the way into staging.
	_, err = os.Stat(filepath.Join(result.StagingDir, "CVE-2021-1234.json"))
	assert.NoError(t, err)
}

func TestRevisionURL(t *testing.T) {
	url, ok := revisionURL("https://codeload.github.com/CVEProject/cvelist/tar.gz/refs/heads/master")
	require.True(t, ok)
	assert.Equal(t, "https://api.github.com/repos/CVEProject/cvelist/commits/master", url)

	_, ok = revisionURL("https://gitlab.com/gitlab-org/advisories-community/-/archive/main/advisories-community-main.tar.gz")
	assert.False(t, ok)
}

func TestBuildFallsBackToDefaultFeeds(t *testing.T) {
	built, err := Build(nil, NewFeedClient(nil), catalog.NewCache(t.TempDir()))
	require.NoError(t, err)
	assert.Len(t, built, 4)
}
