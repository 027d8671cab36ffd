package catalog

import (
	"testing"

	"github.com/RobsonDevCode/advidex/internal/advisories/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stagedAdvisory(id string, aliases ...string) *models.Advisory {
	advisory := &models.Advisory{}
	advisory.AddIdentifiers(id, aliases...)
	return advisory
}

func finalizeAll(t *testing.T, cache *Cache, dirs []string) []*models.Advisory {
	t.Helper()

	var emitted []*models.Advisory
	err := cache.Finalize(dirs, func(advisory *models.Advisory) error {
		emitted = append(emitted, advisory)
		return nil
	})
	require.NoError(t, err)
	return emitted
}

func TestFinalizeChainsAliasesAcrossRecords(t *testing.T) {
	cache := NewCache(t.TempDir())
	dir, err := cache.Init("test")
	require.NoError(t, err)

	// Enumeration order is the sorted file names: CVE-..., GHSA-..., GO-....
	// A links X to Y, B links Y to Z, so C lands in X's group through the
	// pointer chain even though it shares nothing with A directly.
	a := stagedAdvisory("CVE-2024-0001", "GHSA-aaaa-bbbb-cccc")
	b := stagedAdvisory("GHSA-aaaa-bbbb-cccc", "GO-2024-1234")
	c := stagedAdvisory("GO-2024-1234")
	require.NoError(t, cache.Save("test", a, b, c))

	emitted := finalizeAll(t, cache, []string{dir})

	require.Len(t, emitted, 1)
	assert.Equal(t, "CVE-2024-0001", emitted[0].ID)
	assert.ElementsMatch(t,
		[]string{"CVE-2024-0001", "GHSA-aaaa-bbbb-cccc", "GO-2024-1234"},
		emitted[0].Aliases)
	assert.False(t, emitted[0].Timestamp.Scan.IsZero())
}

func TestFinalizeKeepsUnlinkedRecordsSeparate(t *testing.T) {
	cache := NewCache(t.TempDir())
	dir, err := cache.Init("test")
	require.NoError(t, err)

	require.NoError(t, cache.Save("test",
		stagedAdvisory("CVE-2024-0001"),
		stagedAdvisory("CVE-2024-0002"),
	))

	emitted := finalizeAll(t, cache, []string{dir})
	assert.Len(t, emitted, 2)
}

func TestFinalizeMarksWithdrawnAndUnionsEcosystems(t *testing.T) {
	cache := NewCache(t.TempDir())
	dir, err := cache.Init("test")
	require.NoError(t, err)

	advisory := stagedAdvisory("CVE-2024-0001")
	advisory.Description = "** REJECT ** withdrawn by its CNA"
	advisory.Products = []models.Product{
		{Name: "foo", Version: "<2.0", Ecosystem: "npm"},
		{Name: "bar", Version: "<1.0", Ecosystem: "pypi"},
	}
	require.NoError(t, cache.Save("test", advisory))

	emitted := finalizeAll(t, cache, []string{dir})

	require.Len(t, emitted, 1)
	assert.True(t, emitted[0].Withdrawn)
	assert.ElementsMatch(t, []string{"npm", "pypi"}, emitted[0].Ecosystem)
}

func TestSaveMergesRestagedRecord(t *testing.T) {
	cache := NewCache(t.TempDir())
	dir, err := cache.Init("test")
	require.NoError(t, err)

	first := stagedAdvisory("CVE-2024-0001")
	first.Severity = models.SeverityLow
	require.NoError(t, cache.Save("test", first))

	second := stagedAdvisory("CVE-2024-0001")
	second.Severity = models.SeverityCritical
	require.NoError(t, cache.Save("test", second))

	emitted := finalizeAll(t, cache, []string{dir})

	require.Len(t, emitted, 1)
	assert.Equal(t, models.SeverityCritical, emitted[0].Severity)
}

func TestInitWipesPreviousStaging(t *testing.T) {
	cache := NewCache(t.TempDir())
	dir, err := cache.Init("test")
	require.NoError(t, err)
	require.NoError(t, cache.Save("test", stagedAdvisory("CVE-2024-0001")))

	_, err = cache.Init("test")
	require.NoError(t, err)

	emitted := finalizeAll(t, cache, []string{dir})
	assert.Empty(t, emitted)
}
