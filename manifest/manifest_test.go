package manifest_test

import (
	"testing"

	"github.com/juspay/airborne/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
	"config": {
		"version": "2.1.0",
		"bootTimeout": 5000,
		"releaseConfigTimeout": 2000,
		"properties": {"channel": "release"}
	},
	"package": {
		"name": "checkout",
		"version": "1.0.1",
		"index": {"url": "https://cdn.example.com/v1/main.jsbundle", "filePath": "main.jsbundle", "checksum": "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
		"important": [
			{"url": "https://cdn.example.com/v1/vendor.jsbundle", "filePath": "vendor.jsbundle"}
		],
		"lazy": [
			{"url": "https://cdn.example.com/v1/help.jsbundle", "filePath": "screens/help.jsbundle"}
		]
	},
	"resources": {
		"fonts/icons.ttf": {"url": "https://cdn.example.com/fonts/icons.ttf", "filePath": "fonts/icons.ttf"}
	},
	"futureTopLevelKey": true
}`

func parseSample(t *testing.T) manifest.Manifest {
	t.Helper()
	m, warnings, err := manifest.ParseManifest([]byte(sampleJSON))
	require.NoError(t, err)
	require.Empty(t, warnings)
	return m
}

func TestParseManifest(t *testing.T) {
	m := parseSample(t)
	assert.Equal(t, "2.1.0", m.Config.Version)
	assert.Equal(t, int64(5000), m.Config.BootTimeoutMS)
	assert.Equal(t, int64(2000), m.Config.ReleaseConfigTimeoutMS)
	assert.Equal(t, "checkout", m.Package.Name)
	assert.Equal(t, "main.jsbundle", m.Package.Index.FilePath)
	assert.Len(t, m.Package.Important, 1)
	assert.Len(t, m.Package.Lazy, 1)
	assert.False(t, m.Package.Lazy[0].Downloaded)
	assert.Equal(t, "fonts/icons.ttf", m.Resources["fonts/icons.ttf"].FilePath)
}

func TestParseManifestFillsResourceKey(t *testing.T) {
	m, _, err := manifest.ParseManifest([]byte(`{
		"config": {"version": "1", "bootTimeout": 1000},
		"package": {"name": "a", "version": "1", "index": {"url": "https://x/i.js", "filePath": "i.js"}},
		"resources": {"a.txt": {"url": "https://x/a.txt"}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", m.Resources["a.txt"].FilePath)
}

func TestParseManifestClampsReleaseConfigTimeout(t *testing.T) {
	m, _, err := manifest.ParseManifest([]byte(`{
		"config": {"version": "1", "bootTimeout": 1000, "releaseConfigTimeout": 9000},
		"package": {"name": "a", "version": "1", "index": {"url": "https://x/i.js", "filePath": "i.js"}},
		"resources": {}
	}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), m.Config.ReleaseConfigTimeoutMS)

	m, _, err = manifest.ParseManifest([]byte(`{
		"config": {"version": "1", "bootTimeout": 1000},
		"package": {"name": "a", "version": "1", "index": {"url": "https://x/i.js", "filePath": "i.js"}},
		"resources": {}
	}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), m.Config.ReleaseConfigTimeoutMS)
}

func TestParseManifestRejectsBadPaths(t *testing.T) {
	for _, path := range []string{"", "/abs.js", "../escape.js", "a//b.js", "a/../b.js", `a\\b.js`} {
		_, _, err := manifest.ParseManifest([]byte(`{
			"config": {"version": "1", "bootTimeout": 1000},
			"package": {"name": "a", "version": "1", "index": {"url": "https://x/i.js", "filePath": "` + path + `"}},
			"resources": {}
		}`))
		assert.Error(t, err, "path %q should be rejected", path)
	}
}

func TestParseManifestRejectsDuplicateSplit(t *testing.T) {
	_, _, err := manifest.ParseManifest([]byte(`{
		"config": {"version": "1", "bootTimeout": 1000},
		"package": {
			"name": "a", "version": "1",
			"index": {"url": "https://x/i.js", "filePath": "i.js"},
			"important": [{"url": "https://x/s.js", "filePath": "s.js"}],
			"lazy": [{"url": "https://x/s.js", "filePath": "s.js"}]
		},
		"resources": {}
	}`))
	assert.Error(t, err)
}

func TestParseManifestRejectsZeroBootTimeout(t *testing.T) {
	_, _, err := manifest.ParseManifest([]byte(`{
		"config": {"version": "1", "bootTimeout": 0},
		"package": {"name": "a", "version": "1", "index": {"url": "https://x/i.js", "filePath": "i.js"}},
		"resources": {}
	}`))
	assert.Error(t, err)
}

func TestParseManifestWarnsUnknownResourceKeys(t *testing.T) {
	_, warnings, err := manifest.ParseManifest([]byte(`{
		"config": {"version": "1", "bootTimeout": 1000},
		"package": {"name": "a", "version": "1", "index": {"url": "https://x/i.js", "filePath": "i.js", "mirror": "https://y/i.js"}},
		"resources": {}
	}`))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "mirror")
}

func TestAllSplits(t *testing.T) {
	m := parseSample(t)
	splits := m.Package.AllSplits()
	require.Len(t, splits, 3)
	assert.Equal(t, "main.jsbundle", splits[0].FilePath)

	set := m.Package.SplitSet()
	assert.Contains(t, set, "screens/help.jsbundle")
}

func TestResourceEquals(t *testing.T) {
	a := manifest.Resource{URL: "https://x/a", FilePath: "a", Checksum: "aa"}
	assert.True(t, a.Equals(a))
	assert.False(t, a.Equals(manifest.Resource{URL: "https://x/a", FilePath: "a", Checksum: "bb"}))
	assert.False(t, a.Equals(manifest.Resource{URL: "https://y/a", FilePath: "a", Checksum: "aa"}))
}

func TestComputeDiff(t *testing.T) {
	old := parseSample(t)
	updated := parseSample(t)

	assert.True(t, manifest.Compute(old, updated).Empty())

	updated.Package.Version = "1.0.2"
	updated.Package.Index.Checksum = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	updated.Resources["images/logo.png"] = manifest.Resource{URL: "https://cdn.example.com/logo.png", FilePath: "images/logo.png"}
	delete(updated.Resources, "fonts/icons.ttf")

	d := manifest.Compute(old, updated)
	require.False(t, d.Empty())
	require.Len(t, d.PackageAdds, 1)
	assert.Equal(t, "main.jsbundle", d.PackageAdds[0].FilePath)
	assert.Empty(t, d.PackageRemoves)
	require.Len(t, d.ResourceAdds, 1)
	assert.Equal(t, "images/logo.png", d.ResourceAdds[0].FilePath)
	assert.Equal(t, []string{"fonts/icons.ttf"}, d.ResourceRemoves)
}

func TestComputeDiffConfigChange(t *testing.T) {
	old := parseSample(t)
	updated := parseSample(t)
	updated.Config.Version = "2.2.0"
	d := manifest.Compute(old, updated)
	assert.True(t, d.ConfigChanged)
	assert.False(t, d.Empty())
}

func TestBinaryRoundTrip(t *testing.T) {
	m := parseSample(t)
	m.Package.Lazy[0].Downloaded = true

	configData, err := m.Config.MarshalBinary()
	require.NoError(t, err)
	packageData, err := m.Package.MarshalBinary()
	require.NoError(t, err)
	resourcesData, err := m.Resources.MarshalBinary()
	require.NoError(t, err)

	var config manifest.Config
	var pkg manifest.Package
	var resources manifest.Resources
	require.NoError(t, config.UnmarshalBinary(configData))
	require.NoError(t, pkg.UnmarshalBinary(packageData))
	require.NoError(t, resources.UnmarshalBinary(resourcesData))

	assert.Equal(t, m.Config, config)
	assert.Equal(t, m.Resources, resources)

	// the lazy downloaded flag is transient and resets on reload
	require.Len(t, pkg.Lazy, 1)
	assert.False(t, pkg.Lazy[0].Downloaded)
	pkg.Lazy[0].Downloaded = m.Package.Lazy[0].Downloaded
	assert.Equal(t, m.Package, pkg)
}

func TestDecodeRejectsUnknownFormatVersion(t *testing.T) {
	var config manifest.Config
	err := config.UnmarshalBinary([]byte{0x7f, '{', '}'})
	assert.ErrorAs(t, err, &manifest.DecodeError{})
	assert.Error(t, config.UnmarshalBinary(nil))
}

func TestBlacklist(t *testing.T) {
	var b manifest.Blacklist
	assert.False(t, b.Contains("1.0.1"))
	assert.True(t, b.Add("1.0.1"))
	assert.False(t, b.Add("1.0.1"))
	assert.True(t, b.Contains("1.0.1"))

	data, err := b.MarshalBinary()
	require.NoError(t, err)
	var reloaded manifest.Blacklist
	require.NoError(t, reloaded.UnmarshalBinary(data))
	assert.Equal(t, b, reloaded)
}
