package planner_test

import (
	"context"
	"testing"

	"github.com/juspay/airborne/integrity"
	"github.com/juspay/airborne/manifest"
	"github.com/juspay/airborne/planner"
	"github.com/juspay/airborne/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func targetManifest() manifest.Manifest {
	return manifest.Manifest{
		Config: manifest.Config{Version: "1", BootTimeoutMS: 1000, ReleaseConfigTimeoutMS: 1000},
		Package: manifest.Package{
			Name:    "app",
			Version: "1.0.1",
			Index:   manifest.Resource{URL: "https://x/main.jsbundle", FilePath: "main.jsbundle", Checksum: integrity.ChecksumData([]byte("index"))},
			Important: []manifest.Resource{
				{URL: "https://x/z-vendor.jsbundle", FilePath: "z-vendor.jsbundle"},
				{URL: "https://x/a-core.jsbundle", FilePath: "a-core.jsbundle"},
			},
			Lazy: []manifest.LazyResource{
				{Resource: manifest.Resource{URL: "https://x/help.jsbundle", FilePath: "screens/help.jsbundle"}},
			},
		},
		Resources: manifest.Resources{
			"fonts/icons.ttf": {URL: "https://x/icons.ttf", FilePath: "fonts/icons.ttf", Checksum: integrity.ChecksumData([]byte("ttf"))},
		},
	}
}

func TestBuildOnEmptyWorkspace(t *testing.T) {
	st, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)

	plan, err := planner.Build(context.Background(), targetManifest(), st)
	require.NoError(t, err)

	require.Len(t, plan.Important, 3)
	// stable ordering by filePath
	assert.Equal(t, "a-core.jsbundle", plan.Important[0].Resource.FilePath)
	assert.Equal(t, "main.jsbundle", plan.Important[1].Resource.FilePath)
	assert.Equal(t, "z-vendor.jsbundle", plan.Important[2].Resource.FilePath)
	assert.Equal(t, store.PackageTemp, plan.Important[0].Folder)

	require.Len(t, plan.Resources, 1)
	assert.Equal(t, store.ResourceTemp, plan.Resources[0].Folder)
	require.Len(t, plan.Lazy, 1)
	assert.False(t, plan.Empty())
}

func TestBuildSkipsPresentFiles(t *testing.T) {
	st, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)

	// index present with matching checksum, vendor present (no checksum declared)
	require.NoError(t, st.WriteLocal(store.PackageMain, "main.jsbundle", []byte("index")))
	require.NoError(t, st.WriteLocal(store.PackageMain, "z-vendor.jsbundle", []byte("anything")))
	require.NoError(t, st.WriteLocal(store.ResourceMain, "fonts/icons.ttf", []byte("ttf")))

	plan, err := planner.Build(context.Background(), targetManifest(), st)
	require.NoError(t, err)

	require.Len(t, plan.Important, 1)
	assert.Equal(t, "a-core.jsbundle", plan.Important[0].Resource.FilePath)
	assert.Empty(t, plan.Resources)
}

func TestBuildRedownloadsOnChecksumMismatch(t *testing.T) {
	st, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, st.WriteLocal(store.PackageMain, "main.jsbundle", []byte("stale contents")))

	plan, err := planner.Build(context.Background(), targetManifest(), st)
	require.NoError(t, err)

	paths := []string{}
	for _, task := range plan.Important {
		paths = append(paths, task.Resource.FilePath)
	}
	assert.Contains(t, paths, "main.jsbundle")
}

func TestBuildIsIdempotent(t *testing.T) {
	st, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)
	target := targetManifest()

	plan, err := planner.Build(context.Background(), target, st)
	require.NoError(t, err)

	// simulate executing the plan: materialize every planned file in main/
	fill := func(tasks []planner.Task, folder string) {
		for _, task := range tasks {
			content := []byte(task.Resource.FilePath)
			if task.Resource.FilePath == "main.jsbundle" {
				content = []byte("index")
			}
			if task.Resource.FilePath == "fonts/icons.ttf" {
				content = []byte("ttf")
			}
			require.NoError(t, st.WriteLocal(folder, task.Resource.FilePath, content))
		}
	}
	fill(plan.Important, store.PackageMain)
	fill(plan.Lazy, store.PackageMain)
	fill(plan.Resources, store.ResourceMain)

	replan, err := planner.Build(context.Background(), target, st)
	require.NoError(t, err)
	assert.True(t, replan.Empty())
	assert.Empty(t, replan.Lazy)
}
