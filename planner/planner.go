// Package planner decides which files of a release configuration still need
// to be downloaded, given what is already on disk.
package planner

import (
	"context"
	"sort"

	"github.com/juspay/airborne/integrity"
	"github.com/juspay/airborne/manifest"
	"github.com/juspay/airborne/store"
)

// Task is a single file acquisition: fetch Resource into Folder.
type Task struct {
	Resource manifest.Resource
	// Folder is the workspace temp folder the download stages into. Lazy
	// tasks carry it too, but the lazy pipeline ignores it and downloads
	// straight into the live package folder.
	Folder string
}

// Plan partitions the needed downloads. Important and Resources gate boot;
// Lazy runs after promote.
type Plan struct {
	Important []Task
	Resources []Task
	Lazy      []Task
}

// Empty returns true when nothing gates boot. Lazy tasks do not count.
func (p Plan) Empty() bool {
	return len(p.Important) == 0 && len(p.Resources) == 0
}

// Build inspects the live directories and produces the task sets for target.
// A file needs downloading when it is absent from main/ or, when the
// resource declares a checksum, the on-disk content hashes differently.
// Task ordering is stable by filePath so runs are reproducible.
func Build(ctx context.Context, target manifest.Manifest, st *store.Store) (Plan, error) {
	var plan Plan

	for _, r := range target.Package.AllImportantSplits() {
		needed, err := needsDownload(ctx, st, store.PackageMain, r)
		if err != nil {
			return Plan{}, err
		}
		if needed {
			plan.Important = append(plan.Important, Task{Resource: r, Folder: store.PackageTemp})
		}
	}
	for _, r := range target.Resources.Sorted() {
		needed, err := needsDownload(ctx, st, store.ResourceMain, r)
		if err != nil {
			return Plan{}, err
		}
		if needed {
			plan.Resources = append(plan.Resources, Task{Resource: r, Folder: store.ResourceTemp})
		}
	}
	for _, l := range target.Package.Lazy {
		needed, err := needsDownload(ctx, st, store.PackageMain, l.Resource)
		if err != nil {
			return Plan{}, err
		}
		if needed {
			plan.Lazy = append(plan.Lazy, Task{Resource: l.Resource, Folder: store.PackageTemp})
		}
	}

	sortTasks(plan.Important)
	sortTasks(plan.Resources)
	sortTasks(plan.Lazy)
	return plan, nil
}

func needsDownload(ctx context.Context, st *store.Store, mainFolder string, r manifest.Resource) (bool, error) {
	if !st.Exists(mainFolder, r.FilePath) {
		return true, nil
	}
	if r.Checksum.Empty() {
		return false, nil
	}
	path, err := st.Path(mainFolder, r.FilePath)
	if err != nil {
		return false, err
	}
	actual, err := integrity.ChecksumFile(ctx, path)
	if err != nil {
		return false, err
	}
	return !r.Checksum.Equals(actual), nil
}

func sortTasks(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Resource.FilePath < tasks[j].Resource.FilePath })
}
