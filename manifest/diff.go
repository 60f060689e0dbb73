package manifest

import "sort"

// Diff describes what changed between two release configurations.
// Adds list resources present (or changed) in the new manifest;
// removes list file paths the new manifest no longer references.
type Diff struct {
	PackageAdds     []Resource
	PackageRemoves  []string
	ResourceAdds    []Resource
	ResourceRemoves []string
	ConfigChanged   bool
}

// Empty returns true if nothing changed.
func (d Diff) Empty() bool {
	return len(d.PackageAdds) == 0 && len(d.PackageRemoves) == 0 &&
		len(d.ResourceAdds) == 0 && len(d.ResourceRemoves) == 0 && !d.ConfigChanged
}

// Compute diffs old against new. Two resources are equal iff
// (url, filePath, checksum) are equal. Output ordering is stable by filePath.
func Compute(old, new Manifest) Diff {
	var d Diff

	oldSplits := resourcesByPath(old.Package.AllSplits())
	newSplits := resourcesByPath(new.Package.AllSplits())
	for path, r := range newSplits {
		if prev, ok := oldSplits[path]; !ok || !prev.Equals(r) {
			d.PackageAdds = append(d.PackageAdds, r)
		}
	}
	for path := range oldSplits {
		if _, ok := newSplits[path]; !ok {
			d.PackageRemoves = append(d.PackageRemoves, path)
		}
	}

	for path, r := range new.Resources {
		if prev, ok := old.Resources[path]; !ok || !prev.Equals(r) {
			d.ResourceAdds = append(d.ResourceAdds, r)
		}
	}
	for path := range old.Resources {
		if _, ok := new.Resources[path]; !ok {
			d.ResourceRemoves = append(d.ResourceRemoves, path)
		}
	}

	d.ConfigChanged = old.Config.Version != new.Config.Version ||
		old.Config.BootTimeoutMS != new.Config.BootTimeoutMS ||
		old.Config.ReleaseConfigTimeoutMS != new.Config.ReleaseConfigTimeoutMS

	sortResources(d.PackageAdds)
	sortResources(d.ResourceAdds)
	sort.Strings(d.PackageRemoves)
	sort.Strings(d.ResourceRemoves)
	return d
}

func resourcesByPath(resources []Resource) map[string]Resource {
	out := make(map[string]Resource, len(resources))
	for _, r := range resources {
		out[r.FilePath] = r
	}
	return out
}

func sortResources(resources []Resource) {
	sort.Slice(resources, func(i, j int) bool { return resources[i].FilePath < resources[j].FilePath })
}
