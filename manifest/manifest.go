package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/juspay/airborne/integrity"
)

// Manifest is the release configuration: the complete description of what
// should be live in a workspace. It is a pure tree of three sub-documents.
type Manifest struct {
	Config    Config    `json:"config"`
	Package   Package   `json:"package"`
	Resources Resources `json:"resources"`
}

// Config carries the boot policy for a release.
type Config struct {
	Version string `json:"version"`
	// BootTimeoutMS is the maximum time in milliseconds the host is willing
	// to wait for an updated bundle before falling back to the current one.
	BootTimeoutMS int64 `json:"bootTimeout"`
	// ReleaseConfigTimeoutMS bounds the release configuration fetch.
	// Zero means "same as bootTimeout". Values larger than bootTimeout are
	// clamped on load.
	ReleaseConfigTimeoutMS int64          `json:"releaseConfigTimeout,omitempty"`
	Properties             map[string]any `json:"properties,omitempty"`
}

// Package describes the application bundle: the entry file, the splits that
// must be present before boot, and the splits that may arrive later.
type Package struct {
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	Index      Resource       `json:"index"`
	Properties map[string]any `json:"properties,omitempty"`
	Important  []Resource     `json:"important"`
	Lazy       []LazyResource `json:"lazy"`

	// DefaultInit marks a package adopted from bundled default assets
	// rather than a fetched release configuration. Never serialized.
	DefaultInit bool `json:"-"`
}

// Resources maps filePath to the resource that should live there.
type Resources map[string]Resource

// Resource is a single downloadable file.
type Resource struct {
	URL      string             `json:"url"`
	FilePath string             `json:"filePath"`
	Checksum integrity.Checksum `json:"checksum,omitempty"`
}

// LazyResource is a Resource whose download may complete after boot.
// Downloaded is in-memory bookkeeping only: it is never persisted and
// resets to false on reload.
type LazyResource struct {
	Resource
	Downloaded bool `json:"-"`
}

// Equals reports whether two resources reference the same content.
func (r Resource) Equals(other Resource) bool {
	return r.URL == other.URL && r.FilePath == other.FilePath && r.Checksum == other.Checksum
}

// AllImportantSplits returns the index plus the important splits.
// This is the set of files the host needs before it can boot.
func (p *Package) AllImportantSplits() []Resource {
	out := make([]Resource, 0, len(p.Important)+1)
	out = append(out, p.Index)
	out = append(out, p.Important...)
	return out
}

func (p *Package) AllLazySplits() []Resource {
	out := make([]Resource, 0, len(p.Lazy))
	for _, l := range p.Lazy {
		out = append(out, l.Resource)
	}
	return out
}

// AllSplits returns index + important + lazy.
func (p *Package) AllSplits() []Resource {
	return append(p.AllImportantSplits(), p.AllLazySplits()...)
}

// SplitSet returns the file paths of all splits.
func (p *Package) SplitSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, r := range p.AllSplits() {
		set[r.FilePath] = struct{}{}
	}
	return set
}

// Sorted returns the resources ordered by file path, for reproducible runs.
func (r Resources) Sorted() []Resource {
	out := make([]Resource, 0, len(r))
	for _, res := range r {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out
}

// ParseManifest decodes and validates a release configuration.
// Unknown top-level keys are ignored for forward compatibility.
// Unknown keys inside a Resource are reported as warnings, not failures.
func ParseManifest(data []byte) (Manifest, []string, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, nil, DecodeError{FieldPath: "$", Reason: err.Error()}
	}
	warnings := collectResourceWarnings(data)
	if err := m.Normalize(); err != nil {
		return Manifest{}, warnings, err
	}
	if err := m.validate(); err != nil {
		return Manifest{}, warnings, err
	}
	return m, warnings, nil
}

// Normalize fills derived fields: resource map keys double as file paths,
// and the release config timeout defaults to (and is clamped by) bootTimeout.
// ParseManifest calls this; manifests assembled from persisted sub-documents
// should call it before use.
func (m *Manifest) Normalize() error {
	for key, res := range m.Resources {
		if res.FilePath == "" {
			res.FilePath = key
			m.Resources[key] = res
		} else if res.FilePath != key {
			return DecodeError{FieldPath: "resources." + key, Reason: fmt.Sprintf("filePath %q does not match its key", res.FilePath)}
		}
	}
	if m.Config.ReleaseConfigTimeoutMS == 0 || m.Config.ReleaseConfigTimeoutMS > m.Config.BootTimeoutMS {
		m.Config.ReleaseConfigTimeoutMS = m.Config.BootTimeoutMS
	}
	return nil
}

func (m *Manifest) validate() error {
	issues := []string{}
	if m.Config.BootTimeoutMS <= 0 {
		issues = append(issues, `config: "bootTimeout" must be a positive number of milliseconds`)
	}
	if m.Package.Index.FilePath == "" {
		issues = append(issues, `package: "index" must name an entry file`)
	}
	seen := map[string]string{}
	for i, r := range m.Package.AllSplits() {
		where := fmt.Sprintf("package split %d (%s)", i, r.FilePath)
		if err := validateResource(r); err != nil {
			issues = append(issues, where+": "+err.Error())
			continue
		}
		if prev, ok := seen[r.FilePath]; ok {
			issues = append(issues, fmt.Sprintf("package: %q appears in both %s and %s", r.FilePath, prev, where))
		}
		seen[r.FilePath] = where
	}
	for key, r := range m.Resources {
		if err := validateResource(r); err != nil {
			issues = append(issues, "resources."+key+": "+err.Error())
		}
	}
	if len(issues) > 0 {
		sort.Strings(issues)
		return ValidationError{issues: issues}
	}
	return nil
}

func validateResource(r Resource) error {
	if err := validatePath(r.FilePath); err != nil {
		return err
	}
	if r.URL == "" {
		return errors.New(`"url" must be a non-empty string`)
	}
	if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		// allow other schemes in the future
		return errors.New(`"url" must start with "http://" or "https://"`)
	}
	if !r.Checksum.Empty() {
		if err := r.Checksum.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// validatePath enforces the file path invariant: relative, forward-slash,
// canonical segments, no traversal.
func validatePath(p string) error {
	if p == "" || p[0] == '/' {
		return errors.New(`"filePath" must be a non-empty relative path`)
	}
	if strings.Contains(p, "\\") {
		return errors.New(`"filePath" must use forward slashes`)
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == "" {
			return errors.New(`"filePath" must not contain empty segments`)
		}
		if segment == "." || segment == ".." {
			return errors.New(`"filePath" must not contain '.' or '..' segments`)
		}
	}
	return nil
}

// collectResourceWarnings reports unknown keys inside Resource objects.
// The manifest is decoded a second time into raw form; a failure here is
// ignored because the strict decode above already succeeded.
func collectResourceWarnings(data []byte) []string {
	var raw struct {
		Package struct {
			Index     json.RawMessage   `json:"index"`
			Important []json.RawMessage `json:"important"`
			Lazy      []json.RawMessage `json:"lazy"`
		} `json:"package"`
		Resources map[string]json.RawMessage `json:"resources"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	var warnings []string
	check := func(where string, msg json.RawMessage) {
		if len(msg) == 0 {
			return
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(msg, &fields); err != nil {
			return
		}
		for key := range fields {
			switch key {
			case "url", "filePath", "checksum":
			default:
				warnings = append(warnings, fmt.Sprintf("%s: unknown key %q", where, key))
			}
		}
	}
	check("package.index", raw.Package.Index)
	for i, msg := range raw.Package.Important {
		check(fmt.Sprintf("package.important[%d]", i), msg)
	}
	for i, msg := range raw.Package.Lazy {
		check(fmt.Sprintf("package.lazy[%d]", i), msg)
	}
	for key, msg := range raw.Resources {
		check("resources."+key, msg)
	}
	sort.Strings(warnings)
	return warnings
}

// ToJSON renders the manifest back into the wire shape.
func (m Manifest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	return "release config validation failed:\n  " + strings.Join(e.issues, "\n  ")
}

// DecodeError is a fatal decoding failure for the payload in hand.
// FieldPath locates the offending field.
type DecodeError struct {
	FieldPath string
	Reason    string
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %s", e.FieldPath, e.Reason)
}
