package manifest

import (
	"encoding/json"
	"fmt"
)

// Persisted file names inside the workspace manifest directory.
// The temp/old variants implement the two-phase commit during promote.
const (
	ConfigDataFile        = "app_config.data"
	PackageDataFile       = "app_package.data"
	PackageTempDataFile   = "app_package_temp.data"
	ResourcesDataFile     = "app_resources.data"
	ResourcesOldDataFile  = "app_resources_old.data"
	ResourcesTempDataFile = "app_resources_temp.data"
	BlacklistDataFile     = "blacklisted_versions.data"
)

// formatVersion is the header byte of every persisted document, so
// forward/backward migrations stay possible.
const formatVersion byte = 0x01

func encodeDocument(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte{formatVersion}, payload...), nil
}

func decodeDocument(data []byte, v any) error {
	if len(data) == 0 {
		return DecodeError{FieldPath: "$", Reason: "empty document"}
	}
	if data[0] != formatVersion {
		return DecodeError{FieldPath: "$", Reason: fmt.Sprintf("unsupported format version 0x%02x", data[0])}
	}
	if err := json.Unmarshal(data[1:], v); err != nil {
		return DecodeError{FieldPath: "$", Reason: err.Error()}
	}
	return nil
}

func (c Config) MarshalBinary() ([]byte, error) { return encodeDocument(c) }

func (c *Config) UnmarshalBinary(data []byte) error { return decodeDocument(data, c) }

func (p Package) MarshalBinary() ([]byte, error) { return encodeDocument(p) }

func (p *Package) UnmarshalBinary(data []byte) error { return decodeDocument(data, p) }

func (r Resources) MarshalBinary() ([]byte, error) { return encodeDocument(r) }

func (r *Resources) UnmarshalBinary(data []byte) error {
	if err := decodeDocument(data, r); err != nil {
		return err
	}
	for key, res := range *r {
		if res.FilePath == "" {
			res.FilePath = key
			(*r)[key] = res
		}
	}
	return nil
}

// Blacklist is the persisted set of package versions that failed to download
// or promote.
type Blacklist struct {
	Versions []string `json:"versions"`
}

func (b Blacklist) MarshalBinary() ([]byte, error) { return encodeDocument(b) }

func (b *Blacklist) UnmarshalBinary(data []byte) error { return decodeDocument(data, b) }

func (b Blacklist) Contains(version string) bool {
	for _, v := range b.Versions {
		if v == version {
			return true
		}
	}
	return false
}

// Add appends a version if absent and reports whether the set changed.
func (b *Blacklist) Add(version string) bool {
	if b.Contains(version) {
		return false
	}
	b.Versions = append(b.Versions, version)
	return true
}
