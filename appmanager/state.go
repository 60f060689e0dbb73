package appmanager

import "github.com/juspay/airborne/manifest"

// State is the position of a manager in its boot state machine.
// Transitions are totally ordered; terminal states resolve the host's wait
// exactly once and become idempotent.
type State int32

const (
	StateInit State = iota
	StateRCFetching
	StateDownloading
	StatePromoting
	StateReady
	StateRCTimedOut
	StatePkgTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRCFetching:
		return "RC_FETCHING"
	case StateDownloading:
		return "DOWNLOADING"
	case StatePromoting:
		return "PROMOTING"
	case StateReady:
		return "READY"
	case StateRCTimedOut:
		return "RC_TIMEDOUT"
	case StatePkgTimedOut:
		return "PKG_TIMEDOUT"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Replaceable reports whether the per-namespace registry should discard this
// manager and build a fresh one.
func (s State) Replaceable() bool {
	return s == StateFailed
}

// Status is the host-visible compression of a boot outcome.
type Status string

const (
	StatusOK                    Status = "OK"
	StatusError                 Status = "ERROR"
	StatusPackageDownloadFailed Status = "PACKAGE_DOWNLOAD_FAILED"
	StatusPackageTimedOut       Status = "PACKAGE_TIMEDOUT"
	StatusReleaseConfigTimedOut Status = "RELEASE_CONFIG_TIMEDOUT"
)

// DownloadResult is what the host's WaitForPackagesAndResources resolves
// with: the first terminal outcome observed for this boot.
type DownloadResult struct {
	Status        Status
	ReleaseConfig manifest.Manifest
	Error         string
}
