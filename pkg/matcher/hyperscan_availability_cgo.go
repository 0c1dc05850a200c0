//go:build cgo && hyperscan

package matcher

import "errors"

// ErrHyperscanUnavailable is never returned in Hyperscan builds; it exists so
// callers can compare against it unconditionally.
var ErrHyperscanUnavailable = errors.New("Hyperscan requires CGO (build with CGO_ENABLED=1 and -tags=hyperscan)")

// hyperscanAvailable returns true when Hyperscan is available (CGO build with hyperscan tag).
func hyperscanAvailable() bool {
	return true
}
