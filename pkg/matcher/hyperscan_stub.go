//go:build !cgo || !hyperscan

package matcher

import (
	"errors"

	"github.com/praetorian-inc/certwatch/pkg/types"
)

// ErrHyperscanUnavailable is returned when the hyperscan engine is selected in
// a build without CGO or the hyperscan tag.
var ErrHyperscanUnavailable = errors.New("Hyperscan requires CGO (build with CGO_ENABLED=1 and -tags=hyperscan)")

func newHyperscanEngine(patterns []types.Pattern) (engine, error) {
	return nil, ErrHyperscanUnavailable
}

// hyperscanAvailable returns false when Hyperscan is not available (non-CGO build or missing hyperscan tag).
func hyperscanAvailable() bool {
	return false
}
