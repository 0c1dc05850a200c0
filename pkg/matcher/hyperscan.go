//go:build cgo && hyperscan

package matcher

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flier/gohs/hyperscan"
	"github.com/praetorian-inc/certwatch/pkg/types"
)

// hyperscanEngine evaluates every pattern in one Hyperscan block scan.
// Scratch space is not shareable, so each goroutine borrows a clone from a pool.
type hyperscanEngine struct {
	db      hyperscan.BlockDatabase
	proto   *hyperscan.Scratch
	scratch sync.Pool
}

func newHyperscanEngine(patterns []types.Pattern) (*hyperscanEngine, error) {
	hps := make([]*hyperscan.Pattern, len(patterns))
	for i, p := range patterns {
		// SingleMatch reports each pattern at most once per scan; AllowEmpty
		// accepts patterns such as `.*` that regexp2 also accepts.
		hp := hyperscan.NewPattern(p.Source, hyperscan.SingleMatch|hyperscan.AllowEmpty)
		hp.Id = p.Index
		hps[i] = hp
	}

	db, err := hyperscan.NewBlockDatabase(hps...)
	if err != nil {
		return nil, locateHyperscanError(patterns, hps, err)
	}

	proto, err := hyperscan.NewScratch(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to allocate Hyperscan scratch: %w", err)
	}

	e := &hyperscanEngine{db: db, proto: proto}
	e.scratch.New = func() any {
		s, err := e.proto.Clone()
		if err != nil {
			return nil
		}
		return s
	}
	return e, nil
}

// locateHyperscanError compiles patterns one at a time to find the one that
// broke the combined database.
func locateHyperscanError(patterns []types.Pattern, hps []*hyperscan.Pattern, cause error) error {
	for i, hp := range hps {
		db, err := hyperscan.NewBlockDatabase(hp)
		if err != nil {
			p := patterns[i]
			return &CompileError{Index: p.Index, ID: p.ID, Source: p.Source, Err: err}
		}
		db.Close()
	}
	return fmt.Errorf("failed to compile Hyperscan database: %w", cause)
}

func (e *hyperscanEngine) match(domain string, hit func(int)) error {
	s, _ := e.scratch.Get().(*hyperscan.Scratch)
	if s == nil {
		return errors.New("failed to clone Hyperscan scratch")
	}
	defer e.scratch.Put(s)

	onMatch := func(id uint, from, to uint64, flags uint, context interface{}) error {
		hit(int(id))
		return nil
	}
	if err := e.db.Scan([]byte(domain), s, onMatch, nil); err != nil {
		return fmt.Errorf("Hyperscan scan failed: %w", err)
	}
	return nil
}

func (e *hyperscanEngine) close() error {
	if e.proto != nil {
		if err := e.proto.Free(); err != nil {
			return fmt.Errorf("failed to free scratch: %w", err)
		}
		e.proto = nil
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
		e.db = nil
	}
	return nil
}
