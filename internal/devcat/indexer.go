package devcat

import (
	"context"
	"iter"
	"path/filepath"
	"strings"

	"devcat/internal/model"
)

// Indexer produces the file observations for a mounted volume and turns
// them into a diff against the catalog.
type Indexer struct {
	walker Walker
	logger Logger
}

// NewIndexer creates an Indexer over walker.
func NewIndexer(walker Walker, logger Logger) *Indexer {
	return &Indexer{walker: walker, logger: logger}
}

// Scan lazily yields the files under mountPath. Any walk failure, including
// cancellation of ctx, is yielded once as a *ScanError and ends the scan.
func (ix *Indexer) Scan(ctx context.Context, mountPath string) iter.Seq2[FileObservation, error] {
	return func(yield func(FileObservation, error) bool) {
		prefix := filepath.Clean(mountPath) + string(filepath.Separator)
		for obs, err := range ix.walker.Walk(ctx, mountPath) {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				yield(FileObservation{}, &ScanError{MountPath: mountPath, Err: err})
				return
			}
			if !strings.HasPrefix(obs.Path, prefix) {
				ix.logger.Warn("walker yielded path outside mount", "mount_path", mountPath, "path", obs.Path)
				continue
			}
			if !yield(obs, nil) {
				return
			}
		}
	}
}

// DiffPlan is the set of changes that brings the catalog in line with a scan.
type DiffPlan struct {
	Inserts   []FileObservation
	Deletes   []*model.File
	Revised   int // paths whose size changed: one delete plus one insert each
	Unchanged int
}

// Empty reports whether the plan changes nothing.
func (p *DiffPlan) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Deletes) == 0
}

// Plan diffs the observations of one scan against the active rows recorded
// under the same mount path.
//
//   - an observed path with no active row is inserted
//   - an active row whose path was not observed is soft-deleted
//   - an observed path whose active row has a different size is a new
//     revision: the old row is soft-deleted and a new row inserted
//
// Observations are matched by path only. Plan never reuses a row for a
// changed file, so keys stay immutable.
func Plan(observed []FileObservation, active []*model.File) *DiffPlan {
	plan := &DiffPlan{}

	byPath := make(map[string]*model.File, len(active))
	for _, f := range active {
		if prev, ok := byPath[f.Path]; ok {
			// Two active rows for one path should not exist; keep the
			// older one and retire the other.
			if f.ID < prev.ID {
				f, prev = prev, f
				byPath[prev.Path] = prev
			}
			plan.Deletes = append(plan.Deletes, f)
			continue
		}
		byPath[f.Path] = f
	}

	seen := make(map[string]bool, len(observed))
	for _, obs := range observed {
		if seen[obs.Path] {
			continue
		}
		seen[obs.Path] = true

		current, ok := byPath[obs.Path]
		switch {
		case !ok:
			plan.Inserts = append(plan.Inserts, obs)
		case current.Size != obs.Size:
			plan.Deletes = append(plan.Deletes, current)
			plan.Inserts = append(plan.Inserts, obs)
			plan.Revised++
		default:
			plan.Unchanged++
		}
	}

	for _, f := range active {
		if byPath[f.Path] == f && !seen[f.Path] {
			plan.Deletes = append(plan.Deletes, f)
		}
	}

	return plan
}
