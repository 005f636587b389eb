// Package batch runs one prepared analysis over many acquisition
// directories in parallel and persists the results in place. Results are
// keyed by an identity tag derived from the cube, the reference and the
// settings, so re-running a batch recomputes only what actually changed.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pwscube/pkg/analysis"
	"pwscube/pkg/cube"
	"pwscube/pkg/storage"
)

// CubeLoader abstracts how raw image cubes are read from an acquisition
// directory. Implementations do not need to be safe for concurrent use; the
// runner serializes loading behind one lock because acquisition files are
// large and sequential reads are what spinning storage wants.
type CubeLoader interface {
	LoadCube(ctx context.Context, path string) (*cube.ImageCube, error)
}

// Result reports the outcome of one acquisition directory.
type Result struct {
	Path     string
	Skipped  bool // results with the same identity tag were already stored
	Warnings int
	Err      error
}

// Runner executes a prepared analysis over acquisition directories.
type Runner struct {
	Loader    CubeLoader
	Analysis  *analysis.Analysis
	Name      string // name results are stored under
	Overwrite bool
	Workers   int
	Log       zerolog.Logger

	loadMu sync.Mutex
}

// Run analyzes every path and returns one Result per path, in input order.
// Per-cube failures are recorded in the corresponding Result and do not stop
// the rest of the batch; only context cancellation aborts early.
func (r *Runner) Run(ctx context.Context, paths []string) ([]Result, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("batch: analysis name is empty")
	}
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]Result, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			results[i] = r.runOne(ctx, path)
			if results[i].Err != nil {
				r.Log.Error().Str("path", path).Err(results[i].Err).Msg("cube failed")
			}
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("batch: %w", err)
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, path string) Result {
	res := Result{Path: path}

	r.loadMu.Lock()
	c, err := r.Loader.LoadCube(ctx, path)
	r.loadMu.Unlock()
	if err != nil {
		res.Err = fmt.Errorf("loading cube: %w", err)
		return res
	}

	wantTag, err := analysis.ResultsIdentityTag(c.IdentityTag(), r.Analysis.ReferenceIDTag(), r.Analysis.Settings())
	if err != nil {
		res.Err = err
		return res
	}

	store := storage.NewAnalysisStore(path)
	existing, err := store.Load(r.Name)
	switch {
	case err == nil && existing.IDTag == wantTag:
		r.Log.Info().Str("path", path).Str("analysis", r.Name).Msg("results up to date, skipping")
		res.Skipped = true
		res.Warnings = len(existing.Warnings)
		return res
	case err == nil && !r.Overwrite:
		res.Err = fmt.Errorf("results %q already exist with different inputs: %w", r.Name, storage.ErrAlreadyExists)
		return res
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		res.Err = err
		return res
	}

	r.Log.Info().Str("path", path).Str("analysis", r.Name).Msg("analyzing cube")
	out, err := r.Analysis.Run(c)
	if err != nil {
		res.Err = err
		return res
	}
	for _, w := range out.Warnings {
		r.Log.Warn().Str("path", path).Str("warning", w.Short).Msg(w.Long)
	}
	res.Warnings = len(out.Warnings)

	if err := store.Save(r.Name, out, true); err != nil {
		res.Err = err
		return res
	}
	return res
}
