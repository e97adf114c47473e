package build

import (
	"context"
	"errors"

	"github.com/musicpd/depbuild/internal/manifest"
	"golang.org/x/sync/errgroup"
)

// RunTargets builds deps for every orchestrator concurrently. Targets are
// independent: a failure in one does not stop the others, and all failures
// are returned joined.
func RunTargets(ctx context.Context, runs []*Orchestrator, deps []manifest.Dependency) error {
	errs := make([]error, len(runs))
	var g errgroup.Group
	for i, o := range runs {
		g.Go(func() error {
			errs[i] = o.Run(ctx, deps)
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
