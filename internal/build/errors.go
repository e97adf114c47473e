package build

import "fmt"

// StageError reports the stage at which a dependency failed for a target.
// Err is the typed error of the failing component: *fetch.FetchError,
// *fetch.IntegrityError, *unpack.UnpackError, *patch.PatchError or
// *buildsys.BuildError.
type StageError struct {
	Target     string
	Dependency string
	Version    string
	Stage      Stage
	Err        error
}

func (e *StageError) Error() string {
	dep := e.Dependency
	if e.Version != "" {
		dep += " " + e.Version
	}
	if e.Target == "" {
		return fmt.Sprintf("%s: %s: %v", dep, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.Target, dep, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
