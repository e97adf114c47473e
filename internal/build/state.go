package build

// State is the progress of one dependency through the pipeline.
type State int

const (
	NotFetched State = iota
	Fetched
	Unpacked
	Patched
	Configured
	Built
	Installed
	Failed
)

var stateNames = [...]string{
	NotFetched: "not fetched",
	Fetched:    "fetched",
	Unpacked:   "unpacked",
	Patched:    "patched",
	Configured: "configured",
	Built:      "built",
	Installed:  "installed",
	Failed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Stage is a step of the pipeline. A failing stage leaves the dependency
// in the Failed state.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageUnpack    Stage = "unpack"
	StagePatch     Stage = "patch"
	StageConfigure Stage = "configure"
	StageBuild     Stage = "build"
	StageInstall   Stage = "install"
)

// reached returns the state a successful stage leads to.
func (s Stage) reached() State {
	switch s {
	case StageFetch:
		return Fetched
	case StageUnpack:
		return Unpacked
	case StagePatch:
		return Patched
	case StageConfigure:
		return Configured
	case StageBuild:
		return Built
	case StageInstall:
		return Installed
	}
	return Failed
}
