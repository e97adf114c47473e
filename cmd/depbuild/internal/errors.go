package internal

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/musicpd/depbuild/internal/build"
	"github.com/musicpd/depbuild/internal/buildsys"
)

// outputTail is the number of build tool output lines shown on failure.
const outputTail = 30

// reportError prints err for the user. Failures of several targets are
// printed one after the other.
func reportError(w io.Writer, err error) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			reportError(w, e)
		}
		return
	}

	var se *build.StageError
	if !errors.As(err, &se) {
		fmt.Fprintf(w, "%s %v\n", color.Danger.Sprint("error:"), err)
		return
	}
	where := se.Dependency
	if se.Version != "" {
		where += " " + se.Version
	}
	if se.Target != "" {
		where = se.Target + ": " + where
	}
	fmt.Fprintf(w, "%s %s: %s failed: %v\n", color.Danger.Sprint("error:"), where, se.Stage, se.Err)

	var be *buildsys.BuildError
	if errors.As(err, &be) {
		if tail := be.Tail(outputTail); tail != "" {
			fmt.Fprintf(w, "  last output of %s:\n", be.Command)
			for _, line := range strings.Split(tail, "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
}
