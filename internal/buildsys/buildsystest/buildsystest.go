// Package buildsystest provides a recording buildsys.Runner for tests.
package buildsystest

import (
	"context"
	"sync"

	"github.com/musicpd/depbuild/internal/buildsys"
)

// Recorder records commands instead of running them.
type Recorder struct {
	// Hook, when set, is called for every command and its error returned.
	// Tests use it to fake outputs or failures.
	Hook func(cmd buildsys.Command) error

	mu       sync.Mutex
	commands []buildsys.Command
}

func (r *Recorder) Run(ctx context.Context, cmd buildsys.Command) error {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Hook != nil {
		return r.Hook(cmd)
	}
	return nil
}

// Commands returns the recorded commands in call order.
func (r *Recorder) Commands() []buildsys.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]buildsys.Command(nil), r.commands...)
}

// Lines returns the recorded commands as shell lines.
func (r *Recorder) Lines() []string {
	var lines []string
	for _, c := range r.Commands() {
		lines = append(lines, c.String())
	}
	return lines
}

// Steps returns the step of every recorded command.
func (r *Recorder) Steps() []string {
	var steps []string
	for _, c := range r.Commands() {
		steps = append(steps, c.Step)
	}
	return steps
}
