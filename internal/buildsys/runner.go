package buildsys

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Command is one external program invocation of a build step.
type Command struct {
	// Step is the build step the command belongs to, such as "configure".
	Step string
	Dir  string
	Name string
	Args []string
	// Env holds variables set on top of the process environment.
	Env map[string]string
}

func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Runner executes commands. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// BuildError reports a failing build tool, with its captured output.
type BuildError struct {
	Step    string
	Command string
	Output  []byte
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Command, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Tail returns the last n lines of the captured output.
func (e *BuildError) Tail(n int) string {
	out := strings.TrimRight(string(e.Output), "\n")
	if out == "" {
		return ""
	}
	lines := strings.Split(out, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// ExecRunner runs commands as child processes, capturing their combined
// output.
type ExecRunner struct {
	// Stdout, when set, also receives the output as it is produced.
	Stdout io.Writer
	Logger *slog.Logger
}

func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	if r.Logger != nil {
		r.Logger.Debug("running", "step", c.Step, "dir", c.Dir, "cmd", c.String())
	}
	var out bytes.Buffer
	var w io.Writer = &out
	if r.Stdout != nil {
		w = io.MultiWriter(&out, r.Stdout)
	}
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = w
	cmd.Stderr = w
	if len(c.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), c.Env)
	}
	if err := cmd.Run(); err != nil {
		return &BuildError{Step: c.Step, Command: c.String(), Output: out.Bytes(), Err: err}
	}
	return nil
}

// mergeEnv returns base with every key in overrides replaced or appended.
func mergeEnv(base []string, overrides map[string]string) []string {
	idx := make(map[string]int, len(base))
	for i, kv := range base {
		if k, _, ok := strings.Cut(kv, "="); ok {
			idx[k] = i
		}
	}
	for k, v := range overrides {
		if i, ok := idx[k]; ok {
			base[i] = k + "=" + v
		} else {
			base = append(base, k+"="+v)
		}
	}
	return base
}

// prependPath prepends value to a PATH-style list.
func prependPath(cur, value string) string {
	if cur != "" {
		value += string(os.PathListSeparator) + cur
	}
	return value
}

func getenv(key string) string { return os.Getenv(key) }
