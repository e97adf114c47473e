package manifest

import (
	"bytes"
	"fmt"
	"regexp"
)

// Edit is a named textual substitution applied to one source file after
// the patches.
//
// Replacement uses regexp expansion syntax: $1 or ${name} refer to
// submatches and $$ is a literal dollar sign. Count is the number of
// occurrences to replace; fewer matches is an error. A Count of zero
// replaces every occurrence and requires at least one.
type Edit struct {
	Name        string `yaml:"name" json:"name"`
	File        string `yaml:"file" json:"file"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
	Count       int    `yaml:"count" json:"count"`
}

func (e Edit) validate() error {
	if e.Name == "" {
		return fmt.Errorf("edit on %s: missing name", e.File)
	}
	if e.File == "" {
		return fmt.Errorf("edit %s: missing file", e.Name)
	}
	if e.Count < 0 {
		return fmt.Errorf("edit %s: negative count %d", e.Name, e.Count)
	}
	if _, err := regexp.Compile(e.Pattern); err != nil {
		return fmt.Errorf("edit %s: %w", e.Name, err)
	}
	return nil
}

// Apply returns src with the edit applied.
func (e Edit) Apply(src []byte) ([]byte, error) {
	re, err := regexp.Compile(e.Pattern)
	if err != nil {
		return nil, err
	}
	n := e.Count
	if n == 0 {
		n = -1
	}
	matches := re.FindAllSubmatchIndex(src, n)
	switch {
	case len(matches) == 0:
		return nil, fmt.Errorf("pattern %q not found", e.Pattern)
	case e.Count > 0 && len(matches) < e.Count:
		return nil, fmt.Errorf("pattern %q found %d times, want %d", e.Pattern, len(matches), e.Count)
	}

	var out bytes.Buffer
	out.Grow(len(src))
	last := 0
	for _, m := range matches {
		out.Write(src[last:m[0]])
		out.Write(re.Expand(nil, []byte(e.Replacement), src, m))
		last = m[1]
	}
	out.Write(src[last:])
	return out.Bytes(), nil
}
