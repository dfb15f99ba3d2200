package modules

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/opsrun/opsrun/pkg"
)

// LineinfileModule ensures a line is present in (or absent from) a file on
// the target.
type LineinfileModule struct{}

// LineinfileInput defines the parameters for the lineinfile module.
type LineinfileInput struct {
	Path   string `yaml:"path"`
	Line   string `yaml:"line"`
	Regexp string `yaml:"regexp"` // When set, the first matching line is replaced
	State  string `yaml:"state"`  // present (default), absent
	Create bool   `yaml:"create"` // Create the file when it does not exist
}

// LineinfileOutput reports whether the file content moved, with a unified
// diff of the edit.
type LineinfileOutput struct {
	Path    string
	Line    string
	Diff    string
	changed bool
}

func (o LineinfileOutput) Changed() bool {
	return o.changed
}

func (o LineinfileOutput) String() string {
	return fmt.Sprintf("lineinfile %s changed=%t", o.Path, o.changed)
}

func (o LineinfileOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"changed": o.changed,
		"path":    o.Path,
		"line":    o.Line,
		"diff":    o.Diff,
	}
}

func (i *LineinfileInput) validate() error {
	if i.Path == "" {
		return fmt.Errorf("lineinfile module requires 'path'")
	}
	switch i.State {
	case "", "present", "absent":
	default:
		return fmt.Errorf("invalid lineinfile state %q, expected present or absent", i.State)
	}
	if i.State != "absent" && i.Line == "" {
		return fmt.Errorf("lineinfile module requires 'line' for state present")
	}
	if i.State == "absent" && i.Line == "" && i.Regexp == "" {
		return fmt.Errorf("lineinfile state absent requires 'line' or 'regexp'")
	}
	return nil
}

// ensureLine computes the new file content. Present: replace the first
// regexp match, or append the line when nothing matches. Absent: drop every
// matching line.
func ensureLine(content string, input *LineinfileInput) (string, bool, error) {
	var matcher *regexp.Regexp
	if input.Regexp != "" {
		compiled, err := regexp.Compile(input.Regexp)
		if err != nil {
			return "", false, fmt.Errorf("invalid regexp %q: %w", input.Regexp, err)
		}
		matcher = compiled
	}
	matches := func(line string) bool {
		if matcher != nil {
			return matcher.MatchString(line)
		}
		return line == input.Line
	}

	hadTrailingNewline := strings.HasSuffix(content, "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}

	changed := false
	if input.State == "absent" {
		var kept []string
		for _, line := range lines {
			if matches(line) {
				changed = true
				continue
			}
			kept = append(kept, line)
		}
		lines = kept
	} else {
		replaced := false
		for idx, line := range lines {
			if !matches(line) {
				continue
			}
			replaced = true
			if line != input.Line {
				lines[idx] = input.Line
				changed = true
			}
			break
		}
		if !replaced {
			lines = append(lines, input.Line)
			changed = true
		}
	}

	if !changed {
		return content, false, nil
	}
	out := strings.Join(lines, "\n")
	if len(lines) > 0 && (hadTrailingNewline || content == "") {
		out += "\n"
	}
	return out, true, nil
}

func (m LineinfileModule) Apply(ctx context.Context, args map[string]interface{}, closure *pkg.Closure, opts pkg.ApplyOptions) (pkg.Output, error) {
	var input LineinfileInput
	if err := pkg.DecodeArgs(args, &input); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	conn := closure.HostContext.Conn
	output := LineinfileOutput{Path: input.Path, Line: input.Line}

	content := ""
	data, err := conn.ReadFile(input.Path)
	switch {
	case err == nil:
		content = string(data)
	case input.State == "absent":
		// Nothing to remove from a missing file.
		return output, nil
	case input.Create:
		// Start from empty content.
	default:
		return nil, fmt.Errorf("failed to read %s: %w", input.Path, err)
	}

	updated, changed, err := ensureLine(content, &input)
	if err != nil {
		return nil, err
	}
	if !changed {
		return output, nil
	}

	diff, diffErr := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(content),
		B:        difflib.SplitLines(updated),
		FromFile: input.Path,
		ToFile:   input.Path,
		Context:  3,
	})
	if diffErr == nil {
		output.Diff = diff
	}

	output.changed = true
	if opts.Check {
		return output, nil
	}
	if err := conn.WriteFile(input.Path, []byte(updated), os.FileMode(0o644)); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", input.Path, err)
	}
	return output, nil
}

func init() {
	pkg.RegisterModule("lineinfile", LineinfileModule{})
}
