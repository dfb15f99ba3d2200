package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/opsrun/opsrun/pkg"
	"github.com/opsrun/opsrun/pkg/runtime"
)

// UnarchiveModule extracts an archive already present on the target.
type UnarchiveModule struct{}

// UnarchiveInput defines the parameters for the unarchive module.
type UnarchiveInput struct {
	Src  string `yaml:"src"`  // Archive path on the target
	Dest string `yaml:"dest"` // Extraction directory
	// Creates skips extraction when the named path already exists, making
	// the task idempotent across runs.
	Creates string `yaml:"creates"`
}

// UnarchiveOutput reports the extraction result.
type UnarchiveOutput struct {
	Src     string
	Dest    string
	changed bool
}

func (o UnarchiveOutput) Changed() bool {
	return o.changed
}

func (o UnarchiveOutput) String() string {
	return fmt.Sprintf("unarchive %s -> %s changed=%t", o.Src, o.Dest, o.changed)
}

func (o UnarchiveOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"changed": o.changed,
		"src":     o.Src,
		"dest":    o.Dest,
	}
}

func (i *UnarchiveInput) validate() error {
	if i.Src == "" || i.Dest == "" {
		return fmt.Errorf("unarchive module requires 'src' and 'dest'")
	}
	return nil
}

func extractCommand(src, dest string) (string, error) {
	switch {
	case strings.HasSuffix(src, ".tar.gz"), strings.HasSuffix(src, ".tgz"):
		return fmt.Sprintf("tar -xzf %s -C %s", src, dest), nil
	case strings.HasSuffix(src, ".tar.bz2"):
		return fmt.Sprintf("tar -xjf %s -C %s", src, dest), nil
	case strings.HasSuffix(src, ".tar"):
		return fmt.Sprintf("tar -xf %s -C %s", src, dest), nil
	case strings.HasSuffix(src, ".zip"):
		return fmt.Sprintf("unzip -o %s -d %s", src, dest), nil
	default:
		return "", fmt.Errorf("unsupported archive format for %s", src)
	}
}

func (m UnarchiveModule) Apply(ctx context.Context, args map[string]interface{}, closure *pkg.Closure, opts pkg.ApplyOptions) (pkg.Output, error) {
	var input UnarchiveInput
	if err := pkg.DecodeArgs(args, &input); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	conn := closure.HostContext.Conn
	output := UnarchiveOutput{Src: input.Src, Dest: input.Dest}

	if input.Creates != "" {
		if _, err := conn.Stat(input.Creates, true); err == nil {
			return output, nil
		}
	}

	command, err := extractCommand(input.Src, input.Dest)
	if err != nil {
		return nil, err
	}

	output.changed = true
	if opts.Check {
		return output, nil
	}

	if err := conn.MkdirAll(input.Dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory %s: %w", input.Dest, err)
	}
	result, err := conn.ExecuteCommand(command, &runtime.CommandOptions{BecomeUser: opts.BecomeUser})
	if err != nil {
		return nil, err
	}
	if result.Failed() {
		return nil, fmt.Errorf("extraction failed (rc=%d): %s", result.ExitCode, result.Stderr)
	}
	return output, nil
}

func init() {
	pkg.RegisterModule("unarchive", UnarchiveModule{})
}
