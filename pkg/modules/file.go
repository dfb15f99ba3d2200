package modules

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/opsrun/opsrun/pkg"
)

// FileModule manages the existence and mode of a path on the target.
type FileModule struct{}

// FileInput defines the parameters for the file module.
type FileInput struct {
	Path  string `yaml:"path"`
	State string `yaml:"state"` // present (default), absent, directory
	Mode  string `yaml:"mode"`  // octal string like "0644"
}

// FileOutput reports what the module did to the path.
type FileOutput struct {
	Path    string
	State   string
	Mode    string
	changed bool
}

func (o FileOutput) Changed() bool {
	return o.changed
}

func (o FileOutput) String() string {
	return fmt.Sprintf("file %s state=%s changed=%t", o.Path, o.State, o.changed)
}

func (o FileOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"changed": o.changed,
		"path":    o.Path,
		"state":   o.State,
		"mode":    o.Mode,
	}
}

func (i *FileInput) validate() error {
	if i.Path == "" {
		return fmt.Errorf("file module requires 'path'")
	}
	switch i.State {
	case "", "present", "absent", "directory":
		return nil
	default:
		return fmt.Errorf("invalid file state %q, expected present, absent or directory", i.State)
	}
}

func parseMode(mode string) (os.FileMode, error) {
	parsed, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q, expected an octal string: %w", mode, err)
	}
	return os.FileMode(parsed), nil
}

func (m FileModule) Apply(ctx context.Context, args map[string]interface{}, closure *pkg.Closure, opts pkg.ApplyOptions) (pkg.Output, error) {
	var input FileInput
	if err := pkg.DecodeArgs(args, &input); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	state := input.State
	if state == "" {
		state = "present"
	}
	conn := closure.HostContext.Conn
	output := FileOutput{Path: input.Path, State: state, Mode: input.Mode}

	info, statErr := conn.Stat(input.Path, true)
	exists := statErr == nil

	if state == "absent" {
		if !exists {
			return output, nil
		}
		output.changed = true
		if opts.Check {
			return output, nil
		}
		if err := conn.Remove(input.Path); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", input.Path, err)
		}
		return output, nil
	}

	var mode os.FileMode
	if input.Mode != "" {
		parsed, err := parseMode(input.Mode)
		if err != nil {
			return nil, err
		}
		mode = parsed
	}

	if !exists {
		output.changed = true
		if opts.Check {
			return output, nil
		}
		if state == "directory" {
			createMode := mode
			if createMode == 0 {
				createMode = 0o755
			}
			if err := conn.MkdirAll(input.Path, createMode); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", input.Path, err)
			}
		} else {
			createMode := mode
			if createMode == 0 {
				createMode = 0o644
			}
			if err := conn.WriteFile(input.Path, nil, createMode); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", input.Path, err)
			}
		}
		if mode != 0 {
			if err := conn.Chmod(input.Path, mode); err != nil {
				return nil, fmt.Errorf("failed to set mode on %s: %w", input.Path, err)
			}
		}
		return output, nil
	}

	if state == "directory" && !info.IsDir() {
		return nil, fmt.Errorf("%s exists and is not a directory", input.Path)
	}

	if mode != 0 && info.Mode().Perm() != mode.Perm() {
		output.changed = true
		if opts.Check {
			return output, nil
		}
		if err := conn.Chmod(input.Path, mode); err != nil {
			return nil, fmt.Errorf("failed to set mode on %s: %w", input.Path, err)
		}
	}
	return output, nil
}

func init() {
	pkg.RegisterModule("file", FileModule{})
}
