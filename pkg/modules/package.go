package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/opsrun/opsrun/pkg"
	"github.com/opsrun/opsrun/pkg/common"
	"github.com/opsrun/opsrun/pkg/runtime"
)

// PackageModule manages apt packages on the target.
type PackageModule struct{}

// PackageInput defines the parameters for the package module.
type PackageInput struct {
	Name        interface{} `yaml:"name"`         // Package name (string or list of strings)
	State       string      `yaml:"state"`        // present (default), absent, latest
	UpdateCache bool        `yaml:"update_cache"` // Run apt-get update before acting
}

// PackageOutput reports which packages the module touched.
type PackageOutput struct {
	Packages []string
	State    string
	changed  bool
}

func (o PackageOutput) Changed() bool {
	return o.changed
}

func (o PackageOutput) String() string {
	return fmt.Sprintf("packages %v state=%s changed=%t", o.Packages, o.State, o.changed)
}

func (o PackageOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"changed":  o.changed,
		"packages": o.Packages,
		"state":    o.State,
	}
}

func (i *PackageInput) packageNames() ([]string, error) {
	switch v := i.Name.(type) {
	case nil:
		if i.UpdateCache {
			return nil, nil
		}
		return nil, fmt.Errorf("package module requires 'name' unless update_cache is set")
	case string:
		if v == "" {
			return nil, fmt.Errorf("package name must not be empty")
		}
		return []string{v}, nil
	case []interface{}:
		names := make([]string, 0, len(v))
		for _, item := range v {
			name, ok := item.(string)
			if !ok || name == "" {
				return nil, fmt.Errorf("package names must be non-empty strings, got %v", item)
			}
			names = append(names, name)
		}
		return names, nil
	default:
		return nil, fmt.Errorf("package 'name' must be a string or list of strings, got %T", v)
	}
}

func (i *PackageInput) validate() error {
	switch i.State {
	case "", "present", "absent", "latest":
		return nil
	default:
		return fmt.Errorf("invalid package state %q, expected present, absent or latest", i.State)
	}
}

// isInstalled probes dpkg for the package's install status.
func isInstalled(conn runtime.Connection, name string, cmdOpts *runtime.CommandOptions) (bool, error) {
	result, err := conn.ExecuteCommand(fmt.Sprintf("dpkg-query -W -f='${Status}' %s", name), cmdOpts)
	if err != nil {
		return false, err
	}
	if result.Failed() {
		// dpkg-query exits non-zero for unknown packages.
		return false, nil
	}
	return strings.Contains(result.Stdout, "install ok installed"), nil
}

func (m PackageModule) Apply(ctx context.Context, args map[string]interface{}, closure *pkg.Closure, opts pkg.ApplyOptions) (pkg.Output, error) {
	var input PackageInput
	if err := pkg.DecodeArgs(args, &input); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	names, err := input.packageNames()
	if err != nil {
		return nil, err
	}

	state := input.State
	if state == "" {
		state = "present"
	}
	conn := closure.HostContext.Conn
	cmdOpts := &runtime.CommandOptions{BecomeUser: opts.BecomeUser}
	output := PackageOutput{State: state}

	if input.UpdateCache && !opts.Check {
		result, err := conn.ExecuteCommand("apt-get update -q", cmdOpts)
		if err != nil {
			return nil, err
		}
		if result.Failed() {
			return nil, fmt.Errorf("apt-get update failed: %s", result.Stderr)
		}
	}

	// Probe first so an already-converged host reports no change.
	var pending []string
	for _, name := range names {
		installed, err := isInstalled(conn, name, cmdOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to query package %s: %w", name, err)
		}
		switch state {
		case "present":
			if !installed {
				pending = append(pending, name)
			}
		case "absent":
			if installed {
				pending = append(pending, name)
			}
		case "latest":
			// apt-get install --only-upgrade decides; treat every named
			// package as pending and let the act step report the change.
			pending = append(pending, name)
		}
	}
	output.Packages = pending

	if len(pending) == 0 {
		return output, nil
	}
	if opts.Check {
		if state == "latest" {
			// apt's simulation mode answers whether upgrades are pending
			// without touching the target.
			result, err := conn.ExecuteCommand(fmt.Sprintf("apt-get install -s --only-upgrade %s", strings.Join(pending, " ")), cmdOpts)
			if err != nil {
				return nil, err
			}
			if result.Failed() {
				return nil, fmt.Errorf("apt-get simulation failed (rc=%d): %s", result.ExitCode, result.Stderr)
			}
			output.changed = !strings.Contains(result.Stdout, "0 upgraded, 0 newly installed")
			return output, nil
		}
		output.changed = true
		return output, nil
	}

	var command string
	switch state {
	case "present":
		command = fmt.Sprintf("apt-get install -y %s", strings.Join(pending, " "))
	case "absent":
		command = fmt.Sprintf("apt-get remove -y %s", strings.Join(pending, " "))
	case "latest":
		command = fmt.Sprintf("apt-get install -y --only-upgrade %s", strings.Join(pending, " "))
	}
	common.LogDebug("Running package command", map[string]interface{}{
		"command": command,
		"host":    closure.HostContext.Host.Name,
	})
	result, err := conn.ExecuteCommand(command, cmdOpts)
	if err != nil {
		return nil, err
	}
	if result.Failed() {
		return nil, fmt.Errorf("package command failed (rc=%d): %s", result.ExitCode, result.Stderr)
	}
	if state == "latest" {
		output.changed = !strings.Contains(result.Stdout, "0 upgraded, 0 newly installed")
	} else {
		output.changed = true
	}
	return output, nil
}

func init() {
	pkg.RegisterModule("package", PackageModule{})
}
