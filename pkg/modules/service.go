package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/opsrun/opsrun/pkg"
	"github.com/opsrun/opsrun/pkg/runtime"
)

// ServiceModule manages systemd units.
type ServiceModule struct{}

// ServiceInput defines the parameters for the service module.
type ServiceInput struct {
	Name    string `yaml:"name"`
	State   string `yaml:"state"`   // started, stopped, restarted
	Enabled *bool  `yaml:"enabled"` // nil leaves boot enablement untouched
}

// ServiceOutput reports the unit's resulting state.
type ServiceOutput struct {
	Name    string
	State   string
	Enabled *bool
	changed bool
}

func (o ServiceOutput) Changed() bool {
	return o.changed
}

func (o ServiceOutput) String() string {
	return fmt.Sprintf("service %s state=%s changed=%t", o.Name, o.State, o.changed)
}

func (o ServiceOutput) AsFacts() map[string]interface{} {
	facts := map[string]interface{}{
		"changed": o.changed,
		"name":    o.Name,
		"state":   o.State,
	}
	if o.Enabled != nil {
		facts["enabled"] = *o.Enabled
	}
	return facts
}

func (i *ServiceInput) validate() error {
	if i.Name == "" {
		return fmt.Errorf("service module requires 'name'")
	}
	switch i.State {
	case "", "started", "stopped", "restarted":
		return nil
	default:
		return fmt.Errorf("invalid service state %q, expected started, stopped or restarted", i.State)
	}
}

func systemctlProbe(conn runtime.Connection, verb, unit string, cmdOpts *runtime.CommandOptions) (bool, error) {
	result, err := conn.ExecuteCommand(fmt.Sprintf("systemctl %s %s", verb, unit), cmdOpts)
	if err != nil {
		return false, err
	}
	// is-active/is-enabled exit non-zero for inactive/disabled units; the
	// stdout verdict is the answer either way.
	verdict := strings.TrimSpace(result.Stdout)
	return verdict == "active" || verdict == "enabled", nil
}

func (m ServiceModule) Apply(ctx context.Context, args map[string]interface{}, closure *pkg.Closure, opts pkg.ApplyOptions) (pkg.Output, error) {
	var input ServiceInput
	if err := pkg.DecodeArgs(args, &input); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	conn := closure.HostContext.Conn
	cmdOpts := &runtime.CommandOptions{BecomeUser: opts.BecomeUser}
	output := ServiceOutput{Name: input.Name, State: input.State, Enabled: input.Enabled}

	runVerb := ""
	switch input.State {
	case "started":
		active, err := systemctlProbe(conn, "is-active", input.Name, cmdOpts)
		if err != nil {
			return nil, err
		}
		if !active {
			runVerb = "start"
		}
	case "stopped":
		active, err := systemctlProbe(conn, "is-active", input.Name, cmdOpts)
		if err != nil {
			return nil, err
		}
		if active {
			runVerb = "stop"
		}
	case "restarted":
		runVerb = "restart"
	}

	enableVerb := ""
	if input.Enabled != nil {
		enabled, err := systemctlProbe(conn, "is-enabled", input.Name, cmdOpts)
		if err != nil {
			return nil, err
		}
		if *input.Enabled && !enabled {
			enableVerb = "enable"
		} else if !*input.Enabled && enabled {
			enableVerb = "disable"
		}
	}

	if runVerb == "" && enableVerb == "" {
		return output, nil
	}
	if opts.Check {
		output.changed = true
		return output, nil
	}

	for _, verb := range []string{runVerb, enableVerb} {
		if verb == "" {
			continue
		}
		result, err := conn.ExecuteCommand(fmt.Sprintf("systemctl %s %s", verb, input.Name), cmdOpts)
		if err != nil {
			return nil, err
		}
		if result.Failed() {
			return nil, fmt.Errorf("systemctl %s %s failed (rc=%d): %s", verb, input.Name, result.ExitCode, result.Stderr)
		}
	}
	output.changed = true
	return output, nil
}

func init() {
	pkg.RegisterModule("service", ServiceModule{})
}
