package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/opsrun/opsrun/pkg"
	"github.com/opsrun/opsrun/pkg/runtime"
)

// CommandModule runs an arbitrary command on the target. It is never
// idempotent by itself; 'creates' restores idempotence by skipping the run
// when a marker path exists.
type CommandModule struct{}

// CommandInput defines the parameters for the command module. A bare
// string task value maps onto Cmd.
type CommandInput struct {
	Cmd     string `yaml:"cmd"`
	Chdir   string `yaml:"chdir"`
	Creates string `yaml:"creates"`
}

// CommandOutput carries the command's streams and exit code.
type CommandOutput struct {
	Command string
	Stdout  string
	Stderr  string
	Rc      int
	changed bool
}

func (o CommandOutput) Changed() bool {
	return o.changed
}

func (o CommandOutput) String() string {
	return fmt.Sprintf("command %q rc=%d", o.Command, o.Rc)
}

func (o CommandOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"changed": o.changed,
		"cmd":     o.Command,
		"stdout":  strings.TrimRight(o.Stdout, "\n"),
		"stderr":  strings.TrimRight(o.Stderr, "\n"),
		"rc":      o.Rc,
	}
}

func (i *CommandInput) validate() error {
	if strings.TrimSpace(i.Cmd) == "" {
		return fmt.Errorf("command module requires 'cmd'")
	}
	return nil
}

func runCommandTask(input *CommandInput, closure *pkg.Closure, opts pkg.ApplyOptions, useShell bool) (pkg.Output, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	conn := closure.HostContext.Conn
	output := CommandOutput{Command: input.Cmd}

	if input.Creates != "" {
		if _, err := conn.Stat(input.Creates, true); err == nil {
			return output, nil
		}
	}

	output.changed = true
	if opts.Check {
		// A free-form command cannot be previewed; report it as a would-run
		// change without executing.
		return output, nil
	}

	command := input.Cmd
	if input.Chdir != "" {
		command = fmt.Sprintf("cd %s && %s", input.Chdir, command)
		useShell = true
	}
	result, err := conn.ExecuteCommand(command, &runtime.CommandOptions{
		BecomeUser: opts.BecomeUser,
		UseShell:   useShell,
	})
	if err != nil {
		return nil, err
	}
	output.Stdout = result.Stdout
	output.Stderr = result.Stderr
	output.Rc = result.ExitCode
	if result.Failed() {
		return nil, fmt.Errorf("command %q failed (rc=%d): %s", input.Cmd, result.ExitCode, result.Stderr)
	}
	return output, nil
}

func (m CommandModule) Apply(ctx context.Context, args map[string]interface{}, closure *pkg.Closure, opts pkg.ApplyOptions) (pkg.Output, error) {
	var input CommandInput
	if err := pkg.DecodeArgs(args, &input); err != nil {
		return nil, err
	}
	return runCommandTask(&input, closure, opts, false)
}

func init() {
	pkg.RegisterModule("command", CommandModule{})
}
