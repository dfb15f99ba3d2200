package runtime

import (
	"fmt"
	"strings"
)

// CommandResult represents the result of a command execution.
type CommandResult struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func NewCommandResult(command string, exitCode int, stdout, stderr string) *CommandResult {
	return &CommandResult{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}
}

// Failed reports whether the command exited non-zero.
func (r *CommandResult) Failed() bool {
	return r.ExitCode != 0
}

// CommandOptions holds configuration for command execution.
type CommandOptions struct {
	// BecomeUser, when set, wraps the command in sudo -u <user>.
	BecomeUser string
	// UseShell runs the command through /bin/bash -c instead of exec-ing it
	// directly.
	UseShell bool
}

// escapeShellCommand escapes a command for use within bash -c '...'.
func escapeShellCommand(command string) string {
	escaped := strings.ReplaceAll(command, "\r\n", "\n")
	return strings.ReplaceAll(escaped, "'", `'\''`)
}

// BuildCommand constructs the final command string based on options.
func BuildCommand(command string, opts *CommandOptions) string {
	if command == "" || opts == nil {
		return command
	}

	if opts.UseShell {
		command = fmt.Sprintf("/bin/bash -c '%s'", escapeShellCommand(command))
	}
	if opts.BecomeUser != "" {
		command = fmt.Sprintf("sudo -n -u %s %s", opts.BecomeUser, command)
	}
	return command
}

// cleanSudoPrompts removes sudo password prompts from command output.
func cleanSudoPrompts(output string) string {
	lines := strings.Split(output, "\n")
	var cleaned []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[sudo] password for ") ||
			strings.HasPrefix(trimmed, "sudo: no tty present") ||
			strings.HasPrefix(trimmed, "sudo: a password is required") {
			continue
		}
		cleaned = append(cleaned, line)
	}
	return strings.Join(cleaned, "\n")
}
