package runtime

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"github.com/google/shlex"
	"github.com/opsrun/opsrun/pkg/common"
)

// LocalConnection executes against the machine the engine runs on.
type LocalConnection struct{}

func NewLocalConnection() *LocalConnection {
	return &LocalConnection{}
}

func (lc *LocalConnection) Close() error {
	return nil
}

func (lc *LocalConnection) ExecuteCommand(command string, opts *CommandOptions) (*CommandResult, error) {
	if command == "" {
		return nil, fmt.Errorf("command is empty")
	}

	cmdToRun := BuildCommand(command, opts)

	splitCmd, err := shlex.Split(cmdToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to split command %q: %w", cmdToRun, err)
	}
	prog := splitCmd[0]
	args := splitCmd[1:]
	absProg, err := exec.LookPath(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s in $PATH: %w", prog, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(absProg, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	common.DebugOutput("Running local command: %s", cmd.String())
	runErr := cmd.Run()
	rc := 0
	if runErr != nil {
		if exitError, ok := runErr.(*exec.ExitError); ok {
			rc = exitError.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to execute command %q: %w", cmd.String(), runErr)
		}
	}

	return NewCommandResult(cmd.String(), rc, cleanSudoPrompts(stdout.String()), cleanSudoPrompts(stderr.String())), nil
}

func (lc *LocalConnection) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read local file %s: %w", path, err)
	}
	return data, nil
}

func (lc *LocalConnection) WriteFile(path string, data []byte, mode os.FileMode) error {
	return os.WriteFile(path, data, mode)
}

func (lc *LocalConnection) Stat(path string, follow bool) (os.FileInfo, error) {
	if follow {
		return os.Stat(path)
	}
	return os.Lstat(path)
}

func (lc *LocalConnection) Chmod(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

func (lc *LocalConnection) Remove(path string) error {
	return os.RemoveAll(path)
}

func (lc *LocalConnection) MkdirAll(path string, mode os.FileMode) error {
	return os.MkdirAll(path, mode)
}
