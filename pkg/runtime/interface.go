package runtime

import "os"

// Connection is the narrow interface the engine depends on for every
// module's actual effect on a target host. Implementations own transport
// and authentication; the engine only assembles action descriptors and
// consumes results.
type Connection interface {
	// ExecuteCommand runs a command on the target and returns its result.
	// A non-zero exit code is reported through the result, not the error.
	ExecuteCommand(command string, opts *CommandOptions) (*CommandResult, error)

	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, mode os.FileMode) error
	Stat(path string, follow bool) (os.FileInfo, error)
	Chmod(path string, mode os.FileMode) error
	Remove(path string) error
	MkdirAll(path string, mode os.FileMode) error

	Close() error
}
