package modules

import (
	"fmt"
	"os"
	"time"

	"github.com/opsrun/opsrun/pkg"
	"github.com/opsrun/opsrun/pkg/runtime"
)

// fakeConn is an in-memory Connection for module tests: scripted command
// results plus a simple path table for file operations.
type fakeConn struct {
	files     map[string][]byte
	modes     map[string]os.FileMode
	dirs      map[string]bool
	responses map[string]*runtime.CommandResult
	executed  []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		files:     map[string][]byte{},
		modes:     map[string]os.FileMode{},
		dirs:      map[string]bool{},
		responses: map[string]*runtime.CommandResult{},
	}
}

func (c *fakeConn) respond(command string, exitCode int, stdout string) {
	c.responses[command] = &runtime.CommandResult{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   stdout,
	}
}

func (c *fakeConn) ExecuteCommand(command string, opts *runtime.CommandOptions) (*runtime.CommandResult, error) {
	final := runtime.BuildCommand(command, opts)
	c.executed = append(c.executed, final)
	if result, ok := c.responses[command]; ok {
		return result, nil
	}
	return &runtime.CommandResult{Command: final, ExitCode: 0}, nil
}

func (c *fakeConn) ReadFile(path string) ([]byte, error) {
	data, ok := c.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (c *fakeConn) WriteFile(path string, data []byte, mode os.FileMode) error {
	c.files[path] = data
	c.modes[path] = mode
	return nil
}

func (c *fakeConn) Stat(path string, follow bool) (os.FileInfo, error) {
	if c.dirs[path] {
		return fakeFileInfo{name: path, mode: os.ModeDir | c.modes[path], dir: true}, nil
	}
	if data, ok := c.files[path]; ok {
		return fakeFileInfo{name: path, size: int64(len(data)), mode: c.modes[path]}, nil
	}
	return nil, os.ErrNotExist
}

func (c *fakeConn) Chmod(path string, mode os.FileMode) error {
	if _, ok := c.files[path]; !ok && !c.dirs[path] {
		return fmt.Errorf("chmod %s: %w", path, os.ErrNotExist)
	}
	c.modes[path] = mode
	return nil
}

func (c *fakeConn) Remove(path string) error {
	if _, ok := c.files[path]; !ok && !c.dirs[path] {
		return fmt.Errorf("remove %s: %w", path, os.ErrNotExist)
	}
	delete(c.files, path)
	delete(c.modes, path)
	delete(c.dirs, path)
	return nil
}

func (c *fakeConn) MkdirAll(path string, mode os.FileMode) error {
	c.dirs[path] = true
	c.modes[path] = mode
	return nil
}

func (c *fakeConn) Close() error { return nil }

type fakeFileInfo struct {
	name string
	size int64
	mode os.FileMode
	dir  bool
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() os.FileMode  { return f.mode }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return f.dir }
func (f fakeFileInfo) Sys() interface{}   { return nil }

func testClosure(conn runtime.Connection, facts map[string]interface{}) *pkg.Closure {
	if facts == nil {
		facts = map[string]interface{}{}
	}
	return &pkg.Closure{
		HostContext: &pkg.HostContext{
			Host:  &pkg.Host{Name: "test-host", Host: "localhost", IsLocal: true},
			Facts: facts,
			Conn:  conn,
		},
		ExtraFacts: map[string]interface{}{},
	}
}
