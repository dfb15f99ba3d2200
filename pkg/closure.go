package pkg

import (
	"fmt"

	"github.com/opsrun/opsrun/pkg/config"
	"github.com/opsrun/opsrun/pkg/runtime"
)

// HostContext owns one host's execution stream: its merge lineage result,
// facts registered during the run, the connection to the target, and the
// handler tracker. A host stream is strictly sequential, so no locking is
// needed around Facts.
type HostContext struct {
	Host     *Host
	Facts    map[string]interface{}
	Conn     runtime.Connection
	Handlers *HandlerTracker
}

// InitializeHostContext builds the per-host context, dialing the target
// unless it is local. baseScope is the host's effective variable scope as
// produced by the Variable Resolver.
func InitializeHostContext(host *Host, baseScope map[string]interface{}, cfg *config.Config) (*HostContext, error) {
	facts := copyStringMap(baseScope)
	facts["inventory_hostname"] = host.Name

	hc := &HostContext{
		Host:  host,
		Facts: facts,
	}

	if host.IsLocal {
		hc.Conn = runtime.NewLocalConnection()
		return hc, nil
	}

	opts := runtime.SSHOptions{}
	if cfg != nil {
		opts.User = cfg.SSH.User
		opts.Port = cfg.SSH.Port
		opts.PrivateKeyFile = cfg.SSH.PrivateKeyFile
	}
	if keyFile, ok := hc.Facts["ssh_private_key_file"].(string); ok && keyFile != "" {
		opts.PrivateKeyFile = keyFile
	}
	if sshUser, ok := hc.Facts["ssh_user"].(string); ok && sshUser != "" {
		opts.User = sshUser
	}

	conn, err := runtime.NewSSHConnection(host.Host, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to host %s: %w", host.Name, err)
	}
	hc.Conn = conn
	return hc, nil
}

// SetFact records a fact (e.g. a register-ed result) for later tasks.
func (c *HostContext) SetFact(key string, value interface{}) {
	c.Facts[key] = value
}

// Close releases the host's connection.
func (c *HostContext) Close() error {
	if c.Conn != nil {
		err := c.Conn.Close()
		c.Conn = nil
		return err
	}
	return nil
}

// Closure is the variable scope a single task invocation sees: the host's
// facts plus task-scoped extras (task vars, loop items).
type Closure struct {
	HostContext *HostContext
	ExtraFacts  map[string]interface{}
}

// ConstructClosure builds the closure for one task against one host.
func ConstructClosure(c *HostContext, task *Task) *Closure {
	closure := &Closure{
		HostContext: c,
		ExtraFacts:  make(map[string]interface{}),
	}
	for k, v := range task.Vars {
		closure.ExtraFacts[k] = v
	}
	return closure
}

// Scope flattens the closure into the mapping fed to the renderer. Extra
// facts take precedence over host facts.
func (c *Closure) Scope() map[string]interface{} {
	scope := make(map[string]interface{})
	if c == nil {
		return scope
	}
	if c.HostContext != nil {
		for k, v := range c.HostContext.Facts {
			scope[k] = v
		}
	}
	for k, v := range c.ExtraFacts {
		scope[k] = v
	}
	return scope
}
