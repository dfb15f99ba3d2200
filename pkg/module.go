package pkg

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// Output is the result a module reports back to the engine. Changed must
// follow the idempotence law: applying the same arguments against the
// resulting state reports false.
type Output interface {
	Changed() bool
	String() string
}

// FactProvider is implemented by outputs that expose structured facts for
// register-ed results.
type FactProvider interface {
	AsFacts() map[string]interface{}
}

// OutputFacts converts a module output into the fact map stored under a
// task's register name.
func OutputFacts(output Output) map[string]interface{} {
	if output == nil {
		return map[string]interface{}{"changed": false}
	}
	if fp, ok := output.(FactProvider); ok {
		facts := fp.AsFacts()
		if _, present := facts["changed"]; !present {
			facts["changed"] = output.Changed()
		}
		return facts
	}
	return map[string]interface{}{
		"changed": output.Changed(),
		"output":  output.String(),
	}
}

// ApplyOptions carries run-wide switches into a module invocation.
type ApplyOptions struct {
	// Check asks the module to report its changed verdict without mutating
	// target state.
	Check bool
	// BecomeUser, when set, runs the module's commands as this user.
	BecomeUser string
}

// Module is an idempotent state-changing operation dispatched by name.
// Implementations decode the rendered argument map themselves (usually via
// DecodeArgs) so each module owns its own parameter schema.
type Module interface {
	Apply(ctx context.Context, args map[string]interface{}, closure *Closure, opts ApplyOptions) (Output, error)
}

var registeredModules = make(map[string]Module)

// RegisterModule allows modules to register themselves by name.
func RegisterModule(name string, module Module) {
	if _, exists := registeredModules[name]; exists {
		panic(fmt.Sprintf("module %s already registered", name))
	}
	registeredModules[name] = module
}

// GetModule retrieves a registered module by name.
func GetModule(name string) (Module, bool) {
	module, ok := registeredModules[name]
	return module, ok
}

// ResolveModule looks up a task's module, failing with UnknownModuleError.
func ResolveModule(taskName, moduleName string) (Module, error) {
	module, ok := registeredModules[moduleName]
	if !ok {
		return nil, &UnknownModuleError{Module: moduleName, Task: taskName}
	}
	return module, nil
}

// RegisteredModuleNames returns the sorted names of all registered modules.
func RegisteredModuleNames() []string {
	names := make([]string, 0, len(registeredModules))
	for name := range registeredModules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeArgs decodes a rendered argument map into a module's typed input.
// Unknown keys are an error so typos in playbooks surface immediately.
func DecodeArgs(args map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "yaml",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build argument decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("invalid module arguments: %w", err)
	}
	return nil
}
