package pkg

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// reservedTaskKeys are task attributes; any other single key names the
// module to dispatch to.
var reservedTaskKeys = map[string]bool{
	"name":     true,
	"module":   true,
	"args":     true,
	"when":     true,
	"notify":   true,
	"register": true,
	"vars":     true,
}

// Task is one declarative step: a module name, its raw (possibly
// templated) arguments, an optional guard, and bookkeeping attributes.
// Immutable once loaded; rendering produces a separate concrete argument
// map per invocation.
type Task struct {
	Name     string
	Module   string
	Args     map[string]interface{}
	When     string
	Notify   []string
	Register string
	Vars     map[string]interface{}
	// IsHandler marks tasks that only run on notification.
	IsHandler bool
}

func (t *Task) String() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Module
}

// UnmarshalYAML parses the documented task shapes:
//
//	- name: install nginx
//	  package:
//	    name: nginx
//	  when: ansible_distribution == "Debian"
//	  notify: [restart nginx]
//
// and the explicit module/args form. A scalar module value is treated as
// free-form shorthand (command/shell style) and stored under "cmd".
func (t *Task) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("task must be a mapping (line %d)", node.Line)
	}

	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode task (line %d): %w", node.Line, err)
	}

	// Reserved keys first so an explicit module: declaration is seen before
	// any module-name key regardless of map iteration order.
	for key, value := range raw {
		switch key {
		case "name":
			if err := value.Decode(&t.Name); err != nil {
				return fmt.Errorf("invalid task name (line %d): %w", value.Line, err)
			}
		case "module":
			if err := value.Decode(&t.Module); err != nil {
				return fmt.Errorf("invalid module name (line %d): %w", value.Line, err)
			}
		case "args":
			if err := value.Decode(&t.Args); err != nil {
				return fmt.Errorf("invalid task args (line %d): %w", value.Line, err)
			}
		case "when":
			if err := value.Decode(&t.When); err != nil {
				return fmt.Errorf("invalid when expression (line %d): %w", value.Line, err)
			}
		case "register":
			if err := value.Decode(&t.Register); err != nil {
				return fmt.Errorf("invalid register name (line %d): %w", value.Line, err)
			}
		case "vars":
			if err := value.Decode(&t.Vars); err != nil {
				return fmt.Errorf("invalid task vars (line %d): %w", value.Line, err)
			}
		case "notify":
			if value.Kind == yaml.ScalarNode {
				var single string
				if err := value.Decode(&single); err != nil {
					return fmt.Errorf("invalid notify (line %d): %w", value.Line, err)
				}
				t.Notify = []string{single}
			} else {
				if err := value.Decode(&t.Notify); err != nil {
					return fmt.Errorf("invalid notify list (line %d): %w", value.Line, err)
				}
			}
		}
	}

	for key, value := range raw {
		if reservedTaskKeys[key] {
			continue
		}
		if t.Module != "" {
			return fmt.Errorf("task %q declares multiple modules: %q and %q (line %d)", t.Name, t.Module, key, value.Line)
		}
		t.Module = key
		if value.Kind == yaml.ScalarNode {
			var freeForm string
			if err := value.Decode(&freeForm); err != nil {
				return fmt.Errorf("invalid shorthand for module %q (line %d): %w", key, value.Line, err)
			}
			t.Args = map[string]interface{}{"cmd": freeForm}
		} else {
			if err := value.Decode(&t.Args); err != nil {
				return fmt.Errorf("invalid arguments for module %q (line %d): %w", key, value.Line, err)
			}
		}
	}

	if t.Module == "" {
		return fmt.Errorf("task %q does not name a module (line %d)", t.Name, node.Line)
	}
	if t.Name == "" {
		t.Name = t.Module
	}
	if t.Args == nil {
		t.Args = map[string]interface{}{}
	}
	return nil
}

// ShouldExecute evaluates the task's guard against the closure scope.
func (t *Task) ShouldExecute(closure *Closure) (bool, error) {
	return EvaluateGuard(t.When, closure.Scope())
}

// LoadTaskList parses a YAML document containing a list of tasks, as found
// in role task/handler files.
func LoadTaskList(data []byte) ([]Task, error) {
	var tasks []Task
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("error parsing task list: %w", err)
	}
	return tasks, nil
}
