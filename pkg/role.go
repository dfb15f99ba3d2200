package pkg

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Role is a reusable bundle of tasks, handlers and variable fragments laid
// out as roles/<name>/{tasks,handlers,defaults,vars}/main.yml.
type Role struct {
	Name     string
	Tasks    []Task
	Handlers []Task
	Defaults map[string]interface{}
	Vars     map[string]interface{}
}

// RoleLoader resolves role names against an ordered list of search paths.
type RoleLoader struct {
	Paths []string
}

// NewRoleLoader builds a loader; with no paths it falls back to "roles".
func NewRoleLoader(paths []string) *RoleLoader {
	if len(paths) == 0 {
		paths = []string{"roles"}
	}
	return &RoleLoader{Paths: paths}
}

// Load expands a named role into its constituent task list, handler list
// and variable fragments. It fails with RoleNotFoundError when the role's
// directory is absent from every search path; individual main.yml files
// are optional.
func (l *RoleLoader) Load(name string) (*Role, error) {
	roleDir := ""
	for _, base := range l.Paths {
		candidate := filepath.Join(base, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			roleDir = candidate
			break
		}
	}
	if roleDir == "" {
		return nil, &RoleNotFoundError{Role: name, SearchedPaths: l.Paths}
	}

	role := &Role{Name: name}

	tasks, err := loadRoleTaskFile(filepath.Join(roleDir, "tasks", "main.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks for role %q: %w", name, err)
	}
	role.Tasks = tasks

	handlers, err := loadRoleTaskFile(filepath.Join(roleDir, "handlers", "main.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load handlers for role %q: %w", name, err)
	}
	for i := range handlers {
		handlers[i].IsHandler = true
	}
	role.Handlers = handlers

	role.Defaults, err = loadRoleVarsFile(filepath.Join(roleDir, "defaults", "main.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load defaults for role %q: %w", name, err)
	}
	role.Vars, err = loadRoleVarsFile(filepath.Join(roleDir, "vars", "main.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load vars for role %q: %w", name, err)
	}

	return role, nil
}

func loadRoleTaskFile(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return LoadTaskList(data)
}

func loadRoleVarsFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var vars map[string]interface{}
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("error parsing vars file %s: %w", path, err)
	}
	return vars, nil
}
