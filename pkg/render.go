package pkg

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AlexanderGrooff/jinja-go"
	"github.com/opsrun/opsrun/pkg/common"
)

// maxRenderIterations guards against self-referential substitution: a string
// is re-rendered until it stops changing or this cap is hit.
const maxRenderIterations = 10

// RenderString substitutes variable references in s against scope,
// re-rendering until no markers remain. It fails with UndefinedVariableError
// when a referenced name is absent from the scope and carries no default
// filter, and with RenderCycleError when expansion does not converge.
func RenderString(s string, scope map[string]interface{}) (string, error) {
	if s == "" || !strings.Contains(s, "{{") {
		return s, nil
	}

	current := s
	for i := 0; i < maxRenderIterations; i++ {
		if err := checkUndefinedVariables(current, scope); err != nil {
			return "", err
		}
		rendered, err := jinja.TemplateString(current, scope)
		if err != nil {
			return "", fmt.Errorf("failed to template string %q: %w", current, err)
		}
		if rendered == current {
			return rendered, nil
		}
		common.DebugOutput("Templated %q into %q", current, rendered)
		current = rendered
		if !strings.Contains(current, "{{") {
			return current, nil
		}
	}
	return "", &RenderCycleError{Template: s, Iterations: maxRenderIterations}
}

var (
	defaultFilterPattern = regexp.MustCompile(`\|\s*default\s*\(`)
	templateExprPattern  = regexp.MustCompile(`\{\{.*?\}\}`)
)

// checkUndefinedVariables validates each {{ ... }} reference on its own, so
// a default filter only excuses the reference it is applied to, never its
// neighbours in the same string.
func checkUndefinedVariables(s string, scope map[string]interface{}) error {
	for _, expr := range templateExprPattern.FindAllString(s, -1) {
		if defaultFilterPattern.MatchString(expr) {
			continue
		}
		vars, err := jinja.ParseVariables(expr)
		if err != nil {
			// Leave malformed templates to the templating engine's own error.
			continue
		}
		for _, name := range vars {
			root := rootVariable(name)
			if root == "" {
				continue
			}
			if _, ok := scope[root]; !ok {
				return &UndefinedVariableError{Variable: root, Template: s}
			}
		}
	}
	return nil
}

// rootVariable reduces a reference like "pkg.version" or "users[0]" to the
// scope key it is looked up under.
func rootVariable(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.IndexAny(name, ".["); idx >= 0 {
		name = name[:idx]
	}
	return name
}

// RenderValue renders every string nested inside v, preserving structure.
// Map keys are used as-is; only values are templated.
func RenderValue(v interface{}, scope map[string]interface{}) (interface{}, error) {
	switch value := v.(type) {
	case string:
		return RenderString(value, scope)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, item := range value {
			rendered, err := RenderValue(item, scope)
			if err != nil {
				return nil, fmt.Errorf("failed to render value for key %q: %w", k, err)
			}
			out[k] = rendered
		}
		return out, nil
	case map[interface{}]interface{}:
		normalized, ok := asStringMap(value)
		if !ok {
			return v, nil
		}
		return RenderValue(normalized, scope)
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, item := range value {
			rendered, err := RenderValue(item, scope)
			if err != nil {
				return nil, fmt.Errorf("failed to render list element %d: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// RenderArgs renders a task's raw argument map into a concrete one.
func RenderArgs(args map[string]interface{}, scope map[string]interface{}) (map[string]interface{}, error) {
	if args == nil {
		return map[string]interface{}{}, nil
	}
	rendered, err := RenderValue(args, scope)
	if err != nil {
		return nil, err
	}
	out, ok := rendered.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("rendered arguments are not a mapping: %T", rendered)
	}
	return out, nil
}

// EvaluateGuard evaluates a when-expression against the scope and reports
// whether the task should run. An empty expression always passes.
func EvaluateGuard(expr string, scope map[string]interface{}) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	result, err := jinja.EvaluateExpression(expr, scope)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate guard %q: %w", expr, err)
	}
	return IsTruthy(result), nil
}

// IsTruthy applies the templating language's truthiness rules to an
// evaluated expression result.
func IsTruthy(v interface{}) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		lowered := strings.ToLower(strings.TrimSpace(value))
		return lowered != "" && lowered != "false"
	case int:
		return value != 0
	case int64:
		return value != 0
	case float64:
		return value != 0
	case []interface{}:
		return len(value) > 0
	case map[string]interface{}:
		return len(value) > 0
	default:
		return true
	}
}
