package pkg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsrun/opsrun/pkg/config"
)

// stepModule is a scriptable module for engine tests: its arguments decide
// whether the invocation reports a change or fails, and every invocation is
// recorded.
type stepModule struct{}

type stepOutput struct {
	changed bool
	label   string
}

func (o stepOutput) Changed() bool  { return o.changed }
func (o stepOutput) String() string { return o.label }
func (o stepOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{"changed": o.changed, "label": o.label}
}

var stepLog = struct {
	mu    sync.Mutex
	calls []string
}{}

func resetStepLog() {
	stepLog.mu.Lock()
	stepLog.calls = nil
	stepLog.mu.Unlock()
}

func stepCalls() []string {
	stepLog.mu.Lock()
	defer stepLog.mu.Unlock()
	return append([]string(nil), stepLog.calls...)
}

func stepCallsForHost(host string) []string {
	var calls []string
	prefix := host + "/"
	for _, call := range stepCalls() {
		if len(call) > len(prefix) && call[:len(prefix)] == prefix {
			calls = append(calls, call[len(prefix):])
		}
	}
	return calls
}

func (stepModule) Apply(ctx context.Context, args map[string]interface{}, closure *Closure, opts ApplyOptions) (Output, error) {
	id := fmt.Sprint(args["id"])
	entry := closure.HostContext.Host.Name + "/" + id
	if opts.Check {
		entry += "/check"
	}
	stepLog.mu.Lock()
	stepLog.calls = append(stepLog.calls, entry)
	stepLog.mu.Unlock()

	if IsTruthy(args["fail"]) {
		return nil, errors.New("step failed on purpose")
	}
	return stepOutput{changed: IsTruthy(args["changed"]), label: id}, nil
}

func init() {
	RegisterModule("step", stepModule{})
}

func testConfig() *config.Config {
	return &config.Config{
		Forks:    4,
		FailFast: true,
		Logging:  config.LoggingConfig{Format: "json", Level: "error"},
	}
}

func testExecutor() *Executor {
	e := NewExecutor(testConfig())
	e.Out = io.Discard
	return e
}

func twoLocalHosts() *Inventory {
	return &Inventory{
		Hosts: map[string]*Host{
			"alpha": {Name: "alpha", Host: "localhost", IsLocal: true, Vars: map[string]interface{}{"should_fail": true}},
			"beta":  {Name: "beta", Host: "localhost", IsLocal: true, Vars: map[string]interface{}{"should_fail": false}},
		},
		Groups: map[string]*Group{},
	}
}

func stepTask(name, id string, extra map[string]interface{}) Task {
	args := map[string]interface{}{"id": id}
	for k, v := range extra {
		args[k] = v
	}
	return Task{Name: name, Module: "step", Args: args}
}

func runPlay(t *testing.T, e *Executor, play Play, req *RunRequest) RunResult {
	t.Helper()
	req.Playbook = &Playbook{Plays: []Play{play}, Path: "test-playbook.yml"}
	results, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	return results
}

func TestRunAllHostsAllTasks(t *testing.T) {
	resetStepLog()

	play := Play{
		Name:  "basic",
		Hosts: "all",
		Tasks: []Task{
			stepTask("one", "1", nil),
			stepTask("two", "2", map[string]interface{}{"changed": true}),
		},
	}
	results := runPlay(t, testExecutor(), play, &RunRequest{Inventory: twoLocalHosts()})

	require.Len(t, results, 2)
	assert.False(t, results.Failed())
	assert.Equal(t, []string{"1", "2"}, stepCallsForHost("alpha"))
	assert.Equal(t, []string{"1", "2"}, stepCallsForHost("beta"))

	alpha := results["alpha"]
	require.Len(t, alpha.Outcomes, 2)
	assert.Equal(t, StatusOK, alpha.Outcomes[0].Status)
	assert.Equal(t, StatusChanged, alpha.Outcomes[1].Status)
}

func TestRunGuardFalseSkipsWithoutInvoking(t *testing.T) {
	resetStepLog()

	skipped := stepTask("guarded", "guarded", nil)
	skipped.When = "deploy_enabled"
	play := Play{
		Name:  "guards",
		Hosts: "alpha",
		Vars:  map[string]interface{}{"deploy_enabled": false},
		Tasks: []Task{skipped, stepTask("after", "after", nil)},
	}
	results := runPlay(t, testExecutor(), play, &RunRequest{Inventory: twoLocalHosts()})

	alpha := results["alpha"]
	require.Len(t, alpha.Outcomes, 2)
	assert.Equal(t, StatusSkipped, alpha.Outcomes[0].Status)
	assert.Equal(t, StatusOK, alpha.Outcomes[1].Status)
	assert.Equal(t, []string{"after"}, stepCallsForHost("alpha"))
}

func TestRunFailFastIsolatedPerHost(t *testing.T) {
	resetStepLog()

	failing := stepTask("maybe fail", "2", map[string]interface{}{"fail": "{{ should_fail }}"})
	play := Play{
		Name:  "failures",
		Hosts: "all",
		Tasks: []Task{
			stepTask("one", "1", nil),
			failing,
			stepTask("three", "3", nil),
			stepTask("four", "4", nil),
		},
	}
	results := runPlay(t, testExecutor(), play, &RunRequest{Inventory: twoLocalHosts()})

	assert.True(t, results.Failed())

	alpha := results["alpha"]
	require.Len(t, alpha.Outcomes, 4)
	assert.Equal(t, StatusOK, alpha.Outcomes[0].Status)
	assert.Equal(t, StatusFailed, alpha.Outcomes[1].Status)
	assert.Equal(t, StatusSkipped, alpha.Outcomes[2].Status)
	assert.Equal(t, StatusSkipped, alpha.Outcomes[3].Status)

	var taskErr *TaskError
	require.True(t, errors.As(alpha.Outcomes[1].Err, &taskErr))
	assert.Equal(t, "alpha", taskErr.Host)

	beta := results["beta"]
	require.Len(t, beta.Outcomes, 4)
	for _, outcome := range beta.Outcomes {
		assert.Equal(t, StatusOK, outcome.Status)
	}
	assert.Equal(t, []string{"1", "2"}, stepCallsForHost("alpha"))
	assert.Equal(t, []string{"1", "2", "3", "4"}, stepCallsForHost("beta"))
}

func TestRunHandlersRunOnceInFirstNotifiedOrder(t *testing.T) {
	resetStepLog()

	first := stepTask("touch config", "t1", map[string]interface{}{"changed": true})
	first.Notify = []string{"handler-b", "handler-a"}
	second := stepTask("touch again", "t2", map[string]interface{}{"changed": true})
	second.Notify = []string{"handler-b"}
	unchanged := stepTask("steady", "t3", nil)
	unchanged.Notify = []string{"handler-a"}

	handlerA := stepTask("handler-a", "ha", nil)
	handlerA.IsHandler = true
	handlerB := stepTask("handler-b", "hb", nil)
	handlerB.IsHandler = true

	play := Play{
		Name:     "handlers",
		Hosts:    "alpha",
		Tasks:    []Task{first, second, unchanged},
		Handlers: []Task{handlerA, handlerB},
	}
	results := runPlay(t, testExecutor(), play, &RunRequest{Inventory: twoLocalHosts()})

	assert.Equal(t, []string{"t1", "t2", "t3", "hb", "ha"}, stepCallsForHost("alpha"))

	alpha := results["alpha"]
	require.Len(t, alpha.Outcomes, 5)
	assert.True(t, alpha.Outcomes[3].Handler)
	assert.Equal(t, "handler-b", alpha.Outcomes[3].Task)
	assert.Equal(t, "handler-a", alpha.Outcomes[4].Task)
}

func TestRunUnchangedTaskDoesNotNotify(t *testing.T) {
	resetStepLog()

	task := stepTask("steady", "t1", nil)
	task.Notify = []string{"handler-a"}
	handlerA := stepTask("handler-a", "ha", nil)
	handlerA.IsHandler = true

	play := Play{
		Name:     "no notify",
		Hosts:    "alpha",
		Tasks:    []Task{task},
		Handlers: []Task{handlerA},
	}
	runPlay(t, testExecutor(), play, &RunRequest{Inventory: twoLocalHosts()})

	assert.Equal(t, []string{"t1"}, stepCallsForHost("alpha"))
}

func TestRunRegisterExposesFactsToLaterTasks(t *testing.T) {
	resetStepLog()

	producer := stepTask("produce", "p", map[string]interface{}{"changed": true})
	producer.Register = "result"
	consumer := stepTask("consume", "c", nil)
	consumer.When = "result.changed"
	skippedConsumer := stepTask("never", "n", nil)
	skippedConsumer.When = "not result.changed"

	play := Play{
		Name:  "register",
		Hosts: "alpha",
		Tasks: []Task{producer, consumer, skippedConsumer},
	}
	results := runPlay(t, testExecutor(), play, &RunRequest{Inventory: twoLocalHosts()})

	assert.Equal(t, []string{"p", "c"}, stepCallsForHost("alpha"))
	assert.Equal(t, StatusSkipped, results["alpha"].Outcomes[2].Status)
}

func TestRunUnknownModuleFailsBeforeAnyTask(t *testing.T) {
	resetStepLog()

	play := Play{
		Name:  "bad module",
		Hosts: "all",
		Tasks: []Task{
			stepTask("fine", "1", nil),
			{Name: "broken", Module: "bogus", Args: map[string]interface{}{}},
		},
	}
	e := testExecutor()
	_, err := e.Run(context.Background(), &RunRequest{
		Playbook:  &Playbook{Plays: []Play{play}, Path: "test-playbook.yml"},
		Inventory: twoLocalHosts(),
	})
	require.Error(t, err)

	var unknownErr *UnknownModuleError
	require.True(t, errors.As(err, &unknownErr))
	assert.Equal(t, "bogus", unknownErr.Module)
	assert.Empty(t, stepCalls())
}

func TestRunLimitRestrictsHosts(t *testing.T) {
	resetStepLog()

	play := Play{
		Name:  "limited",
		Hosts: "all",
		Tasks: []Task{stepTask("one", "1", nil)},
	}
	results := runPlay(t, testExecutor(), play, &RunRequest{
		Inventory: twoLocalHosts(),
		Limit:     "beta",
	})

	require.Len(t, results, 1)
	require.Contains(t, results, "beta")
	assert.Empty(t, stepCallsForHost("alpha"))
}

func TestRunLimitUnknownHostIsError(t *testing.T) {
	play := Play{
		Name:  "limited",
		Hosts: "all",
		Tasks: []Task{stepTask("one", "1", nil)},
	}
	e := testExecutor()
	_, err := e.Run(context.Background(), &RunRequest{
		Playbook:  &Playbook{Plays: []Play{play}, Path: "test-playbook.yml"},
		Inventory: twoLocalHosts(),
		Limit:     "gamma",
	})
	assert.Error(t, err)
}

func TestRunCheckModeReachesModules(t *testing.T) {
	resetStepLog()

	play := Play{
		Name:  "check",
		Hosts: "alpha",
		Tasks: []Task{stepTask("one", "1", nil)},
	}
	runPlay(t, testExecutor(), play, &RunRequest{
		Inventory: twoLocalHosts(),
		Check:     true,
	})

	assert.Equal(t, []string{"1/check"}, stepCallsForHost("alpha"))
}

func TestRunUndefinedVariableFailsTask(t *testing.T) {
	resetStepLog()

	task := stepTask("render", "r", map[string]interface{}{"message": "Hello {{ PERSON }}"})
	play := Play{
		Name:  "render failure",
		Hosts: "alpha",
		Tasks: []Task{task},
	}
	results := runPlay(t, testExecutor(), play, &RunRequest{Inventory: twoLocalHosts()})

	alpha := results["alpha"]
	require.Len(t, alpha.Outcomes, 1)
	assert.Equal(t, StatusFailed, alpha.Outcomes[0].Status)

	var undefErr *UndefinedVariableError
	assert.True(t, errors.As(alpha.Outcomes[0].Err, &undefErr))
	assert.Empty(t, stepCalls())
}

func TestRunExtraVarsTakePrecedenceOverPlayVars(t *testing.T) {
	resetStepLog()

	task := stepTask("render", "{{ env }}", nil)
	play := Play{
		Name:  "precedence",
		Hosts: "alpha",
		Vars:  map[string]interface{}{"env": "staging"},
		Tasks: []Task{task},
	}
	runPlay(t, testExecutor(), play, &RunRequest{
		Inventory: twoLocalHosts(),
		ExtraVars: map[string]interface{}{"env": "prod"},
	})

	assert.Equal(t, []string{"prod"}, stepCallsForHost("alpha"))
}

func TestRunExpandsRolesBeforePlayTasks(t *testing.T) {
	resetStepLog()

	rolesDir := t.TempDir()
	roleDir := filepath.Join(rolesDir, "setup")
	require.NoError(t, os.MkdirAll(filepath.Join(roleDir, "tasks"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(roleDir, "defaults"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(roleDir, "tasks", "main.yml"), []byte(`
- name: role task
  step:
    id: "role-{{ tier }}"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(roleDir, "defaults", "main.yml"), []byte("tier: default\n"), 0o644))

	cfg := testConfig()
	cfg.RolesPath = rolesDir
	e := NewExecutor(cfg)
	e.Out = io.Discard

	play := Play{
		Name:  "roles",
		Hosts: "alpha",
		Vars:  map[string]interface{}{"tier": "web"},
		Roles: []string{"setup"},
		Tasks: []Task{stepTask("play task", "play", nil)},
	}
	results := runPlay(t, e, play, &RunRequest{Inventory: twoLocalHosts()})

	// Play vars outrank role defaults, and role tasks run first.
	assert.Equal(t, []string{"role-web", "play"}, stepCallsForHost("alpha"))
	assert.False(t, results.Failed())
}

func TestRunMissingRoleFailsBeforeExecution(t *testing.T) {
	resetStepLog()

	cfg := testConfig()
	cfg.RolesPath = t.TempDir()
	e := NewExecutor(cfg)
	e.Out = io.Discard

	play := Play{
		Name:  "missing role",
		Hosts: "alpha",
		Roles: []string{"ghost"},
		Tasks: []Task{stepTask("one", "1", nil)},
	}
	_, err := e.Run(context.Background(), &RunRequest{
		Playbook:  &Playbook{Plays: []Play{play}, Path: "test-playbook.yml"},
		Inventory: twoLocalHosts(),
	})
	require.Error(t, err)

	var notFound *RoleNotFoundError
	assert.True(t, errors.As(err, &notFound))
	assert.Empty(t, stepCalls())
}

func TestRunPromptedVarsOutrankExtraVars(t *testing.T) {
	resetStepLog()

	play := Play{
		Name:       "prompted",
		Hosts:      "alpha",
		VarsPrompt: []VarPrompt{{Name: "release"}},
		Tasks:      []Task{stepTask("deploy", "{{ release }}", nil)},
	}
	runPlay(t, testExecutor(), play, &RunRequest{
		Inventory: twoLocalHosts(),
		ExtraVars: map[string]interface{}{"release": "from-cli"},
		PromptIn:  strings.NewReader("v9\n"),
		PromptOut: io.Discard,
	})

	assert.Equal(t, []string{"v9"}, stepCallsForHost("alpha"))
}

func TestRunFailedHandlerSkipsRemainingPending(t *testing.T) {
	resetStepLog()

	task := stepTask("touch config", "t1", map[string]interface{}{"changed": true})
	task.Notify = []string{"handler-fail", "handler-after"}

	failing := stepTask("handler-fail", "hf", map[string]interface{}{"fail": true})
	failing.IsHandler = true
	pending := stepTask("handler-after", "ha", nil)
	pending.IsHandler = true

	play := Play{
		Name:     "handler failure",
		Hosts:    "alpha",
		Tasks:    []Task{task},
		Handlers: []Task{failing, pending},
	}
	results := runPlay(t, testExecutor(), play, &RunRequest{Inventory: twoLocalHosts()})

	assert.Equal(t, []string{"t1", "hf"}, stepCallsForHost("alpha"))

	alpha := results["alpha"]
	require.Len(t, alpha.Outcomes, 3)
	assert.Equal(t, StatusFailed, alpha.Outcomes[1].Status)
	assert.Equal(t, StatusSkipped, alpha.Outcomes[2].Status)
	assert.Equal(t, "handler-after", alpha.Outcomes[2].Task)
	assert.True(t, alpha.Outcomes[2].Handler)
	assert.True(t, results.Failed())
}
