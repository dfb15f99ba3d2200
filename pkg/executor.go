package pkg

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsrun/opsrun/pkg/common"
	"github.com/opsrun/opsrun/pkg/config"
	"golang.org/x/sync/errgroup"
)

// RunRequest bundles the inputs of one engine invocation. Inventory and
// playbook are explicit parameters rather than process-wide state so tests
// can construct independent engine instances per case.
type RunRequest struct {
	Playbook  *Playbook
	Inventory *Inventory
	ExtraVars map[string]interface{}
	// Limit restricts the play's target hosts to the named host.
	Limit string
	// Check asks every module for its changed verdict without mutating
	// target state.
	Check bool
	// PromptIn/PromptOut carry vars_prompt interaction; they default to
	// stdin/stdout.
	PromptIn  io.Reader
	PromptOut io.Writer
}

// Executor iterates ordered task lists per target host, enforcing
// idempotence/check semantics and aggregating results. Host streams run
// independently, bounded by the forks setting; within one host execution
// is strictly sequential.
type Executor struct {
	Config *config.Config
	Loader *RoleLoader
	// Out receives plain-format progress lines when logging.format is
	// "plain".
	Out io.Writer
}

// NewExecutor wires an executor from config.
func NewExecutor(cfg *config.Config) *Executor {
	return &Executor{
		Config: cfg,
		Loader: NewRoleLoader(cfg.RolesPaths()),
		Out:    os.Stdout,
	}
}

// compiledPlay is a play with its roles expanded into concrete task and
// handler lists plus the role-supplied variable fragments.
type compiledPlay struct {
	play         *Play
	tasks        []Task
	handlers     []Task
	roleDefaults map[string]interface{}
	roleVars     map[string]interface{}
	varsFiles    map[string]interface{}
	prompted     map[string]interface{}
}

// Run executes every play of the request's playbook and aggregates one
// report per host. Load-time failures (unknown module, missing role) abort
// before any host starts; per-host task failures never abort sibling
// hosts.
func (e *Executor) Run(ctx context.Context, req *RunRequest) (RunResult, error) {
	runID := uuid.New().String()
	common.SetRunID(runID)
	common.LogInfo("Starting run", map[string]interface{}{
		"playbook": req.Playbook.Path,
		"check":    req.Check,
	})

	results := make(RunResult)
	var resultsMu sync.Mutex

	for i := range req.Playbook.Plays {
		play := &req.Playbook.Plays[i]

		compiled, err := e.compilePlay(req.Playbook, play, req)
		if err != nil {
			return nil, err
		}

		hosts, err := e.selectHosts(req, play)
		if err != nil {
			return nil, err
		}

		if e.plainFormat() {
			fmt.Fprintf(e.Out, "\nPLAY [%s] ****************************************************\n", play.Name)
		} else {
			common.LogInfo("Starting play", map[string]interface{}{"play": play.Name, "hosts": len(hosts)})
		}

		var group errgroup.Group
		group.SetLimit(e.forks())

		for _, host := range hosts {
			host := host
			group.Go(func() error {
				report := e.runHostStream(ctx, host, compiled, req)
				resultsMu.Lock()
				if existing, ok := results[host.Name]; ok {
					existing.Outcomes = append(existing.Outcomes, report.Outcomes...)
				} else {
					results[host.Name] = report
				}
				resultsMu.Unlock()
				return nil
			})
		}
		// Join barrier: the run is not complete until every host stream is.
		if err := group.Wait(); err != nil {
			return nil, err
		}
	}

	if e.plainFormat() {
		results.WriteRecap(e.Out)
	}
	common.LogInfo("Run finished", map[string]interface{}{
		"failed": results.Failed(),
		"hosts":  len(results),
	})
	return results, nil
}

func (e *Executor) plainFormat() bool {
	return e.Config == nil || e.Config.Logging.Format == "plain"
}

func (e *Executor) forks() int {
	if e.Config == nil || e.Config.Forks < 1 {
		return 5
	}
	return e.Config.Forks
}

func (e *Executor) failFast() bool {
	return e.Config == nil || e.Config.FailFast
}

// compilePlay expands roles, loads vars_files, collects prompted values
// and validates that every task's module is registered. Validation happens
// here so a malformed task fails the run before any task executes.
func (e *Executor) compilePlay(pb *Playbook, play *Play, req *RunRequest) (*compiledPlay, error) {
	compiled := &compiledPlay{play: play}

	defaultFragments := []map[string]interface{}{}
	varFragments := []map[string]interface{}{}
	for _, roleName := range play.Roles {
		role, err := e.Loader.Load(roleName)
		if err != nil {
			return nil, err
		}
		compiled.tasks = append(compiled.tasks, role.Tasks...)
		compiled.handlers = append(compiled.handlers, role.Handlers...)
		if role.Defaults != nil {
			defaultFragments = append(defaultFragments, role.Defaults)
		}
		if role.Vars != nil {
			varFragments = append(varFragments, role.Vars)
		}
	}
	compiled.tasks = append(compiled.tasks, play.Tasks...)
	compiled.handlers = append(compiled.handlers, play.Handlers...)
	compiled.roleDefaults = MergeVars(defaultFragments...)
	compiled.roleVars = MergeVars(varFragments...)

	for i := range compiled.tasks {
		if _, err := ResolveModule(compiled.tasks[i].Name, compiled.tasks[i].Module); err != nil {
			return nil, err
		}
	}
	for i := range compiled.handlers {
		if _, err := ResolveModule(compiled.handlers[i].Name, compiled.handlers[i].Module); err != nil {
			return nil, err
		}
	}

	varsFiles, err := pb.LoadVarsFiles(play)
	if err != nil {
		return nil, err
	}
	compiled.varsFiles = varsFiles

	promptIn := req.PromptIn
	if promptIn == nil {
		promptIn = os.Stdin
	}
	promptOut := req.PromptOut
	if promptOut == nil {
		promptOut = os.Stdout
	}
	prompted, err := PromptVars(play, promptIn, promptOut)
	if err != nil {
		return nil, err
	}
	compiled.prompted = prompted

	return compiled, nil
}

func (e *Executor) selectHosts(req *RunRequest, play *Play) ([]*Host, error) {
	hosts, err := req.Inventory.HostsForPattern(play.Hosts)
	if err != nil {
		return nil, err
	}
	if req.Limit == "" {
		return hosts, nil
	}
	var limited []*Host
	for _, host := range hosts {
		if host.Name == req.Limit {
			limited = append(limited, host)
		}
	}
	if len(limited) == 0 {
		return nil, fmt.Errorf("limit %q matches no host of play %q", req.Limit, play.Name)
	}
	return limited, nil
}

// hostScope builds the host's effective variable scope by merging all
// sources lowest to highest precedence: role defaults, inventory vars,
// group vars, host vars, role vars, play vars, vars_files, extra vars,
// prompted values.
func (e *Executor) hostScope(host *Host, compiled *compiledPlay, req *RunRequest) map[string]interface{} {
	return MergeVars(
		compiled.roleDefaults,
		req.Inventory.Vars,
		req.Inventory.GroupVars(host),
		host.Vars,
		compiled.roleVars,
		compiled.play.Vars,
		compiled.varsFiles,
		req.ExtraVars,
		compiled.prompted,
	)
}

// runHostStream executes the compiled play against one host: its regular
// tasks in declared order, then the notified handlers in first-notified
// order. The returned report is owned by the caller once this returns.
func (e *Executor) runHostStream(ctx context.Context, host *Host, compiled *compiledPlay, req *RunRequest) *RunReport {
	report := &RunReport{Host: host.Name}

	hc, err := InitializeHostContext(host, e.hostScope(host, compiled, req), e.Config)
	if err != nil {
		report.record(TaskOutcome{
			Task:   "connect",
			Status: StatusFailed,
			Err:    err,
		})
		e.printOutcome(host.Name, "connect", report.Outcomes[0])
		return report
	}
	defer func() {
		if closeErr := hc.Close(); closeErr != nil {
			common.LogWarn("Failed to close host connection", map[string]interface{}{
				"host":  host.Name,
				"error": closeErr.Error(),
			})
		}
	}()
	hc.Handlers = NewHandlerTracker(host.Name, compiled.handlers)

	opts := ApplyOptions{Check: req.Check}
	if compiled.play.Become {
		opts.BecomeUser = compiled.play.BecomeUser
		if opts.BecomeUser == "" {
			opts.BecomeUser = "root"
		}
	}

	aborted := false
	for i := range compiled.tasks {
		task := &compiled.tasks[i]
		if aborted || ctx.Err() != nil {
			report.record(TaskOutcome{Task: task.Name, Module: task.Module, Status: StatusSkipped})
			continue
		}
		outcome := e.runTask(ctx, hc, task, i, opts)
		report.record(outcome)
		e.printOutcome(host.Name, task.Name, outcome)
		if outcome.Status == StatusFailed && e.failFast() {
			aborted = true
		}
	}

	// Handlers run after all regular tasks for the host, each at most
	// once. Re-query pending after each execution so handlers notified by
	// other handlers keep first-notified order.
	for !aborted && ctx.Err() == nil {
		pending := hc.Handlers.Pending()
		if len(pending) == 0 {
			break
		}
		handler := pending[0]
		hc.Handlers.MarkExecuted(handler.Name)
		outcome := e.runTask(ctx, hc, handler, -1, opts)
		outcome.Handler = true
		report.record(outcome)
		e.printOutcome(host.Name, handler.Name, outcome)
		if outcome.Status == StatusFailed && e.failFast() {
			aborted = true
		}
	}

	// An aborted stream still accounts for every notified handler.
	for _, handler := range hc.Handlers.Pending() {
		outcome := TaskOutcome{Task: handler.Name, Module: handler.Module, Status: StatusSkipped, Handler: true}
		report.record(outcome)
		e.printOutcome(host.Name, handler.Name, outcome)
	}

	return report
}

// runTask renders one task against the host scope, evaluates its guard and
// dispatches it to the registry. Render failures (undefined variable,
// render cycle) abort this task only.
func (e *Executor) runTask(ctx context.Context, hc *HostContext, task *Task, index int, opts ApplyOptions) TaskOutcome {
	start := time.Now()
	outcome := TaskOutcome{Task: task.Name, Module: task.Module}
	fail := func(err error) TaskOutcome {
		outcome.Status = StatusFailed
		outcome.Err = &TaskError{Host: hc.Host.Name, Task: task.Name, Index: index, Err: err}
		outcome.Duration = time.Since(start)
		common.LogError("Task failed", map[string]interface{}{
			"host":  hc.Host.Name,
			"task":  task.Name,
			"error": err.Error(),
		})
		return outcome
	}

	closure := ConstructClosure(hc, task)

	shouldRun, err := task.ShouldExecute(closure)
	if err != nil {
		return fail(err)
	}
	if !shouldRun {
		outcome.Status = StatusSkipped
		outcome.Duration = time.Since(start)
		return outcome
	}

	renderedArgs, err := RenderArgs(task.Args, closure.Scope())
	if err != nil {
		return fail(err)
	}

	module, ok := GetModule(task.Module)
	if !ok {
		// Modules are validated at compile time; this only fires for
		// handler lists mutated after compilation.
		return fail(&UnknownModuleError{Module: task.Module, Task: task.Name})
	}

	output, err := module.Apply(ctx, renderedArgs, closure, opts)
	if err != nil {
		return fail(err)
	}

	if task.Register != "" {
		hc.SetFact(task.Register, OutputFacts(output))
	}

	changed := output != nil && output.Changed()
	if changed && len(task.Notify) > 0 {
		if err := hc.Handlers.NotifyAll(task.Notify); err != nil {
			return fail(err)
		}
	}

	if changed {
		outcome.Status = StatusChanged
	} else {
		outcome.Status = StatusOK
	}
	if output != nil {
		outcome.Output = output.String()
	}
	outcome.Duration = time.Since(start)
	return outcome
}

func (e *Executor) printOutcome(host, taskName string, outcome TaskOutcome) {
	if e.plainFormat() {
		switch outcome.Status {
		case StatusChanged:
			fmt.Fprintf(e.Out, "changed: [%s] => %s\n", host, taskName)
		case StatusFailed:
			fmt.Fprintf(e.Out, "failed: [%s] => %s (%v)\n", host, taskName, outcome.Err)
		case StatusSkipped:
			fmt.Fprintf(e.Out, "skipping: [%s] => %s\n", host, taskName)
		default:
			fmt.Fprintf(e.Out, "ok: [%s] => %s\n", host, taskName)
		}
		return
	}
	common.LogInfo("Task finished", map[string]interface{}{
		"host":    host,
		"task":    taskName,
		"status":  string(outcome.Status),
		"handler": outcome.Handler,
	})
}
