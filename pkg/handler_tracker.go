package pkg

import (
	"fmt"

	"github.com/opsrun/opsrun/pkg/common"
)

// HandlerTracker tracks which handlers have been notified and which have
// already run for one host. Handlers run at most once per run, in the
// order they were first notified.
type HandlerTracker struct {
	hostName string
	handlers map[string]*Task
	notified map[string]bool
	executed map[string]bool
	order    []string
}

// NewHandlerTracker indexes the play's handlers by name for the given host.
func NewHandlerTracker(hostName string, handlers []Task) *HandlerTracker {
	ht := &HandlerTracker{
		hostName: hostName,
		handlers: make(map[string]*Task, len(handlers)),
		notified: make(map[string]bool),
		executed: make(map[string]bool),
	}
	for i := range handlers {
		handler := handlers[i]
		ht.handlers[handler.Name] = &handler
	}
	return ht
}

// Notify marks a handler as notified. Notifying an unknown handler is an
// error, reported like any other task failure.
func (ht *HandlerTracker) Notify(handlerName string) error {
	if _, exists := ht.handlers[handlerName]; !exists {
		return fmt.Errorf("notified handler %q is not defined for host %s", handlerName, ht.hostName)
	}
	if !ht.notified[handlerName] {
		ht.notified[handlerName] = true
		ht.order = append(ht.order, handlerName)
		common.LogDebug("Handler notified", map[string]interface{}{
			"handler": handlerName,
			"host":    ht.hostName,
		})
	}
	return nil
}

// NotifyAll marks multiple handlers as notified, stopping at the first
// unknown name.
func (ht *HandlerTracker) NotifyAll(handlerNames []string) error {
	for _, name := range handlerNames {
		if err := ht.Notify(name); err != nil {
			return err
		}
	}
	return nil
}

// IsNotified checks if a handler has been notified.
func (ht *HandlerTracker) IsNotified(handlerName string) bool {
	return ht.notified[handlerName]
}

// Pending returns the notified-but-not-executed handlers in first-notified
// order.
func (ht *HandlerTracker) Pending() []*Task {
	var pending []*Task
	for _, name := range ht.order {
		if ht.executed[name] {
			continue
		}
		if handler, exists := ht.handlers[name]; exists {
			pending = append(pending, handler)
		}
	}
	return pending
}

// MarkExecuted records that a handler ran so it cannot run again this run.
func (ht *HandlerTracker) MarkExecuted(handlerName string) {
	ht.executed[handlerName] = true
}
