package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notification about an apply cycle or the staged configuration.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	CycleID     string                 `json:"cycle_id,omitempty"`
	OperationID string                 `json:"operation_id,omitempty"`
	Message     string                 `json:"message"`
	Level       string                 `json:"level"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeCycleStarted       = "cycle.started"
	EventTypeCycleStateChanged  = "cycle.state_changed"
	EventTypeCycleSucceeded     = "cycle.succeeded"
	EventTypeCycleFailed        = "cycle.failed"
	EventTypeOperationStarted   = "operation.started"
	EventTypeOperationCompleted = "operation.completed"
	EventTypeOperationFailed    = "operation.failed"
	EventTypeRestartRequired    = "restart.required"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeConfigStaged       = "config.staged"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelRank = map[string]int{EventLevelInfo: 0, EventLevelWarning: 1, EventLevelError: 2}

// ErrPublisherStopped is returned by Publish after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// ErrEventDropped is returned when the asynchronous buffer is full.
var ErrEventDropped = errors.New("event buffer full, event dropped")

// EventSubscriber handles one event.
type EventSubscriber func(event Event)

// EventFilter reports whether a subscriber wants an event.
type EventFilter func(event Event) bool

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	threshold := levelRank[minLevel]
	return func(e Event) bool { return levelRank[e.Level] >= threshold }
}

// FilterByCycleID accepts the events of one cycle.
func FilterByCycleID(cycleID string) EventFilter {
	return func(e Event) bool { return e.CycleID == cycleID }
}

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to in-process subscribers, which see them
// in publish order. With EnableAsync events are queued in a bounded buffer
// and delivered in batches from one goroutine.
type EventPublisher struct {
	config EventsConfig

	mu   sync.RWMutex
	subs []subscription

	queue chan Event
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewEventPublisher creates a publisher. A disabled publisher drops every
// event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg, stop: make(chan struct{}), done: make(chan struct{})}
	if !cfg.Enabled || !cfg.EnableAsync {
		close(ep.done)
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}
	ep.queue = make(chan Event, cfg.BufferSize)
	go ep.run()
	return ep, nil
}

// Subscribe registers fn for the events accepted by filter. A nil filter
// accepts every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
}

// Publish stamps and delivers an event.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-ep.stop:
		return ErrPublisherStopped
	default:
	}
	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return ErrEventDropped
	}
}

func (ep *EventPublisher) run() {
	defer close(ep.done)

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batchSize := ep.config.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	batch := make([]Event, 0, batchSize)
	flush := func() {
		for _, e := range batch {
			ep.deliver(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-ep.queue:
			if batch = append(batch, e); len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ep.stop:
			for {
				select {
				case e := <-ep.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown delivers queued events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.once.Do(func() { close(ep.stop) })
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

func cycleEvent(typ, level, source, cycleID, msg string, data map[string]interface{}) Event {
	return Event{Type: typ, Level: level, Source: source, CycleID: cycleID, Message: msg, Data: data}
}

func (ep *EventPublisher) PublishCycleStarted(cycleID string, dryRun bool) error {
	return ep.Publish(cycleEvent(EventTypeCycleStarted, EventLevelInfo, "orchestrator", cycleID,
		fmt.Sprintf("Cycle %s started", cycleID),
		map[string]interface{}{"dry_run": dryRun}))
}

func (ep *EventPublisher) PublishCycleStateChanged(cycleID, from, to string) error {
	return ep.Publish(cycleEvent(EventTypeCycleStateChanged, EventLevelInfo, "orchestrator", cycleID,
		fmt.Sprintf("Cycle %s moved from %s to %s", cycleID, from, to),
		map[string]interface{}{"from": from, "to": to}))
}

func (ep *EventPublisher) PublishCycleSucceeded(cycleID string, executed int, duration time.Duration) error {
	return ep.Publish(cycleEvent(EventTypeCycleSucceeded, EventLevelInfo, "orchestrator", cycleID,
		fmt.Sprintf("Cycle %s applied %d operations", cycleID, executed),
		map[string]interface{}{"executed": executed, "duration": duration.Seconds()}))
}

func (ep *EventPublisher) PublishCycleFailed(cycleID, state, reason string) error {
	return ep.Publish(cycleEvent(EventTypeCycleFailed, EventLevelError, "orchestrator", cycleID,
		fmt.Sprintf("Cycle %s ended %s: %s", cycleID, state, reason),
		map[string]interface{}{"state": state, "reason": reason}))
}

// PublishRestartRequired reports the operations that wait for a restart.
func (ep *EventPublisher) PublishRestartRequired(cycleID string, operations []string) error {
	return ep.Publish(cycleEvent(EventTypeRestartRequired, EventLevelWarning, "classifier", cycleID,
		fmt.Sprintf("%d changes take effect after a restart", len(operations)),
		map[string]interface{}{"operations": operations}))
}

func (ep *EventPublisher) PublishOperationStarted(cycleID, operationID string, step int) error {
	e := cycleEvent(EventTypeOperationStarted, EventLevelInfo, "executor", cycleID,
		fmt.Sprintf("Step %d started: %s", step, operationID),
		map[string]interface{}{"step": step})
	e.OperationID = operationID
	return ep.Publish(e)
}

func (ep *EventPublisher) PublishOperationCompleted(cycleID, operationID string, commands int, duration time.Duration) error {
	e := cycleEvent(EventTypeOperationCompleted, EventLevelInfo, "executor", cycleID,
		fmt.Sprintf("Operation %s completed", operationID),
		map[string]interface{}{"commands": commands, "duration": duration.Seconds()})
	e.OperationID = operationID
	return ep.Publish(e)
}

func (ep *EventPublisher) PublishOperationFailed(cycleID, operationID, reason string) error {
	e := cycleEvent(EventTypeOperationFailed, EventLevelError, "executor", cycleID,
		fmt.Sprintf("Operation %s failed: %s", operationID, reason),
		map[string]interface{}{"reason": reason})
	e.OperationID = operationID
	return ep.Publish(e)
}

// PublishPolicyViolation reports a guardrail finding. Error findings are
// error events, the rest warnings.
func (ep *EventPublisher) PublishPolicyViolation(cycleID, operationID, policyName, severity, reason string) error {
	level := EventLevelWarning
	if severity == EventLevelError {
		level = EventLevelError
	}
	e := cycleEvent(EventTypePolicyViolation, level, "policy", cycleID,
		fmt.Sprintf("Policy %s: %s", policyName, reason),
		map[string]interface{}{"policy": policyName, "severity": severity})
	e.OperationID = operationID
	return ep.Publish(e)
}

// PublishConfigStaged reports a save of the staged configuration file.
func (ep *EventPublisher) PublishConfigStaged(path string) error {
	return ep.Publish(cycleEvent(EventTypeConfigStaged, EventLevelInfo, "watcher", "",
		fmt.Sprintf("Staged configuration %s changed", path),
		map[string]interface{}{"path": path}))
}

// EventLog keeps the most recent events for the status API.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// NewEventLog creates a log holding up to size events and subscribes it to
// ep.
func NewEventLog(ep *EventPublisher, size int) *EventLog {
	if size <= 0 {
		size = 256
	}
	l := &EventLog{events: make([]Event, size)}
	ep.Subscribe(l.add, nil)
	return l
}

func (l *EventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = e
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns up to limit events accepted by filter, newest first. A
// limit of zero or less returns every match.
func (l *EventLog) Recent(limit int, filter EventFilter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.next
	if l.full {
		n = len(l.events)
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		e := l.events[(l.next-i+len(l.events))%len(l.events)]
		if filter != nil && !filter(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
