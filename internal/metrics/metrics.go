// Package metrics exposes Prometheus collectors for the control core.
//
// Collectors are registered on a caller-supplied registry so tests and the
// server can each use their own. Nothing in the core imports this package:
// the Observe* methods subscribe to the components' event buses and count
// what they publish.
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	defer m.ObserveMachine(machine)()
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/automation"
	"github.com/nerrad567/tailgate-core/internal/controller"
	"github.com/nerrad567/tailgate-core/internal/monitor"
	"github.com/nerrad567/tailgate-core/internal/orchestrator"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
	"github.com/nerrad567/tailgate-core/internal/vehicle"
)

const namespace = "tailgate"

// Collectors holds every metric the service exports.
type Collectors struct {
	Transitions         *prometheus.CounterVec
	RejectedTransitions *prometheus.CounterVec
	State               *prometheus.GaugeVec
	Actions             *prometheus.CounterVec
	ActionDuration      *prometheus.HistogramVec
	Executions          *prometheus.CounterVec
	MonitorTriggers     *prometheus.CounterVec
	Sequences           *prometheus.CounterVec
	Faults              *prometheus.CounterVec
	RejectedRequests    *prometheus.CounterVec
	ControllerActions   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Accepted state machine transitions by source and target state",
		}, []string{"from", "to"}),
		RejectedTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_rejected_total",
			Help:      "Rejected state machine transitions by source state",
		}, []string{"from"}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the current state machine state, 0 otherwise",
		}, []string{"state"}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed actions by kind and outcome (success or error)",
		}, []string{"action", "outcome"}),
		ActionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of action dispatch by kind",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"action"}),
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_executions_total",
			Help:      "Finished config executions by config and status",
		}, []string{"config_id", "status"}),
		MonitorTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_triggers_total",
			Help:      "Monitor triggers by monitor and trigger kind",
		}, []string{"monitor_id", "trigger"}),
		Sequences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequences_total",
			Help:      "Orchestrator sequence outcomes (completed, stopped, error, rejected)",
		}, []string{"outcome"}),
		Faults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_raised_total",
			Help:      "Raised vehicle faults by kind",
		}, []string{"fault"}),
		RejectedRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Motion requests refused by the safety gate, by source",
		}, []string{"source"}),
		ControllerActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_events_total",
			Help:      "Fault stops and emergency auto-resets by event type",
		}, []string{"event"}),
	}
}

// ObserveMachine counts transitions and tracks the current state. The
// state gauge is seeded from the machine's current state.
func (c *Collectors) ObserveMachine(m *statemachine.Machine) func() {
	c.setState(m.Current())
	return m.Subscribe(func(ev statemachine.Event) {
		switch ev.Type {
		case statemachine.EventStateChanged:
			c.Transitions.WithLabelValues(string(ev.From), string(ev.To)).Inc()
			c.setState(ev.To)
		case statemachine.EventTransitionRejected:
			c.RejectedTransitions.WithLabelValues(string(ev.From)).Inc()
		}
	})
}

func (c *Collectors) setState(current statemachine.State) {
	for _, s := range statemachine.AllStates() {
		v := 0.0
		if s == current {
			v = 1
		}
		c.State.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveExecutor counts actions and their dispatch time.
func (c *Collectors) ObserveExecutor(e *action.Executor) func() {
	return e.Subscribe(func(ev action.Event) {
		switch ev.Type {
		case action.EventExecutionCompleted:
			c.Actions.WithLabelValues(string(ev.Kind), "success").Inc()
			c.ActionDuration.WithLabelValues(string(ev.Kind)).Observe(ev.Duration.Seconds())
		case action.EventExecutionError:
			c.Actions.WithLabelValues(string(ev.Kind), "error").Inc()
		}
	})
}

// ObserveEngine counts finished config executions.
func (c *Collectors) ObserveEngine(e *automation.Engine) func() {
	return e.Subscribe(func(ev automation.Event) {
		switch ev.Type {
		case automation.EventExecutionCompleted, automation.EventExecutionError:
			c.Executions.WithLabelValues(ev.ConfigID, string(ev.Status)).Inc()
		}
	})
}

// ObserveMonitors counts monitor triggers.
func (c *Collectors) ObserveMonitors(m *monitor.Manager) func() {
	return m.Subscribe(func(ev monitor.Event) {
		if ev.Type == monitor.EventMonitorTriggered {
			c.MonitorTriggers.WithLabelValues(ev.MonitorID, string(ev.Trigger)).Inc()
		}
	})
}

// ObserveOrchestrator counts sequence outcomes.
func (c *Collectors) ObserveOrchestrator(o *orchestrator.Orchestrator) func() {
	return o.Subscribe(func(ev orchestrator.Event) {
		switch ev.Type {
		case orchestrator.EventSequenceCompleted:
			c.Sequences.WithLabelValues("completed").Inc()
		case orchestrator.EventSequenceStopped:
			c.Sequences.WithLabelValues("stopped").Inc()
		case orchestrator.EventSequenceError:
			c.Sequences.WithLabelValues("error").Inc()
		case orchestrator.EventSequenceRejected:
			c.Sequences.WithLabelValues("rejected").Inc()
		}
	})
}

// ObserveFaults counts raised faults.
func (c *Collectors) ObserveFaults(s *vehicle.Store) func() {
	return s.Subscribe(func(ev vehicle.FaultEvent) {
		if ev.Raised() {
			c.Faults.WithLabelValues(string(ev.Fault)).Inc()
		}
	})
}

// ObserveController counts safety rejections, fault stops and auto-resets.
func (c *Collectors) ObserveController(ctrl *controller.Controller) func() {
	return ctrl.Subscribe(func(ev controller.Event) {
		switch ev.Type {
		case controller.EventRequestRejected:
			c.RejectedRequests.WithLabelValues(ev.Source).Inc()
		case controller.EventFaultStop, controller.EventAutoReset, controller.EventAutoResetSkipped:
			c.ControllerActions.WithLabelValues(string(ev.Type)).Inc()
		}
	})
}
