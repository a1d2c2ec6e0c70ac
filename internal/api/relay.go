package api

import (
	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/actuator"
	"github.com/nerrad567/tailgate-core/internal/automation"
	"github.com/nerrad567/tailgate-core/internal/controller"
	"github.com/nerrad567/tailgate-core/internal/monitor"
	"github.com/nerrad567/tailgate-core/internal/orchestrator"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
	"github.com/nerrad567/tailgate-core/internal/vehicle"
)

// WebSocket channels. Each carries the originating component's event as
// the payload. ChannelConfigExecuted is broadcast by the engine itself.
const (
	ChannelState          = "tailgate.state"
	ChannelPosition       = "tailgate.position"
	ChannelAction         = "action.event"
	ChannelController     = "controller.event"
	ChannelFault          = "vehicle.fault"
	ChannelConfig         = "config.event"
	ChannelConfigExecuted = "config.executed"
	ChannelMonitor        = "monitor.event"
	ChannelSequence       = "sequence.event"

	// ChannelAll subscribes to every channel.
	ChannelAll = "*"
)

var knownChannels = []string{
	ChannelState, ChannelPosition, ChannelAction, ChannelController, ChannelFault,
	ChannelConfig, ChannelConfigExecuted, ChannelMonitor, ChannelSequence,
}

// Channels returns every concrete channel name.
func Channels() []string {
	return append([]string(nil), knownChannels...)
}

// IsChannel reports whether name is a channel clients may subscribe to.
func IsChannel(name string) bool {
	if name == ChannelAll {
		return true
	}
	for _, ch := range knownChannels {
		if ch == name {
			return true
		}
	}
	return false
}

// startRelay subscribes the hub to every component bus and registers the
// state and fault snapshots. Rejected transitions go to ChannelState
// alongside accepted ones.
func (s *Server) startRelay() {
	if s.hub == nil || len(s.relays) > 0 {
		return
	}
	hub := s.hub

	hub.SetSnapshot(ChannelState, func() any { return s.stateSnapshot() })
	hub.SetSnapshot(ChannelFault, func() any { return s.store.Faults() })

	s.relays = append(s.relays,
		s.machine.Subscribe(func(ev statemachine.Event) {
			hub.Broadcast(ChannelState, ev)
		}),
		s.controller.Subscribe(func(ev controller.Event) {
			hub.Broadcast(ChannelController, ev)
		}),
		s.store.Subscribe(func(ev vehicle.FaultEvent) {
			hub.Broadcast(ChannelFault, ev)
		}),
	)
	s.relays = append(s.relays, s.executor.Subscribe(func(ev action.Event) {
		hub.Broadcast(ChannelAction, ev)
	}))
	if drv := s.executor.Driver(); drv != nil {
		s.relays = append(s.relays, drv.Subscribe(func(ev actuator.Event) {
			hub.Broadcast(ChannelPosition, ev)
		}))
	}
	if s.engine != nil {
		s.relays = append(s.relays, s.engine.Subscribe(func(ev automation.Event) {
			hub.Broadcast(ChannelConfig, ev)
		}))
	}
	if s.monitors != nil {
		s.relays = append(s.relays, s.monitors.Subscribe(func(ev monitor.Event) {
			hub.Broadcast(ChannelMonitor, ev)
		}))
	}
	if s.orchestrator != nil {
		s.relays = append(s.relays, s.orchestrator.Subscribe(func(ev orchestrator.Event) {
			hub.Broadcast(ChannelSequence, ev)
		}))
	}
}

func (s *Server) stopRelay() {
	if s.hub != nil {
		s.hub.SetSnapshot(ChannelState, nil)
		s.hub.SetSnapshot(ChannelFault, nil)
	}
	for _, unsub := range s.relays {
		unsub()
	}
	s.relays = nil
}
