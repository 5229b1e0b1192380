// Package monitor combines the manager session, correlator, event router,
// and call tracker into the client facade consumed by the application.
package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/ami"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/call"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/config"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/logging"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/metrics"
)

// Monitor is the public surface of the monitoring core.
type Monitor struct {
	cfg     config.Config
	log     *logging.Logger
	met     *metrics.Metrics
	session *ami.Session
	tracker *call.Tracker
}

// New builds a fully wired Monitor from configuration. The metrics argument
// may be nil to disable instrumentation.
func New(cfg config.Config, met *metrics.Metrics, log *logging.Logger) *Monitor {
	m := &Monitor{
		cfg: cfg,
		log: log.Sub("monitor"),
		met: met,
	}

	m.session = ami.NewSession(ami.SessionConfig{
		Host:                 cfg.AMI.Host,
		Port:                 cfg.AMI.Port,
		Username:             cfg.AMI.Username,
		Secret:               cfg.AMI.Secret,
		ConnectTimeout:       cfg.AMI.ConnectTimeout(),
		KeepaliveIdle:        cfg.AMI.KeepaliveIdle(),
		KeepaliveGrace:       cfg.AMI.KeepaliveGrace(),
		ReconnectBase:        cfg.Reconnect.BaseDelay(),
		ReconnectMax:         cfg.Reconnect.MaxDelay(),
		ReconnectMaxAttempts: cfg.Reconnect.MaxAttempts,
	}, log)

	m.tracker = call.NewTracker(call.Options{
		Monitor:       cfg.Extensions.Monitor,
		MonitorAll:    cfg.Extensions.MonitorAll,
		GraceWindow:   cfg.Calls.GraceWindow(),
		SweepInterval: cfg.Calls.SweepInterval(),
		Causes:        cfg.Calls.Causes,
	}, log)

	// Event order on the read loop: count first, then fold into call state.
	m.session.Router().Subscribe(func(msg *ami.Message) {
		m.met.EventReceived(msg.EventName())
	})
	m.session.Router().Subscribe(m.tracker.HandleEvent)

	// A dropped link must not leave calls dangling for consumers.
	m.session.OnDisconnect(func() {
		m.tracker.EndAll(call.CauseConnectionLost)
	})

	m.session.OnStateChange(func(old, new ami.ConnectionState) {
		m.met.ConnectionState(new.String())
		if new == ami.StateReconnecting {
			m.met.Reconnecting()
		}
	})

	m.tracker.OnStarted(func(call.Call) { m.met.CallStarted() })
	m.tracker.OnEnded(func(c call.Call) { m.met.CallEnded(string(c.Cause)) })

	return m
}

// Connect validates the configuration, then establishes the manager
// session. Configuration and credential problems fail fast and are never
// retried; network problems hand over to autonomous reconnection.
func (m *Monitor) Connect() error {
	if issues := config.Validate(&m.cfg); len(issues) > 0 {
		return fmt.Errorf("monitor: invalid configuration: %s", issues[0])
	}
	if err := m.session.Connect(); err != nil {
		return err
	}
	m.tracker.Start()
	return nil
}

// Disconnect tears the session down and stops call tracking.
func (m *Monitor) Disconnect() {
	m.session.Disconnect()
	m.tracker.Stop()
}

// ConnectionState returns the current transport state.
func (m *Monitor) ConnectionState() ami.ConnectionState { return m.session.State() }

// OnConnectionStateChanged subscribes to transport state transitions.
func (m *Monitor) OnConnectionStateChanged(h ami.StateHandler) { m.session.OnStateChange(h) }

// OnCallStarted subscribes to new ringing calls on monitored extensions.
func (m *Monitor) OnCallStarted(h call.Handler) string { return m.tracker.OnStarted(h) }

// OnCallAnswered subscribes to answered calls.
func (m *Monitor) OnCallAnswered(h call.Handler) string { return m.tracker.OnAnswered(h) }

// OnCallEnded subscribes to ended calls.
func (m *Monitor) OnCallEnded(h call.Handler) string { return m.tracker.OnEnded(h) }

// Unsubscribe removes a call handler registered by any On* method.
func (m *Monitor) Unsubscribe(id string) { m.tracker.Unsubscribe(id) }

// ActiveCalls returns a snapshot of all non-ended calls.
func (m *Monitor) ActiveCalls() []call.Call { return m.tracker.Active() }

// SetMonitored replaces the monitored extension set at runtime.
func (m *Monitor) SetMonitored(patterns []string, all bool) { m.tracker.SetMonitored(patterns, all) }

// Hangup requests termination of a tracked call through its current
// channel. A timed-out request is retried once; the retry's outcome is
// final. Returns ErrNotFound for unknown or already ended calls without
// sending anything.
func (m *Monitor) Hangup(ctx context.Context, callID string) error {
	c, ok := m.tracker.Get(callID)
	if !ok || !c.Active() {
		return fmt.Errorf("%w: %q", ami.ErrNotFound, callID)
	}

	fields := []ami.Field{
		{Name: "Action", Value: "Hangup"},
		{Name: "Channel", Value: c.Channel},
	}
	timeout := m.cfg.AMI.ActionTimeout()

	resp, err := m.session.Correlator().Submit(ctx, fields, timeout)
	if errors.Is(err, ami.ErrTimeout) {
		m.log.Warn().Str("callId", callID).Msg("hangup timed out, retrying once")
		resp, err = m.session.Correlator().Submit(ctx, fields, timeout)
	}
	if err != nil {
		switch {
		case errors.Is(err, ami.ErrTimeout):
			m.met.ActionFinished("timeout")
		default:
			m.met.ActionFinished("error")
		}
		return err
	}
	if !resp.Success() {
		m.met.ActionFinished("rejected")
		if reason := resp.Get("Message"); reason != "" {
			return fmt.Errorf("%w: %s", ami.ErrActionRejected, reason)
		}
		return ami.ErrActionRejected
	}
	m.met.ActionFinished("ok")
	return nil
}
