// Package call reconstructs call lifecycles for monitored extensions from
// the manager event stream.
package call

import "time"

// State is the lifecycle state of a call. Transitions are monotonic:
// ringing -> answered -> ended, or ringing -> ended directly.
type State string

const (
	StateRinging  State = "ringing"
	StateAnswered State = "answered"
	StateEnded    State = "ended"
)

// Direction classifies a call relative to the monitored extension.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionInternal Direction = "internal"
	DirectionUnknown  Direction = "unknown"
)

// Call is a read-only snapshot of one tracked call. The tracker owns the
// live state; consumers only ever see copies.
type Call struct {
	ID           string    `json:"id"`
	Channel      string    `json:"channel"` // latest known channel for the call
	Extension    string    `json:"extension"`
	CallerIDName string    `json:"callerIdName,omitempty"`
	CallerIDNum  string    `json:"callerIdNum,omitempty"`
	Direction    Direction `json:"direction"`
	State        State     `json:"state"`

	StartedAt  time.Time `json:"startedAt"`
	AnsweredAt time.Time `json:"answeredAt,omitzero"`
	EndedAt    time.Time `json:"endedAt,omitzero"`

	Cause     Cause  `json:"cause,omitempty"`
	CauseCode int    `json:"causeCode,omitempty"`
	CauseText string `json:"causeText,omitempty"`
}

// Active reports whether the call has not yet ended.
func (c Call) Active() bool { return c.State != StateEnded }

// Answered reports whether the call was ever answered.
func (c Call) Answered() bool { return !c.AnsweredAt.IsZero() }

// Duration returns the total call duration: start to end for ended calls,
// start to now otherwise.
func (c Call) Duration() time.Duration {
	if c.StartedAt.IsZero() {
		return 0
	}
	if !c.EndedAt.IsZero() {
		return c.EndedAt.Sub(c.StartedAt)
	}
	return time.Since(c.StartedAt)
}

// TalkDuration returns the answered-to-end duration, zero for unanswered
// calls.
func (c Call) TalkDuration() time.Duration {
	if c.AnsweredAt.IsZero() {
		return 0
	}
	if !c.EndedAt.IsZero() {
		return c.EndedAt.Sub(c.AnsweredAt)
	}
	return time.Since(c.AnsweredAt)
}
