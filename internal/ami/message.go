// Package ami implements a client for the Asterisk Manager Interface: a
// line-oriented, block-framed protocol carrying request/response pairs and
// asynchronous events over a TCP stream.
package ami

import "strings"

// Kind discriminates between the protocol message classes.
type Kind int

const (
	KindUnknown Kind = iota
	KindEvent
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Field is one `Name: Value` line of a protocol block. Field order and
// original casing are preserved as received.
type Field struct {
	Name  string
	Value string
}

// Message is one parsed protocol block. A Message is immutable once parsed;
// duplicate field names are legal and kept in wire order (the server repeats
// names to carry lists, e.g. variable assignments).
type Message struct {
	kind   Kind
	fields []Field
	index  map[string][]int // normalized name -> positions in fields
}

// ParseMessage converts a framed block of lines into a Message. Lines
// without a colon are treated as a continuation of the previous field's
// value. Unrecognized fields are retained, never dropped.
func ParseMessage(lines []string) *Message {
	m := &Message{index: make(map[string][]int)}

	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			// Continuation of a multi-line payload field.
			if n := len(m.fields); n > 0 {
				m.fields[n-1].Value += "\n" + line
			}
			continue
		}
		f := Field{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}
		m.index[normalize(f.Name)] = append(m.index[normalize(f.Name)], len(m.fields))
		m.fields = append(m.fields, f)
	}

	switch {
	case m.Has("Event"):
		m.kind = KindEvent
	case m.Has("Response"):
		m.kind = KindResponse
	default:
		m.kind = KindUnknown
	}
	return m
}

func normalize(name string) string { return strings.ToLower(name) }

// Kind reports whether the message is an event, a response, or neither.
func (m *Message) Kind() Kind { return m.kind }

// Fields returns a copy of all fields in wire order.
func (m *Message) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Has reports whether a field with the given name exists. Lookup is
// case-insensitive.
func (m *Message) Has(name string) bool {
	_, ok := m.index[normalize(name)]
	return ok
}

// Get returns the first value of the named field, or "" if absent.
func (m *Message) Get(name string) string {
	if idx, ok := m.index[normalize(name)]; ok {
		return m.fields[idx[0]].Value
	}
	return ""
}

// GetAll returns every value of the named field in wire order.
func (m *Message) GetAll(name string) []string {
	idx, ok := m.index[normalize(name)]
	if !ok {
		return nil
	}
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = m.fields[j].Value
	}
	return out
}

// EventName returns the value of the Event field, or "" for non-events.
func (m *Message) EventName() string { return m.Get("Event") }

// ActionID returns the correlation identifier carried by the message, if any.
func (m *Message) ActionID() string { return m.Get("ActionID") }

// Success reports whether a response message indicates success.
func (m *Message) Success() bool {
	return m.kind == KindResponse && strings.EqualFold(m.Get("Response"), "Success")
}
