package ami

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_DispatchInOrder(t *testing.T) {
	r := NewRouter(testLogger())

	var got []string
	r.Subscribe(func(msg *Message) {
		got = append(got, "a:"+msg.EventName())
	})
	r.Subscribe(func(msg *Message) {
		got = append(got, "b:"+msg.EventName())
	})

	r.Dispatch(ParseMessage([]string{"Event: First"}))
	r.Dispatch(ParseMessage([]string{"Event: Second"}))

	assert.Equal(t, []string{"a:First", "b:First", "a:Second", "b:Second"}, got)
}

func TestRouter_DuplicatesDeliveredAsIs(t *testing.T) {
	r := NewRouter(testLogger())

	var count int
	r.Subscribe(func(*Message) { count++ })

	dup := ParseMessage([]string{"Event: Hangup", "Uniqueid: 1"})
	r.Dispatch(dup)
	r.Dispatch(dup)

	assert.Equal(t, 2, count)
}

func TestRouter_Unsubscribe(t *testing.T) {
	r := NewRouter(testLogger())

	var a, b int
	idA := r.Subscribe(func(*Message) { a++ })
	r.Subscribe(func(*Message) { b++ })

	r.Dispatch(ParseMessage([]string{"Event: X"}))
	r.Unsubscribe(idA)
	r.Dispatch(ParseMessage([]string{"Event: X"}))

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)

	// Unknown tokens are a no-op.
	r.Unsubscribe("nope")
	require.NotPanics(t, func() { r.Dispatch(ParseMessage([]string{"Event: X"})) })
}
