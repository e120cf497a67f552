package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTriggerCallsListenersInOrder(t *testing.T) {
	t.Parallel()

	m := NewManager()
	var order []int
	m.Listen("e", func(any) error {
		order = append(order, 1)
		return nil
	})
	m.Listen("e", func(any) error {
		order = append(order, 2)
		return nil
	})
	m.Listen("e", func(any) error {
		order = append(order, 3)
		return nil
	})

	require.NoError(t, m.Trigger("e", nil))
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestTriggerPassesPayload(t *testing.T) {
	t.Parallel()

	m := NewManager()
	var got any
	m.Listen("book_created", func(payload any) error {
		got = payload
		return nil
	})
	require.NoError(t, m.Trigger("book_created", int64(42)))
	require.Equal(t, int64(42), got)
}

func TestTriggerStopsAtFirstError(t *testing.T) {
	t.Parallel()

	m := NewManager()
	boom := errors.New("listener failed")
	calls := 0
	m.Listen("e", func(any) error {
		calls++
		return boom
	})
	m.Listen("e", func(any) error {
		calls++
		return nil
	})

	err := m.Trigger("e", nil)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestTriggerUnknownEventIsNoop(t *testing.T) {
	t.Parallel()
	require.NoError(t, NewManager().Trigger("nobody-listens", nil))
}
