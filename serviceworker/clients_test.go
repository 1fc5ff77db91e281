package serviceworker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Clients_DrainFreesMailbox(t *testing.T) {
	cs := NewClients()
	cs.Register("tab")

	delivered := 0
	for i := range 40 {
		if cs.Post("tab", i) {
			delivered++
		}
		if i%10 == 9 {
			msgs, ok := cs.Drain("tab")
			require.True(t, ok)
			assert.Len(t, msgs, 10)
		}
	}

	assert.Equal(t, 40, delivered)
}

func Test_Clients_FullMailboxDropsUntilDrained(t *testing.T) {
	cs := NewClients()
	cs.Register("tab")

	for i := range clientBuffer {
		require.True(t, cs.Post("tab", i))
	}
	assert.False(t, cs.Post("tab", "overflow"))

	msgs, ok := cs.Drain("tab")
	require.True(t, ok)
	assert.Len(t, msgs, clientBuffer)
	assert.Equal(t, 0, msgs[0])
	assert.True(t, cs.Post("tab", "next"))
}

func Test_Clients_Forget(t *testing.T) {
	cs := NewClients()
	c := cs.Register("tab")

	cs.Forget("tab")
	cs.Forget("tab")

	_, ok := cs.Get("tab")
	assert.False(t, ok)
	assert.False(t, cs.Post("tab", "x"))

	_, ok = cs.Drain("tab")
	assert.False(t, ok)

	_, open := <-c.Messages()
	assert.False(t, open)
}

func Test_Clients_PrunesIdle(t *testing.T) {
	now := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	cs := NewClients()
	cs.now = func() time.Time { return now }

	cs.Register("old")
	cs.Register("active")

	now = now.Add(DefaultClientIdle / 2)
	_, ok := cs.Drain("active")
	require.True(t, ok)

	now = now.Add(DefaultClientIdle/2 + time.Minute)
	cs.Register("new")

	_, ok = cs.Get("old")
	assert.False(t, ok)
	_, ok = cs.Get("active")
	assert.True(t, ok)
	assert.Equal(t, 2, cs.Len())

	now = now.Add(2 * DefaultClientIdle)
	assert.Equal(t, 2, cs.Prune())
	assert.Equal(t, 0, cs.Len())
}
