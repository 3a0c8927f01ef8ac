package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinAndList(t *testing.T) {
	r := NewRegistry()

	c1 := &Client{send: make(chan []byte, 1)}
	c2 := &Client{send: make(chan []byte, 1)}
	c3 := &Client{send: make(chan []byte, 1)}

	r.Join(c1, "2021001", "张三")
	r.Join(c2, "2021002", "李四")
	r.Join(c3, "2021003", "王五")

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "2021001", list[0].UserID)
	assert.Equal(t, "2021002", list[1].UserID)
	assert.Equal(t, "2021003", list[2].UserID)
	for _, u := range list {
		assert.True(t, u.Online)
	}
}

func TestRegistry_ReplaceOnJoin(t *testing.T) {
	r := NewRegistry()

	first := &Client{send: make(chan []byte, 1)}
	second := &Client{send: make(chan []byte, 1)}

	r.Join(first, "2021001", "张三")
	r.Join(second, "2021001", "张三")

	// Last join wins: one entry, owned by the newer connection.
	require.Equal(t, 1, r.Len())

	// The superseded connection no longer owns an entry.
	assert.False(t, r.Leave(first))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Leave(second))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_LeaveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()

	stranger := &Client{send: make(chan []byte, 1)}
	assert.False(t, r.Leave(stranger))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_InterleavedJoinsAndLeaves(t *testing.T) {
	r := NewRegistry()

	const n = 10
	clients := make([]*Client, n)
	for i := 0; i < n; i++ {
		clients[i] = &Client{send: make(chan []byte, 1)}
		r.Join(clients[i], fmt.Sprintf("user%d", i), fmt.Sprintf("name%d", i))
	}

	// Leave every other connection.
	left := 0
	for i := 0; i < n; i += 2 {
		require.True(t, r.Leave(clients[i]))
		left++
	}

	list := r.List()
	assert.Len(t, list, n-left)
	for _, u := range list {
		// Every remaining entry belongs to a connection that has not left.
		assert.NotContains(t, []string{"user0", "user2", "user4", "user6", "user8"}, u.UserID)
	}
}

func TestRegistry_RejoinMovesToEndOfList(t *testing.T) {
	r := NewRegistry()

	c1 := &Client{send: make(chan []byte, 1)}
	c2 := &Client{send: make(chan []byte, 1)}
	c1b := &Client{send: make(chan []byte, 1)}

	r.Join(c1, "2021001", "张三")
	r.Join(c2, "2021002", "李四")
	r.Join(c1b, "2021001", "张三")

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "2021002", list[0].UserID)
	assert.Equal(t, "2021001", list[1].UserID)
}
