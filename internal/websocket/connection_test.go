package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionTable_AuthenticateSupersedesPriorConnection(t *testing.T) {
	table := NewConnectionTable()
	connA, _ := newTestConnection(t, "conn-a")
	connB, _ := newTestConnection(t, "conn-b")
	table.Insert(connA)
	table.Insert(connB)

	superseded := table.Authenticate(connA, "agent-1", "user-1")
	assert.Nil(t, superseded)

	superseded = table.Authenticate(connB, "agent-1", "user-1")
	require.NotNil(t, superseded)
	assert.Equal(t, "conn-a", superseded.ID)

	current, ok := table.GetByAgentID("agent-1")
	require.True(t, ok)
	assert.Equal(t, "conn-b", current.ID)
}

func TestConnectionTable_RemoveIsIdempotent(t *testing.T) {
	table := NewConnectionTable()
	conn, _ := newTestConnection(t, "conn-a")
	table.Insert(conn)
	table.Authenticate(conn, "agent-1", "user-1")

	table.Remove("conn-a")
	assert.Equal(t, 0, table.Len())
	_, ok := table.GetByAgentID("agent-1")
	assert.False(t, ok)

	table.Remove("conn-a")
	assert.Equal(t, 0, table.Len())
}

func TestConnectionTable_SnapshotIsPointInTime(t *testing.T) {
	table := NewConnectionTable()
	connA, _ := newTestConnection(t, "conn-a")
	connB, _ := newTestConnection(t, "conn-b")
	table.Insert(connA)
	table.Insert(connB)

	snap := table.Snapshot()
	assert.Len(t, snap, 2)

	table.Remove("conn-a")
	assert.Len(t, snap, 2, "snapshot should not reflect later mutation")
	assert.Equal(t, 1, table.Len())
}

func TestConnectionTable_IsConnected(t *testing.T) {
	table := NewConnectionTable()
	conn, _ := newTestConnection(t, "conn-a")
	table.Insert(conn)

	assert.False(t, table.IsConnected("agent-1"))
	table.Authenticate(conn, "agent-1", "user-1")
	assert.True(t, table.IsConnected("agent-1"))
}

func TestConnection_EnqueueNonBlockingWhenFull(t *testing.T) {
	conn, _ := newTestConnection(t, "conn-a")

	ok := true
	for i := 0; i < sendBufferSize+1; i++ {
		ok = conn.enqueue([]byte("x"))
	}
	assert.False(t, ok, "enqueue should report false once the buffer is full")
}
