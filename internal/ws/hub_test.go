package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficwatch/internal/registry"
)

func setupHub(t *testing.T, cameraIDs ...string) (*Hub, *registry.Registry) {
	t.Helper()

	reg, err := registry.New(nil)
	require.NoError(t, err)
	for _, id := range cameraIDs {
		require.NoError(t, reg.Add(&registry.Camera{ID: id, Name: id}, "key-"+id))
	}
	return NewHub(reg), reg
}

func recvEnvelope(t *testing.T, c *Client) Envelope {
	t.Helper()

	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send queue closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Envelope{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected event: %s", msg)
		}
	default:
	}
}

func TestBroadcastRoomIsolation(t *testing.T) {
	hub, _ := setupHub(t, "cam-a", "cam-b")

	sender := NewClient(hub, nil, 8)
	memberA := NewClient(hub, nil, 8)
	memberB := NewClient(hub, nil, 8)

	hub.Join(sender, "cam-a")
	hub.Join(memberA, "cam-a")
	hub.Join(memberB, "cam-b")

	hub.Broadcast("cam-a", "image", JoinPayload{CameraID: "cam-a"}, sender)

	env := recvEnvelope(t, memberA)
	assert.Equal(t, "image", env.Event)

	// Neither the sender nor members of other rooms receive the event
	assertNoEvent(t, sender)
	assertNoEvent(t, memberB)
}

func TestBroadcastEmptyRoomIsNoop(t *testing.T) {
	hub, _ := setupHub(t)

	// Must not panic or block
	hub.Broadcast("ghost-room", "image", JoinPayload{}, nil)
}

func TestJoinAllSeesNewCameras(t *testing.T) {
	hub, reg := setupHub(t, "cam-a")

	early := NewClient(hub, nil, 8)
	hub.JoinAll(early)
	assert.Equal(t, 1, hub.RoomSize("cam-a"))

	// Register a camera after the hub exists, then join-all again
	require.NoError(t, reg.Add(&registry.Camera{ID: "cam-c", Name: "late"}, "key-c"))

	late := NewClient(hub, nil, 8)
	hub.JoinAll(late)
	assert.Equal(t, 1, hub.RoomSize("cam-c"))
	assert.Equal(t, 2, hub.RoomSize("cam-a"))
}

func TestLeave(t *testing.T) {
	hub, _ := setupHub(t, "cam-a")

	c := NewClient(hub, nil, 8)
	hub.Join(c, "cam-a")
	require.Equal(t, 1, hub.RoomSize("cam-a"))

	hub.Leave(c, "cam-a")
	assert.Equal(t, 0, hub.RoomSize("cam-a"))

	hub.Broadcast("cam-a", "image", JoinPayload{}, nil)
	assertNoEvent(t, c)
}

func TestDisconnectPurgesAllRooms(t *testing.T) {
	hub, _ := setupHub(t, "cam-a", "cam-b")

	c := NewClient(hub, nil, 8)
	hub.Join(c, "cam-a")
	hub.Join(c, "cam-b")
	require.Equal(t, 2, hub.ClientCount())

	hub.Disconnect(c)
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, hub.RoomSize("cam-a"))
	assert.Equal(t, 0, hub.RoomSize("cam-b"))
}

func TestSlowClientDropsInsteadOfBlocking(t *testing.T) {
	hub, _ := setupHub(t, "cam-a")

	slow := NewClient(hub, nil, 2)
	hub.Join(slow, "cam-a")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Broadcast("cam-a", "image", JoinPayload{CameraID: "cam-a"}, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}

	// Only the queue capacity made it through
	assert.Len(t, slow.send, 2)
}

func TestBroadcastDuringDisconnect(t *testing.T) {
	hub, _ := setupHub(t, "cam-a")

	payload, err := json.Marshal(JoinPayload{CameraID: "cam-a"})
	require.NoError(t, err)

	// Broadcasts snapshot room members before enqueueing, so a member
	// disconnected in between must drop the message, not panic.
	for i := 0; i < 50; i++ {
		clients := make([]*Client, 8)
		for j := range clients {
			clients[j] = NewClient(hub, nil, 4)
			hub.Join(clients[j], "cam-a")
		}

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := 0; k < 20; k++ {
					hub.BroadcastRaw("cam-a", "image", payload, nil)
				}
			}()
		}
		for _, c := range clients {
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				hub.Disconnect(c)
			}(c)
		}
		wg.Wait()

		assert.Equal(t, 0, hub.RoomSize("cam-a"))
	}
}

func TestProducerOrderingPreserved(t *testing.T) {
	hub, _ := setupHub(t, "cam-a")

	member := NewClient(hub, nil, 16)
	hub.Join(member, "cam-a")

	for i := 0; i < 5; i++ {
		hub.Broadcast("cam-a", "image", ImagePayload{CameraID: "cam-a", Timestamp: int64(i)}, nil)
	}

	for i := 0; i < 5; i++ {
		env := recvEnvelope(t, member)
		var p ImagePayload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		assert.Equal(t, int64(i), p.Timestamp)
	}
}
