package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcasts(t *testing.T) {
	var gauge int
	hub := NewHub(HubConfig{Buffer: 4, OnSubscriberChange: func(d int) { gauge += d }})

	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	assert.Equal(t, 2, hub.Subscribers())
	assert.Equal(t, 2, gauge)

	hub.Publish(Event{Table: "transactions", Action: "INSERT", RecordID: "tx-1"})
	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			assert.Equal(t, "transactions.insert", e.Name())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, hub.Subscribers())

	cancelB()
	assert.Zero(t, gauge)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub(HubConfig{Buffer: 1})
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(Event{Table: "students", Action: "UPDATE", RecordID: "s1"})
	hub.Publish(Event{Table: "students", Action: "UPDATE", RecordID: "s2"})

	first := <-ch
	assert.Equal(t, "s1", first.RecordID)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %v", e)
	default:
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub(HubConfig{})
	ch, cancel := hub.Subscribe()
	hub.Close()
	_, open := <-ch
	assert.False(t, open)
	cancel()

	late, _ := hub.Subscribe()
	_, open = <-late
	assert.False(t, open)
	assert.Zero(t, hub.Subscribers())
}

func TestDecodeEvent(t *testing.T) {
	e, err := DecodeEvent(`{"table":"savings_schedules","action":"DELETE","id":"g1","at":"2024-01-01T02:00:00Z"}`)
	require.NoError(t, err)
	assert.Equal(t, "g1", e.RecordID)
	assert.Equal(t, "savings_schedules.delete", e.Name())
	assert.Equal(t, 2, e.At.Hour())

	e, err = DecodeEvent(`{"table":"students","action":"INSERT","id":"s1"}`)
	require.NoError(t, err)
	assert.False(t, e.At.IsZero())

	_, err = DecodeEvent(`{"id":"x"}`)
	assert.Error(t, err)
	_, err = DecodeEvent(`not json`)
	assert.Error(t, err)
}
