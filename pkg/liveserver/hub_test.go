package liveserver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func registered(t *testing.T, hub *Hub, clients ...*Client) {
	t.Helper()
	for _, c := range clients {
		require.True(t, hub.Register(c))
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == len(clients) }, time.Second, 5*time.Millisecond)
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.GetSendChan():
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID())
		return Message{}
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.GetSendChan():
		t.Fatalf("client %s got unexpected %q", c.ID(), msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := runHub(t)
	client := NewClient("c1", "")
	registered(t, hub, client)

	hub.Unregister(client)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, client.Send(NewMessage("eTick.X", nil)), "unregistered client is closed")
}

func TestHub_BroadcastHonoursTopicPrefixes(t *testing.T) {
	hub := runHub(t)
	all := NewClient("all", "")
	ticks := NewClient("ticks", "eTick.")
	btc := NewClient("btc", "eTick.BTCUSDT.")
	registered(t, hub, all, ticks, btc)

	hub.Broadcast(NewMessage("eTick.BTCUSDT.BINANCE", "b"))
	hub.Broadcast(NewMessage("eOrder.MOCK.1", "o"))

	assert.Equal(t, "eTick.BTCUSDT.BINANCE", receive(t, all).Topic)
	assert.Equal(t, "eOrder.MOCK.1", receive(t, all).Topic)
	assert.Equal(t, "eTick.BTCUSDT.BINANCE", receive(t, ticks).Topic)
	assert.Equal(t, "b", receive(t, btc).Data)
	assertNothing(t, ticks)
	assertNothing(t, btc)
}

func TestClient_SubscriptionChanges(t *testing.T) {
	c := NewClient("c")
	assert.False(t, c.Accepts("eTick.X"))

	c.Subscribe("eTrade.")
	c.Subscribe("eTick.")
	assert.Equal(t, []string{"eTick.", "eTrade."}, c.Topics())
	assert.True(t, c.Accepts("eTick.X"))

	c.Unsubscribe("eTick.")
	assert.False(t, c.Accepts("eTick.X"))
	assert.True(t, c.Accepts("eTrade.Y"))
}

func TestClient_SendAfterClose(t *testing.T) {
	c := NewClient("c", "")
	require.True(t, c.Send(NewMessage("t", "x")))
	assert.Equal(t, "x", (<-c.GetSendChan()).Data)

	c.Close()
	c.Close()
	assert.False(t, c.Send(NewMessage("t", "x")))
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub := runHub(t)
	slow := NewClient("slow", "")
	fast := NewClient("fast", "eOrder.")
	registered(t, hub, slow, fast)

	for i := 0; i < clientBuffer+1; i++ {
		hub.Broadcast(NewMessage(fmt.Sprintf("eTick.%d", i), i))
	}

	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast(NewMessage("eOrder.1", "ok"))
	assert.Equal(t, "ok", receive(t, fast).Data)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := NewClient("c", "")
	registered(t, hub, client)

	cancel()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-client.GetSendChan()
	assert.False(t, open)
	assert.False(t, hub.Register(NewClient("late")), "stopped hub refuses clients")
}

func TestHub_ConcurrentBroadcasts(t *testing.T) {
	hub := runHub(t)
	client := NewClient("c", "")
	registered(t, hub, client)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hub.Broadcast(NewMessage("eTick.X", i))
		}(i)
	}
	wg.Wait()

	seen := 0
	for seen < 100 {
		receive(t, client)
		seen++
	}
	assert.Equal(t, 1, hub.ClientCount())
}

func BenchmarkHubBroadcast(b *testing.B) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	for i := 0; i < 100; i++ {
		hub.Register(NewClient(fmt.Sprintf("client-%d", i), "eOrder."))
	}

	msg := NewMessage("eTick.BTCUSDT.BINANCE", map[string]interface{}{"last_price": "42000"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(msg)
	}
}
