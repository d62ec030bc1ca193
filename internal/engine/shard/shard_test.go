package shard

import (
	"Go2NetVision/internal/engine/clock"
	"Go2NetVision/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Unix(1700000000, 0)

func keyed(key model.FlowKey, at time.Time) model.KeyedPacket {
	return model.KeyedPacket{
		Key:    key,
		Packet: &model.RawPacket{Timestamp: at, Data: []byte{0xde, 0xad}, Length: 2},
	}
}

func testKey(port uint16) model.FlowKey {
	return model.NewFlowKey(0x0a000001, 0x0a000002, port, 80, model.ProtocolTCP)
}

func TestReap_ThresholdAndIdempotence(t *testing.T) {
	fake := clock.NewFake(base)
	out := make(chan model.CompletedSession, 8)
	s := New(0, Config{IdleTimeout: 10 * time.Second, ReapInterval: time.Millisecond}, fake, out, nil)

	s.append(keyed(testKey(1000), base))
	assert.Equal(t, 1, s.ActiveFlows())

	fake.Advance(9*time.Second + 999*time.Millisecond)
	assert.Equal(t, 0, s.reap(fake.Now()), "session reaped before the timeout")

	fake.Advance(time.Millisecond)
	assert.Equal(t, 1, s.reap(fake.Now()), "session not reaped at exactly the timeout")
	assert.Equal(t, 0, s.reap(fake.Now()), "second reap with the same clock emitted again")

	require.Len(t, out, 1)
	cs := <-out
	assert.Equal(t, testKey(1000), cs.Key)
	assert.Equal(t, model.ReasonIdle, cs.Reason)
	assert.Equal(t, 0, s.ActiveFlows())
	assert.Empty(t, s.flows)
	assert.Empty(t, s.lastSeen)

	s.append(keyed(testKey(1000), fake.Now()))
	require.Contains(t, s.flows, testKey(1000))
	assert.Len(t, s.flows[testKey(1000)].Packets, 1, "packet after a reap joined the old session")
	assert.Equal(t, 1, s.ActiveFlows())
	assert.Len(t, s.lastSeen, 1)
	assert.Empty(t, out)
}

func TestTick_AppendsQueuedBeforeReaping(t *testing.T) {
	capture := clock.NewCapture()
	out := make(chan model.CompletedSession, 8)
	s := New(0, Config{IdleTimeout: 10 * time.Second, ReapInterval: time.Millisecond, QueueSize: 4, StampCaptureTime: true},
		capture, out, nil)

	idle := model.NewFlowKey(0x0a000003, 0x0a000004, 5353, 53, model.ProtocolUDP)
	key := testKey(1000)
	s.append(keyed(idle, base))
	s.append(keyed(key, base.Add(10500*time.Millisecond)))

	s.Input() <- keyed(key, base.Add(17*time.Second))
	capture.Observe(base.Add(21 * time.Second))

	assert.Equal(t, 1, s.tick())
	require.Len(t, out, 1)
	assert.Equal(t, idle, (<-out).Key)

	require.Contains(t, s.flows, key)
	assert.Len(t, s.flows[key].Packets, 2)
	assert.Equal(t, base.Add(17*time.Second), s.lastSeen[key])
}

func TestRun_QueuedPacketKeepsSessionWhileBlocked(t *testing.T) {
	capture := clock.NewCapture()
	out := make(chan model.CompletedSession)
	s := New(0, Config{IdleTimeout: 10 * time.Second, ReapInterval: time.Millisecond, QueueSize: 8, StampCaptureTime: true},
		capture, out, nil)
	s.Start()

	idle := model.NewFlowKey(0x0a000003, 0x0a000004, 5353, 53, model.ProtocolUDP)
	key := testKey(1000)
	s.Input() <- keyed(idle, base)
	capture.Observe(base)
	s.Input() <- keyed(key, base.Add(10500*time.Millisecond))
	capture.Observe(base.Add(10500 * time.Millisecond))

	// The shard is now stuck handing the idle session to the writer.
	require.Eventually(t, func() bool { return s.ActiveFlows() == 1 && len(s.input) == 0 },
		time.Second, time.Millisecond)

	s.Input() <- keyed(key, base.Add(17*time.Second))
	capture.Observe(base.Add(21 * time.Second))
	time.Sleep(20 * time.Millisecond)

	first := <-out
	assert.Equal(t, idle, first.Key)
	assert.Equal(t, model.ReasonIdle, first.Reason)

	s.Close()
	var rest []model.CompletedSession
	for {
		select {
		case cs := <-out:
			rest = append(rest, cs)
			continue
		case <-s.done:
		}
		break
	}
	s.Wait()

	require.Len(t, rest, 1, "session split although its packets were 6.5s apart")
	assert.Equal(t, key, rest[0].Key)
	assert.Equal(t, model.ReasonFlush, rest[0].Reason)
	assert.Len(t, rest[0].Session.Packets, 2)
}

func TestAppend_GapStartsNewSession(t *testing.T) {
	out := make(chan model.CompletedSession, 8)
	s := New(0, Config{IdleTimeout: 10 * time.Second, ReapInterval: time.Millisecond, StampCaptureTime: true},
		clock.NewCapture(), out, nil)

	key := testKey(1000)
	s.append(keyed(key, base))
	s.append(keyed(key, base.Add(time.Second)))
	s.append(keyed(key, base.Add(12*time.Second)))

	require.Len(t, out, 1)
	first := <-out
	assert.Equal(t, model.ReasonGap, first.Reason)
	assert.Len(t, first.Session.Packets, 2)
	assert.Equal(t, base, first.Session.FirstSeen)
	assert.Equal(t, base.Add(time.Second), first.Session.LastSeen)

	require.Contains(t, s.flows, key)
	assert.Len(t, s.flows[key].Packets, 1)
	assert.Equal(t, base.Add(12*time.Second), s.lastSeen[key])
	assert.Equal(t, 1, s.ActiveFlows())
}

func TestAppend_LastSeenNeverMovesBack(t *testing.T) {
	out := make(chan model.CompletedSession, 8)
	s := New(0, Config{IdleTimeout: 10 * time.Second, ReapInterval: time.Millisecond, StampCaptureTime: true},
		clock.NewCapture(), out, nil)

	key := testKey(2000)
	s.append(keyed(key, base.Add(5*time.Second)))
	s.append(keyed(key, base))

	assert.Equal(t, base.Add(5*time.Second), s.lastSeen[key])
	assert.Len(t, s.flows[key].Packets, 2)
	assert.Len(t, s.flows, len(s.lastSeen))
}

func TestClose_FlushesEverything(t *testing.T) {
	out := make(chan model.CompletedSession, 64)
	s := New(3, Config{IdleTimeout: time.Hour, ReapInterval: time.Millisecond, QueueSize: 16}, clock.Wall{}, out, nil)
	s.Start()

	for port := uint16(1); port <= 5; port++ {
		s.Input() <- keyed(testKey(port), base)
		s.Input() <- keyed(testKey(port), base.Add(time.Millisecond))
	}
	s.Close()
	s.Wait()
	close(out)

	var got []model.CompletedSession
	for cs := range out {
		got = append(got, cs)
	}
	require.Len(t, got, 5)
	for _, cs := range got {
		assert.Equal(t, model.ReasonFlush, cs.Reason)
		assert.Len(t, cs.Session.Packets, 2)
	}
	assert.Equal(t, 0, s.ActiveFlows())
}

func TestRun_ReapsIdleSessions(t *testing.T) {
	fake := clock.NewFake(base)
	out := make(chan model.CompletedSession, 8)
	s := New(0, Config{IdleTimeout: 10 * time.Second, ReapInterval: time.Millisecond, QueueSize: 4}, fake, out, nil)
	s.Start()
	defer func() {
		s.Close()
		s.Wait()
	}()

	s.Input() <- keyed(testKey(1000), base)
	require.Eventually(t, func() bool { return s.ActiveFlows() == 1 }, time.Second, time.Millisecond)

	fake.Advance(10 * time.Second)

	select {
	case cs := <-out:
		assert.Equal(t, model.ReasonIdle, cs.Reason)
		assert.Equal(t, testKey(1000), cs.Key)
	case <-time.After(time.Second):
		t.Fatal("idle session was not reaped")
	}
	assert.Equal(t, 0, s.ActiveFlows())
}
