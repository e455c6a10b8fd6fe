package core

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

type reply struct {
	payload []byte
	from    net.Addr
	err     error
}

// fakeConn replays scripted datagrams and records every send.
type fakeConn struct {
	mu       sync.Mutex
	replies  []reply
	fallback reply
	sendErr  error

	sent  [][]byte
	dsts  []net.Addr
	reads int
}

func (f *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.fallback
	if f.reads < len(f.replies) {
		r = f.replies[f.reads]
	}
	f.reads++

	if r.err != nil {
		return 0, nil, r.err
	}
	return copy(p, r.payload), r.from, nil
}

func (f *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), p...))
	f.dsts = append(f.dsts, addr)
	return len(p), nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error { return nil }

var loaderAddr = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 7), Port: 5555}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	cfg.ReplyTimeout = 0
	cfg.DiscoveryTimeout = 0
	return cfg
}

func newFakeDiscoverer(cfg *Config, conn *fakeConn) *Discoverer {
	d := NewDiscoverer(cfg, nil, nil)
	d.conn = conn
	return d
}

func TestDiscoverExhaustsRetries(t *testing.T) {
	for _, n := range []int{1, 3, 10} {
		cfg := testConfig()
		cfg.Retries = n

		// a wildcard-bound socket hears its own broadcast
		conn := &fakeConn{fallback: reply{payload: InitRequest.Bytes(), from: loaderAddr}}
		d := newFakeDiscoverer(cfg, conn)

		peer, err := d.Discover(t.Context())

		assert.Nil(t, peer)
		assert.ErrorIs(t, err, ErrNoPeerFound)
		assert.Equal(t, KindNoPeerFound, KindOf(err))
		assert.Len(t, conn.sent, n, "retries=%d", n)
		assert.Equal(t, n, conn.reads)

		for i, p := range conn.sent {
			assert.Equal(t, string(InitRequest), string(p))
			assert.Equal(t, "255.255.255.255:31313", conn.dsts[i].String())
		}
	}
}

func TestDiscoverStopsOnMatch(t *testing.T) {
	cfg := testConfig()
	conn := &fakeConn{
		replies: []reply{
			{payload: []byte("nope"), from: loaderAddr},
			{payload: []byte{}, from: loaderAddr},
			{payload: InitResponse.Bytes(), from: loaderAddr},
		},
		fallback: reply{payload: InitResponse.Bytes(), from: loaderAddr},
	}
	d := newFakeDiscoverer(cfg, conn)

	var attempts []int
	d.OnAttempt = func(a int) { attempts = append(attempts, a) }

	peer, err := d.Discover(t.Context())
	require.NoError(t, err)

	assert.True(t, peer.IP.Equal(loaderAddr.IP))
	assert.Equal(t, 5555, peer.Port)
	assert.Equal(t, "192.168.1.7:31313", peer.TransferAddr(Port))
	assert.Len(t, conn.sent, 3)
	assert.Equal(t, 3, conn.reads)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, Resolved, d.machine.State())
}

func TestDiscoverIgnoresNearMisses(t *testing.T) {
	ack := string(InitResponse)
	payloads := map[string][]byte{
		"empty":     {},
		"truncated": []byte(ack[:len(ack)-1]),
		"superset":  []byte(ack + "0"),
		"newline":   []byte(ack + "\n"),
		"request":   InitRequest.Bytes(),
		"old ack":   []byte("gba_net_boot_ack_beta_0000"),
	}

	for name, payload := range payloads {
		cfg := testConfig()
		cfg.Retries = 2
		conn := &fakeConn{fallback: reply{payload: payload, from: loaderAddr}}

		_, err := newFakeDiscoverer(cfg, conn).Discover(t.Context())

		assert.Equal(t, KindNoPeerFound, KindOf(err), name)
		assert.Len(t, conn.sent, 2, name)
	}
}

func TestDiscoverAcceptsAnyConfiguredToken(t *testing.T) {
	cfg := testConfig()
	cfg.Responses = []Token{InitResponse, "gba_net_boot_ack_beta_0002"}
	conn := &fakeConn{fallback: reply{payload: []byte("gba_net_boot_ack_beta_0002"), from: loaderAddr}}

	peer, err := newFakeDiscoverer(cfg, conn).Discover(t.Context())
	require.NoError(t, err)
	assert.True(t, peer.IP.Equal(loaderAddr.IP))
}

func TestDiscoverDecodeFailure(t *testing.T) {
	cfg := testConfig()
	conn := &fakeConn{fallback: reply{payload: []byte{0x67, 0xff, 0xfe, 0x00}, from: loaderAddr}}

	_, err := newFakeDiscoverer(cfg, conn).Discover(t.Context())

	assert.Equal(t, KindDecode, KindOf(err))
	assert.True(t, KindOf(err).Fatal())
	assert.Len(t, conn.sent, 1)
}

func TestDiscoverReceiveFailure(t *testing.T) {
	cfg := testConfig()
	conn := &fakeConn{fallback: reply{err: errors.New("connection refused")}}

	_, err := newFakeDiscoverer(cfg, conn).Discover(t.Context())

	assert.Equal(t, KindReceive, KindOf(err))
	assert.Len(t, conn.sent, 1)
}

func TestDiscoverSendFailure(t *testing.T) {
	cfg := testConfig()
	conn := &fakeConn{sendErr: errors.New("network is unreachable")}

	_, err := newFakeDiscoverer(cfg, conn).Discover(t.Context())

	assert.Equal(t, KindSend, KindOf(err))
	assert.Equal(t, 0, conn.reads)
}

func TestDiscoverReplyTimeoutCountsAsAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.Retries = 4
	conn := &fakeConn{
		replies: []reply{
			{err: os.ErrDeadlineExceeded},
			{err: os.ErrDeadlineExceeded},
		},
		fallback: reply{payload: InitResponse.Bytes(), from: loaderAddr},
	}

	peer, err := newFakeDiscoverer(cfg, conn).Discover(t.Context())
	require.NoError(t, err)
	assert.NotNil(t, peer)
	assert.Len(t, conn.sent, 3)
}

func TestDiscoverUninitialized(t *testing.T) {
	_, err := NewDiscoverer(testConfig(), nil, nil).Discover(t.Context())
	assert.Equal(t, KindBind, KindOf(err))
}

func localPacketListener(t *testing.T) net.PacketConn {
	t.Helper()

	if !nettest.TestableNetwork("udp4") {
		t.Skip("udp4 not testable")
	}

	conn, err := nettest.NewLocalPacketListener("udp4")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func loopbackConfig(target net.Addr) *Config {
	cfg := testConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.BroadcastAddr = target.String()
	return cfg
}

func TestDiscoverLoopbackThirdBroadcast(t *testing.T) {
	loader := localPacketListener(t)

	received := make(chan int, 1)
	go func() {
		buf := make([]byte, RecvBufferSize)
		for i := 1; ; i++ {
			n, from, err := loader.ReadFrom(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) != string(InitRequest) {
				continue
			}

			answer := []byte("busy")
			if i == 3 {
				answer = InitResponse.Bytes()
				received <- i
			}
			loader.WriteTo(answer, from)
		}
	}()

	cfg := loopbackConfig(loader.LocalAddr())
	cfg.ReplyTimeout = 2 * time.Second

	d := NewDiscoverer(cfg, nil, nil)
	require.NoError(t, d.Init())
	defer d.Close()

	var attempts int
	d.OnAttempt = func(int) { attempts++ }

	peer, err := d.Discover(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 3, <-received)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, loader.LocalAddr().String(), peer.String())
}

func TestDiscoverDeadline(t *testing.T) {
	silent := localPacketListener(t)

	cfg := loopbackConfig(silent.LocalAddr())
	cfg.DiscoveryTimeout = 150 * time.Millisecond

	d := NewDiscoverer(cfg, nil, nil)
	require.NoError(t, d.Init())
	defer d.Close()

	start := time.Now()
	_, err := d.Discover(t.Context())

	assert.ErrorIs(t, err, ErrNoPeerFound)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDiscoverCanceled(t *testing.T) {
	silent := localPacketListener(t)

	cfg := loopbackConfig(silent.LocalAddr())

	d := NewDiscoverer(cfg, nil, nil)
	require.NoError(t, d.Init())
	defer d.Close()

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := d.Discover(ctx)

	assert.Equal(t, KindCanceled, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInitBindFailure(t *testing.T) {
	taken := localPacketListener(t)

	cfg := testConfig()
	cfg.ListenAddr = taken.LocalAddr().String()

	d := NewDiscoverer(cfg, nil, nil)
	err := d.Init()

	assert.Equal(t, KindBind, KindOf(err))
	assert.NoError(t, d.Close())
}
