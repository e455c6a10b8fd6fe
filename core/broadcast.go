package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/Dyastin-0/gbasend/logger"
)

// PacketConn is the part of net.PacketConn discovery needs.
type PacketConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Peer is the loader that acknowledged an init request.
type Peer struct {
	IP   net.IP
	Port int
}

func (p *Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(p.Port))
}

// TransferAddr is the stream address on the peer's host.
func (p *Peer) TransferAddr(port int) string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(port))
}

func peerFromAddr(addr net.Addr) (*Peer, error) {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return &Peer{IP: udp.IP, Port: udp.Port}, nil
	}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, err
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("not an ip address: %q", host)
	}

	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, err
	}

	return &Peer{IP: ip, Port: p}, nil
}

type Discoverer struct {
	cfg     *Config
	conn    PacketConn
	machine *Machine
	log     logger.Logger

	// OnAttempt is called after each init request leaves the socket.
	OnAttempt func(attempt int)
}

func NewDiscoverer(cfg *Config, machine *Machine, log logger.Logger) *Discoverer {
	if machine == nil {
		machine = NewMachine()
	}

	if log == nil {
		log = logger.Nop()
	}

	return &Discoverer{
		cfg:     cfg,
		machine: machine,
		log:     log,
	}
}

// Init binds the discovery socket and enables broadcast on it.
func (d *Discoverer) Init() error {
	addr, err := net.ResolveUDPAddr("udp4", d.cfg.ListenAddr)
	if err != nil {
		return newError(KindBind, "could not resolve UDP listen address", err)
	}

	ln, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return newError(KindBind, "could not bind UDP socket", err)
	}

	d.log.WithStr("addr", ln.LocalAddr().String()).Info("bound UDP socket")

	rc, err := ln.SyscallConn()
	if err != nil {
		ln.Close()
		return newError(KindBroadcastSetup, "could not set up UDP socket to broadcast", err)
	}

	var serr error
	err = rc.Control(func(fd uintptr) {
		serr = setBroadcast(fd)
	})
	if err == nil {
		err = serr
	}
	if err != nil {
		ln.Close()
		return newError(KindBroadcastSetup, "could not set up UDP socket to broadcast", err)
	}

	d.conn = ln
	return nil
}

func (d *Discoverer) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// Discover broadcasts init requests until a loader acknowledges one, the
// retry budget runs out, or the discovery deadline passes.
func (d *Discoverer) Discover(ctx context.Context) (*Peer, error) {
	if d.conn == nil {
		return nil, newError(KindBind, "discovery socket not initialized", net.ErrClosed)
	}

	parent := ctx
	if d.cfg.DiscoveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DiscoveryTimeout)
		defer cancel()
	}

	dst, err := net.ResolveUDPAddr("udp4", d.cfg.BroadcastAddr)
	if err != nil {
		return nil, newError(KindSend, "could not resolve broadcast address", err)
	}

	buf := make([]byte, d.cfg.RecvBufferSize)

	for attempt := 1; attempt <= d.cfg.Retries; attempt++ {
		if ctx.Err() != nil {
			return nil, d.stopped(parent, attempt-1)
		}

		if err := d.machine.To(Broadcasting); err != nil {
			return nil, err
		}

		if _, err := d.conn.WriteTo(InitRequest.Bytes(), dst); err != nil {
			return nil, newError(KindSend, "could not broadcast to UDP socket", err)
		}

		log := d.log.WithInt("attempt", attempt)
		log.Debug("broadcast init request")

		if d.OnAttempt != nil {
			d.OnAttempt(attempt)
		}

		if err := d.machine.To(AwaitingResponse); err != nil {
			return nil, err
		}

		if err := wait(ctx, d.cfg.Interval); err != nil {
			return nil, d.stopped(parent, attempt)
		}

		payload, from, err := d.receive(ctx, buf)
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, newError(KindReceive, "could not receive bytes from UDP socket", err)
			}

			if ctx.Err() != nil {
				return nil, d.stopped(parent, attempt)
			}

			log.Debug("no reply before timeout")
			continue
		}

		if !utf8.Valid(payload) {
			return nil, newError(KindDecode, "could not convert datagram to string",
				fmt.Errorf("invalid UTF-8 in %d bytes from %s", len(payload), from))
		}

		if !Matches(string(payload), d.cfg.Responses) {
			log.WithStr("from", from.String()).Debug("ignored non-matching datagram")
			continue
		}

		peer, err := peerFromAddr(from)
		if err != nil {
			return nil, newError(KindDecode, "could not resolve responder address", err)
		}

		if err := d.machine.To(Resolved); err != nil {
			return nil, err
		}

		log.WithStr("peer", peer.String()).Info("received ack")
		return peer, nil
	}

	return nil, newError(KindNoPeerFound, fmt.Sprintf("no ack after %d broadcasts", d.cfg.Retries), ErrNoPeerFound)
}

// receive reads one datagram, bounded by the reply timeout and ctx.
func (d *Discoverer) receive(ctx context.Context, buf []byte) ([]byte, net.Addr, error) {
	var deadline time.Time
	if d.cfg.ReplyTimeout > 0 {
		deadline = time.Now().Add(d.cfg.ReplyTimeout)
	}
	if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
		deadline = dl
	}

	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		d.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, from, err := d.conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, err
	}

	return buf[:n], from, nil
}

func (d *Discoverer) stopped(parent context.Context, attempts int) error {
	if err := parent.Err(); errors.Is(err, context.Canceled) {
		return newError(KindCanceled, "discovery canceled", err)
	}

	return newError(KindNoPeerFound,
		fmt.Sprintf("no ack before discovery deadline (%d broadcasts)", attempts), ErrNoPeerFound)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
