package core

import (
	"context"

	"github.com/Dyastin-0/gbasend/logger"
	"github.com/google/uuid"
)

type Hooks struct {
	OnTransition func(from, to State)
	OnAttempt    func(attempt int)
	OnOpen       func(size int64)
	OnProgress   func(p Progress)
}

type Result struct {
	Peer     *Peer
	Progress *Progress
}

// Client runs discover-then-send sessions. Each Discover starts a fresh
// session; Send continues the session Discover resolved.
type Client struct {
	ID      string
	cfg     *Config
	base    logger.Logger
	log     logger.Logger
	machine *Machine

	Hooks Hooks
}

func NewClient(cfg *Config, log logger.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if log == nil {
		log = logger.Nop()
	}

	return &Client{
		cfg:     cfg,
		base:    log,
		log:     log,
		machine: NewMachine(),
	}
}

func (c *Client) State() State {
	return c.machine.State()
}

// Run discovers a loader and sends the file at path to it.
func (c *Client) Run(ctx context.Context, path string) (*Result, error) {
	peer, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}

	p, err := c.Send(ctx, peer, path)
	return &Result{Peer: peer, Progress: p}, err
}

// Discover owns the UDP socket only for the duration of the handshake.
func (c *Client) Discover(ctx context.Context) (*Peer, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	c.reset()

	d := NewDiscoverer(c.cfg, c.machine, c.log)
	d.OnAttempt = c.Hooks.OnAttempt

	if err := d.Init(); err != nil {
		return nil, c.fail(err)
	}
	defer d.Close()

	peer, err := d.Discover(ctx)
	if err != nil {
		return nil, c.fail(err)
	}

	return peer, nil
}

// Send opens path only now, so the latest contents at ack time are sent.
func (c *Client) Send(ctx context.Context, peer *Peer, path string) (*Progress, error) {
	if c.machine.State() != Resolved {
		return nil, c.fail(newError(KindUnknown, "send without a resolved peer", ErrInvalidTransition))
	}

	s := NewSender(c.cfg, c.machine, c.log.WithStr("peer", peer.String()))
	s.OnOpen = c.Hooks.OnOpen
	s.OnProgress = c.Hooks.OnProgress

	p, err := s.Send(ctx, peer, path)
	if err != nil {
		return p, c.fail(err)
	}

	return p, nil
}

func (c *Client) reset() {
	c.ID = uuid.NewString()
	c.log = c.base.WithStr("session", c.ID)

	c.machine = NewMachine()
	c.machine.OnTransition = func(from, to State) {
		c.log.WithStr("from", from.String()).WithStr("to", to.String()).Debug("state")
		if c.Hooks.OnTransition != nil {
			c.Hooks.OnTransition(from, to)
		}
	}
}

func (c *Client) fail(err error) error {
	if !c.machine.State().Terminal() {
		c.machine.To(Failed)
	}

	kind := KindOf(err)
	log := c.log.WithStr("kind", kind.String())
	if kind.Fatal() {
		log.Error(err.Error())
	} else {
		log.Warn(err.Error())
	}

	return err
}
