package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/Dyastin-0/gbasend/core"
	"github.com/Dyastin-0/gbasend/styles"
	"github.com/charmbracelet/huh/spinner"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

func sendFlags() []cli.Flag {
	d := core.DefaultConfig()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "broadcast",
			Aliases: []string{"b"},
			Usage:   "broadcast address init requests are sent to",
			Value:   core.BroadcastHost,
			Sources: cli.EnvVars("GBASEND_BROADCAST"),
		},
		&cli.IntFlag{
			Name:    "retries",
			Aliases: []string{"r"},
			Usage:   "init requests to send before giving up",
			Value:   core.Retries,
			Sources: cli.EnvVars("GBASEND_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "interval",
			Usage:   "wait between a broadcast and listening for the ack",
			Value:   d.Interval,
			Sources: cli.EnvVars("GBASEND_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "reply-timeout",
			Usage:   "how long each listen waits for a datagram, 0 waits for the discovery deadline",
			Value:   d.ReplyTimeout,
			Sources: cli.EnvVars("GBASEND_REPLY_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "wall-clock budget for discovery, 0 disables it",
			Value:   d.DiscoveryTimeout,
			Sources: cli.EnvVars("GBASEND_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "dial-timeout",
			Usage:   "TCP connect timeout",
			Value:   d.DialTimeout,
			Sources: cli.EnvVars("GBASEND_DIAL_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "chunk",
			Usage:   "bytes read from the ROM per write",
			Value:   core.ChunkSize,
			Sources: cli.EnvVars("GBASEND_CHUNK"),
		},
		&cli.BoolFlag{
			Name:    "pad",
			Usage:   "send the final chunk as a full buffer like legacy senders did",
			Sources: cli.EnvVars("GBASEND_PAD"),
		},
		&cli.BoolFlag{
			Name:    "interactive",
			Aliases: []string{"i"},
			Usage:   "ask to broadcast again when no loader answers",
		},
	}
}

func sendConfig(cmd *cli.Command) (*core.Config, error) {
	cfg, err := baseConfig(cmd)
	if err != nil {
		return nil, err
	}

	cfg.BroadcastAddr = net.JoinHostPort(cmd.String("broadcast"), strconv.Itoa(cfg.TransferPort))
	cfg.Retries = int(cmd.Int("retries"))
	cfg.Interval = cmd.Duration("interval")
	cfg.ReplyTimeout = cmd.Duration("reply-timeout")
	cfg.DiscoveryTimeout = cmd.Duration("timeout")
	cfg.DialTimeout = cmd.Duration("dial-timeout")
	cfg.ChunkSize = int(cmd.Int("chunk"))
	cfg.PadFinalChunk = cmd.Bool("pad")

	return cfg, cfg.Validate()
}

func sendAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() == 0 {
		usage(cmd)
		return nil
	}

	path := cmd.Args().First()

	cfg, err := sendConfig(cmd)
	if err != nil {
		return exitErr(err)
	}

	log, err := newLogger(cmd)
	if err != nil {
		return err
	}

	out := newConsole(cmd)
	out.title()

	client := core.NewClient(cfg, log)
	client.Hooks = out.hooks(cfg)

	for {
		log.WithStr("rom", path).Info("starting session")

		res, err := out.run(ctx, client, path)
		if err == nil {
			out.done(res)
			return nil
		}

		if errors.Is(err, core.ErrNoPeerFound) {
			out.warn("No response received from loader")
			if cmd.Bool("interactive") && Continue("No loader answered, broadcast again?") {
				continue
			}
		}

		return exitErr(err)
	}
}

// console renders a session either with spinner and bar or as plain lines.
type console struct {
	cmd    *cli.Command
	visual bool
	peer   *core.Peer
	size   int64
	bar    *progressbar.ProgressBar
}

func newConsole(cmd *cli.Command) *console {
	return &console{cmd: cmd, visual: visual(cmd)}
}

func (c *console) println(s string) {
	fmt.Fprintln(c.cmd.Root().Writer, s)
}

func (c *console) title() {
	c.println(styles.TITLE.Render(core.AppTitle))
}

func (c *console) warn(s string) {
	c.println(styles.WARNING.Render(s))
}

func (c *console) hooks(cfg *core.Config) core.Hooks {
	return core.Hooks{
		OnTransition: func(from, to core.State) {
			switch {
			case from == core.Idle && to == core.Broadcasting && !c.visual:
				c.println(fmt.Sprintf("Bound to UDP %s", cfg.ListenAddr))
				c.println(fmt.Sprintf("Broadcasting to %s", cfg.BroadcastAddr))
			case to == core.Transferring:
				c.println(fmt.Sprintf("Connection established to %s", c.peer.TransferAddr(cfg.TransferPort)))
				if c.visual {
					c.bar = core.DefaultBar(c.size, c.peer)
				}
			}
		},
		OnOpen: func(size int64) {
			c.size = size
		},
		OnProgress: func(p core.Progress) {
			if c.bar != nil {
				c.bar.Set64(p.Sent)
				return
			}
			fmt.Fprintf(c.cmd.Root().Writer, "\rSent %d bytes to %s", p.Sent, c.peer.IP)
		},
	}
}

func (c *console) run(ctx context.Context, client *core.Client, path string) (*core.Result, error) {
	c.peer = nil
	c.bar = nil

	discover := func(ctx context.Context) error {
		peer, err := client.Discover(ctx)
		c.peer = peer
		return err
	}

	var err error
	if c.visual {
		err = spinner.New().
			Title(styles.INFO.Render("broadcasting for a loader...")).
			Context(ctx).
			ActionWithErr(discover).
			Run()
	} else {
		err = discover(ctx)
	}
	if err != nil {
		return nil, err
	}

	c.println(styles.SUCCESS.Render(fmt.Sprintf("Received ack from IP %s", c.peer.IP)))

	p, err := client.Send(ctx, c.peer, path)
	if c.bar != nil {
		c.bar.Finish()
	} else if p != nil && p.Chunks > 0 {
		c.println("")
	}

	return &core.Result{Peer: c.peer, Progress: p}, err
}

func (c *console) done(res *core.Result) {
	p := res.Progress
	c.println(styles.SUCCESS.Render(fmt.Sprintf(
		"Sent %d bytes (%s) to %s in %s",
		p.Sent,
		humanize.IBytes(uint64(p.Sent)),
		res.Peer.IP,
		elapsed(p.Elapsed),
	)))
}
