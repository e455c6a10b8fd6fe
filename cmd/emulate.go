package cmd

import (
	"context"
	"fmt"

	"github.com/Dyastin-0/gbasend/core"
	"github.com/Dyastin-0/gbasend/styles"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

func emulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "emulate",
		Usage: "act as a net-boot loader: ack init requests and store the next ROM sent",
		Description: "On the sender's host, bind the sender apart from the emulator:\n" +
			"  gbasend --listen 127.0.0.1:0 --broadcast 127.0.0.1 <rom-path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "directory received ROMs are written to",
				Value:   "./",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "file name for the received ROM",
				Value: "rom.gba",
			},
			&cli.IntFlag{
				Name:  "skip",
				Usage: "leave the first n init requests unanswered",
			},
		},
		Action: emulateAction,
	}
}

func emulateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := baseConfig(cmd)
	if err != nil {
		return exitErr(err)
	}

	log, err := newLogger(cmd)
	if err != nil {
		return err
	}

	r := core.NewResponder(cfg, cmd.String("dir"), cmd.String("name"), log)
	r.Skip = int(cmd.Int("skip"))

	if err := r.Listen(); err != nil {
		return exitErr(err)
	}
	defer r.Close()

	w := cmd.Root().Writer
	fmt.Fprintln(w, styles.TITLE.Render("Loader emulator"))
	fmt.Fprintln(w, styles.INFO.Render(fmt.Sprintf("Listening on udp %s, tcp %s", r.UDPAddr(), r.TCPAddr())))

	rcv, err := r.Serve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return exitErr(err)
	}

	fmt.Fprintln(w, styles.SUCCESS.Render(fmt.Sprintf(
		"Stored %s (%s) from %s",
		rcv.Path,
		humanize.IBytes(uint64(rcv.Size)),
		rcv.From,
	)))

	return nil
}
