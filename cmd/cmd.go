// Package cmd ...
package cmd

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/Dyastin-0/gbasend/core"
	"github.com/Dyastin-0/gbasend/logger"
	"github.com/Dyastin-0/gbasend/styles"
	"github.com/common-nighthawk/go-figure"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

func New() *cli.Command {
	return &cli.Command{
		Name:      core.AppName,
		Usage:     "broadcast for a GBA net-boot loader and send it a ROM",
		UsageText: fmt.Sprintf("%s [options] <rom-path>", core.AppName),
		Version:   core.VERSION,
		Flags:     append(commonFlags(), sendFlags()...),
		Action:    sendAction,
		Commands: []*cli.Command{
			emulateCommand(),
		},
	}
}

func usage(cmd *cli.Command) {
	w := cmd.Root().Writer

	if visual(cmd) {
		figure.NewFigure(core.AppName, "", true).Print()
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, styles.TITLE.Render(core.AppTitle))
	fmt.Fprintf(w, "Usage: %s <rom-path>\n", core.AppName)
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "UDP discovery and TCP transfer port",
			Value:   core.Port,
			Sources: cli.EnvVars("GBASEND_PORT"),
		},
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "local host or host:port to bind the discovery socket to",
			Value:   "",
			Sources: cli.EnvVars("GBASEND_LISTEN"),
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "also log to stderr, including debug events",
			Sources: cli.EnvVars("GBASEND_VERBOSE"),
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "plain output, no spinner or progress bar",
			Sources: cli.EnvVars("GBASEND_QUIET"),
		},
		&cli.StringFlag{
			Name:    "log",
			Usage:   "log file path (default ~/gbasend/logs/gbasend.log)",
			Sources: cli.EnvVars("GBASEND_LOG"),
		},
	}
}

// baseConfig applies the flags shared by every command.
func baseConfig(cmd *cli.Command) (*core.Config, error) {
	cfg := core.DefaultConfig()

	port := cmd.Int("port")
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port out of range: %d", core.ErrInvalidConfig, port)
	}

	cfg.ListenAddr = listenAddr(cmd.String("listen"), int(port))
	cfg.BroadcastAddr = net.JoinHostPort(core.BroadcastHost, strconv.Itoa(int(port)))
	cfg.TransferPort = int(port)

	return cfg, nil
}

// listenAddr keeps an explicit port so the sender can bind apart from a
// loader emulator on the same host.
func listenAddr(value string, port int) string {
	if _, _, err := net.SplitHostPort(value); err == nil {
		return value
	}
	return net.JoinHostPort(value, strconv.Itoa(port))
}

func newLogger(cmd *cli.Command) (logger.Logger, error) {
	path := cmd.String("log")
	if path == "" {
		var err error
		path, err = logger.LogPath("logs")
		if err != nil {
			return nil, err
		}
	}

	log := logger.New()
	if cmd.Bool("verbose") {
		log.InitMultiWriter(path, cmd.Root().ErrWriter)
		log.SetLevel(zerolog.DebugLevel)
	} else {
		log.Init(path)
		log.SetLevel(zerolog.InfoLevel)
	}

	return log, nil
}

func visual(cmd *cli.Command) bool {
	return !cmd.Bool("quiet") && isatty.IsTerminal(os.Stdout.Fd())
}

// exitErr maps a failed run to its exit status.
func exitErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, core.ErrInvalidConfig) {
		return cli.Exit(styles.ERROR.Render(err.Error()), 1)
	}

	kind := core.KindOf(err)
	if kind == core.KindNoPeerFound {
		return cli.Exit("", kind.ExitCode())
	}

	return cli.Exit(styles.ERROR.Render(err.Error()), kind.ExitCode())
}

func elapsed(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
