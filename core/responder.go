package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/Dyastin-0/gbasend/logger"
)

// Received describes a stream stored by a Responder.
type Received struct {
	Path string
	Size int64
	From net.Addr
}

// Responder emulates a net-boot loader. It acknowledges init requests and
// stores the first stream it accepts.
type Responder struct {
	cfg  *Config
	dir  string
	name string
	log  logger.Logger

	// Skip leaves the first Skip init requests unanswered.
	Skip int

	udp      *net.UDPConn
	ln       net.Listener
	requests atomic.Int64
}

func NewResponder(cfg *Config, dir, name string, log logger.Logger) *Responder {
	if dir == "" {
		dir = "./"
	}

	if name == "" {
		name = "rom.gba"
	}

	if log == nil {
		log = logger.Nop()
	}

	return &Responder{
		cfg:  cfg,
		dir:  dir,
		name: name,
		log:  log,
	}
}

func (r *Responder) Listen() error {
	addr, err := net.ResolveUDPAddr("udp4", r.cfg.ListenAddr)
	if err != nil {
		return newError(KindBind, "could not resolve UDP listen address", err)
	}

	udp, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return newError(KindBind, "could not bind UDP socket", err)
	}

	host, _, _ := net.SplitHostPort(r.cfg.ListenAddr)
	ln, err := net.Listen("tcp4", net.JoinHostPort(host, strconv.Itoa(r.cfg.TransferPort)))
	if err != nil {
		udp.Close()
		return newError(KindBind, "could not listen on transfer port", err)
	}

	r.udp = udp
	r.ln = ln

	r.log.WithStr("udp", udp.LocalAddr().String()).WithStr("tcp", ln.Addr().String()).Info("responder listening")
	return nil
}

func (r *Responder) UDPAddr() *net.UDPAddr {
	return r.udp.LocalAddr().(*net.UDPAddr)
}

func (r *Responder) TCPAddr() *net.TCPAddr {
	return r.ln.Addr().(*net.TCPAddr)
}

// Requests is the number of init requests seen so far.
func (r *Responder) Requests() int {
	return int(r.requests.Load())
}

func (r *Responder) Close() error {
	var errs []error
	if r.udp != nil {
		errs = append(errs, r.udp.Close())
	}
	if r.ln != nil {
		errs = append(errs, r.ln.Close())
	}
	return errors.Join(errs...)
}

// Serve answers broadcasts until one stream has been stored or ctx ends.
func (r *Responder) Serve(ctx context.Context) (*Received, error) {
	if r.udp == nil || r.ln == nil {
		if err := r.Listen(); err != nil {
			return nil, err
		}
	}

	go r.answer()

	stop := context.AfterFunc(ctx, func() {
		r.ln.Close()
	})
	defer stop()

	conn, err := r.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(KindConnect, "could not accept stream", err)
	}
	defer conn.Close()

	return r.receive(conn)
}

func (r *Responder) answer() {
	buf := make([]byte, r.cfg.RecvBufferSize)
	ack := r.cfg.Responses[0].Bytes()

	for {
		n, from, err := r.udp.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.log.Warn(fmt.Sprintf("read: %v", err))
			}
			return
		}

		if string(buf[:n]) != string(InitRequest) {
			continue
		}

		seen := r.requests.Add(1)
		log := r.log.WithStr("from", from.String()).WithAny("request", seen)

		if seen <= int64(r.Skip) {
			log.Debug("skipped init request")
			continue
		}

		if _, err := r.udp.WriteToUDP(ack, from); err != nil {
			log.Warn(fmt.Sprintf("ack: %v", err))
			continue
		}

		log.Info("sent ack")
	}
}

func (r *Responder) receive(conn net.Conn) (*Received, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, err
	}

	file, path, err := createUnique(r.dir, r.name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	n, err := io.Copy(file, conn)
	if err != nil {
		return nil, newError(KindRead, "could not read stream", err)
	}

	r.log.WithStr("path", path).WithAny("size", n).Info("stored stream")

	return &Received{Path: path, Size: n, From: conn.RemoteAddr()}, nil
}

// createUnique creates name in dir, or the first free "name (N).ext" when
// name is taken. Existing files are never truncated.
func createUnique(dir, name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]

	for i := 0; ; i++ {
		path := filepath.Join(dir, name)
		if i > 0 {
			path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
		}

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}

		return file, path, nil
	}
}
