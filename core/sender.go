package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/Dyastin-0/gbasend/logger"
)

// Progress counts what has been written to the stream so far.
type Progress struct {
	Sent    int64
	Chunks  int
	Elapsed time.Duration
}

type Sender struct {
	cfg     *Config
	machine *Machine
	log     logger.Logger

	// OnOpen receives the size of the opened file, -1 if unknown.
	OnOpen     func(size int64)
	OnProgress func(p Progress)
}

func NewSender(cfg *Config, machine *Machine, log logger.Logger) *Sender {
	if machine == nil {
		machine = NewMachine()
	}

	if log == nil {
		log = logger.Nop()
	}

	return &Sender{
		cfg:     cfg,
		machine: machine,
		log:     log,
	}
}

// Send opens path and streams it to the peer's transfer port.
func (s *Sender) Send(ctx context.Context, peer *Peer, path string) (*Progress, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, newError(KindFileOpen, fmt.Sprintf("could not open ROM: %s", path), err)
	}
	defer file.Close()

	size := int64(-1)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	if s.OnOpen != nil {
		s.OnOpen(size)
	}

	if err := s.machine.To(Connecting); err != nil {
		return nil, err
	}

	addr := peer.TransferAddr(s.cfg.TransferPort)
	log := s.log.WithStr("addr", addr)

	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError(KindConnect, fmt.Sprintf("could not establish connection to %s", addr), err)
	}
	defer conn.Close()

	log.Info("connection established")

	if err := s.machine.To(Transferring); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	p, err := s.Copy(conn, file)
	if err != nil {
		if ctx.Err() != nil {
			return p, newError(KindCanceled, "transfer canceled", ctx.Err())
		}
		return p, err
	}

	if err := s.machine.To(Done); err != nil {
		return p, err
	}

	log.WithAny("sent", p.Sent).WithInt("chunks", p.Chunks).Info("transfer complete")
	return p, nil
}

// Copy writes src to dst one chunk at a time until src is exhausted.
// Only the bytes read are written unless PadFinalChunk is set, in which case
// a short final chunk is sent as a full buffer.
func (s *Sender) Copy(dst io.Writer, src io.Reader) (*Progress, error) {
	buf := make([]byte, s.cfg.ChunkSize)
	p := &Progress{}
	start := time.Now()

	for {
		n, err := io.ReadFull(src, buf)
		last := errors.Is(err, io.ErrUnexpectedEOF)

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil && !last {
			return p, newError(KindRead, "could not read from ROM file", err)
		}

		chunk := buf[:n]
		if s.cfg.PadFinalChunk {
			chunk = buf
		}

		written, err := dst.Write(chunk)
		if err != nil {
			return p, newError(KindWrite, "could not write to TCP stream", err)
		}

		if written != len(chunk) {
			return p, newError(KindWrite, "could not write to TCP stream", ErrShortWrite)
		}

		p.Sent += int64(written)
		p.Chunks++
		p.Elapsed = time.Since(start)

		if s.OnProgress != nil {
			s.OnProgress(*p)
		}

		if last {
			break
		}
	}

	p.Elapsed = time.Since(start)
	return p, nil
}
