package core

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

type Config struct {
	// ListenAddr is the local UDP address discovery binds to.
	ListenAddr string
	// BroadcastAddr is where init requests are sent.
	BroadcastAddr string
	// TransferPort is the TCP port dialed on the resolved peer.
	TransferPort int

	Retries  int
	Interval time.Duration

	// ReplyTimeout bounds each receive. Zero blocks until the discovery budget ends.
	ReplyTimeout time.Duration
	// DiscoveryTimeout is the wall-clock budget for the whole retry loop. Zero disables it.
	DiscoveryTimeout time.Duration
	DialTimeout      time.Duration

	RecvBufferSize int
	ChunkSize      int

	// PadFinalChunk writes the whole chunk buffer even when the last read was short.
	PadFinalChunk bool

	Responses []Token
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:       net.JoinHostPort("", strconv.Itoa(Port)),
		BroadcastAddr:    net.JoinHostPort(BroadcastHost, strconv.Itoa(Port)),
		TransferPort:     Port,
		Retries:          Retries,
		Interval:         Interval,
		ReplyTimeout:     time.Second,
		DiscoveryTimeout: 15 * time.Second,
		DialTimeout:      5 * time.Second,
		RecvBufferSize:   RecvBufferSize,
		ChunkSize:        ChunkSize,
		Responses:        AcceptedResponses,
	}
}

func (c *Config) Validate() error {
	if c.Retries < 1 {
		return fmt.Errorf("%w: retries must be at least 1, got %d", ErrInvalidConfig, c.Retries)
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}

	if c.RecvBufferSize < 1 {
		return fmt.Errorf("%w: receive buffer must be positive, got %d", ErrInvalidConfig, c.RecvBufferSize)
	}

	if c.Interval < 0 || c.ReplyTimeout < 0 || c.DiscoveryTimeout < 0 || c.DialTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}

	if c.TransferPort < 1 || c.TransferPort > 65535 {
		return fmt.Errorf("%w: transfer port out of range: %d", ErrInvalidConfig, c.TransferPort)
	}

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: listen addr: %v", ErrInvalidConfig, err)
	}

	if _, _, err := net.SplitHostPort(c.BroadcastAddr); err != nil {
		return fmt.Errorf("%w: broadcast addr: %v", ErrInvalidConfig, err)
	}

	if len(c.Responses) == 0 {
		return fmt.Errorf("%w: no accepted responses", ErrInvalidConfig)
	}

	return nil
}
