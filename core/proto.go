package core

import "time"

const (
	AppTitle = "GBA Net Send v0.0.1 Beta"
	AppName  = "gbasend"
	VERSION  = "0.0.1"

	Port          = 31313
	Retries       = 10
	BroadcastHost = "255.255.255.255"

	// RecvBufferSize bounds a single discovery datagram.
	RecvBufferSize = 0x1000
	ChunkSize      = 4096

	Interval = 100 * time.Millisecond
)

// Token is a fixed ASCII payload exchanged during discovery.
type Token string

const (
	InitRequest  Token = "gba_net_boot_init_beta_0001"
	InitResponse Token = "gba_net_boot_ack_beta_0001"
)

// AcceptedResponses lists every acknowledgment a loader may answer with.
var AcceptedResponses = []Token{InitResponse}

func (t Token) Bytes() []byte {
	return []byte(t)
}

// Matches reports whether payload is exactly one of tokens.
func Matches(payload string, tokens []Token) bool {
	for _, t := range tokens {
		if payload == string(t) {
			return true
		}
	}
	return false
}
