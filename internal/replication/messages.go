package replication

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/learn-decentralized-systems/toytlv"
)

// Control-plane records are TLV framed. An 'A' record carries a follower
// acknowledgement, a 'C' record announces the committed term.
const (
	litAck    = 'A'
	litCommit = 'C'
)

// ErrBadControlMessage reports an undecodable control-plane record.
var ErrBadControlMessage = errors.New("replication: bad control message")

// Ack is one follower acknowledgement.
type Ack struct {
	Term     int64
	Follower int32
}

// EncodeAck frames an acknowledgement record.
func EncodeAck(ack Ack) []byte {
	var body [12]byte
	binary.BigEndian.PutUint64(body[:8], uint64(ack.Term))
	binary.BigEndian.PutUint32(body[8:], uint32(ack.Follower))
	return toytlv.Record(litAck, body[:])
}

// EncodeCommit frames a commit announcement for term.
func EncodeCommit(term int64) []byte {
	var body [8]byte
	binary.BigEndian.PutUint64(body[:], uint64(term))
	return toytlv.Record(litCommit, body[:])
}

// DecodeAck unframes an 'A' record.
func DecodeAck(data []byte) (Ack, error) {
	body, _, err := toytlv.TakeWary(litAck, data)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrBadControlMessage, err)
	}
	if len(body) != 12 {
		return Ack{}, fmt.Errorf("%w: ack body length %d", ErrBadControlMessage, len(body))
	}
	return Ack{
		Term:     int64(binary.BigEndian.Uint64(body[:8])),
		Follower: int32(binary.BigEndian.Uint32(body[8:])),
	}, nil
}

// DecodeCommit unframes a 'C' record.
func DecodeCommit(data []byte) (int64, error) {
	body, _, err := toytlv.TakeWary(litCommit, data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadControlMessage, err)
	}
	if len(body) != 8 {
		return 0, fmt.Errorf("%w: commit body length %d", ErrBadControlMessage, len(body))
	}
	return int64(binary.BigEndian.Uint64(body)), nil
}

// ControlLit probes the record type of a control-plane payload without
// consuming it. ok is false when the payload is not a complete record.
func ControlLit(data []byte) (byte, bool) {
	lit, hlen, blen := toytlv.ProbeHeader(data)
	if lit == 0 || lit == '-' || hlen+blen > len(data) {
		return 0, false
	}
	return lit, true
}
