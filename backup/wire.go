// Package backup implements the replication RPC surface: the wire
// codec, pollable call handles, the backup selector, and the
// pebble-backed store the RPCs land on.
package backup

import (
	"encoding/binary"

	"github.com/ramlog/ramlog/cluster"
	"github.com/ramlog/ramlog/protocol"
	"github.com/ramlog/ramlog/ramlog_errors"
)

// Replication RPCs travel as framed records, one RPC per record.
// Integer fields inside the bodies are fixed-width big-endian.
//
//	'O' open:  nonce, masterId, segmentId, openLen, payload
//	'W' write: nonce, masterId, segmentId, offset, payload
//	'C' close: nonce, masterId, segmentId
//	'F' free:  nonce, masterId, segmentId
//	'A' ack:   nonce, durable
//	'E' error: nonce, permanent flag, message
const (
	LitOpen  byte = 'O'
	LitWrite byte = 'W'
	LitClose byte = 'C'
	LitFree  byte = 'F'
	LitAck   byte = 'A'
	LitError byte = 'E'
)

// Request is the decoded form of an 'O'/'W'/'C'/'F' record.
type Request struct {
	Lit       byte
	Nonce     uint64
	MasterId  cluster.ServerId
	SegmentId uint64
	Offset    uint32 // openLen for 'O', write offset for 'W'
	Payload   []byte
}

// Ack is the decoded form of an 'A' record.
type Ack struct {
	Nonce   uint64
	Durable uint32
}

// Fault is the decoded form of an 'E' record.
type Fault struct {
	Nonce     uint64
	Permanent bool
	Message   string
}

const requestHeadLen = 8 + 8 + 8 + 4

// EncodeRequest frames a request as a wire record.
func EncodeRequest(r Request) []byte {
	body := make([]byte, requestHeadLen, requestHeadLen+len(r.Payload))
	binary.BigEndian.PutUint64(body[0:8], r.Nonce)
	binary.BigEndian.PutUint64(body[8:16], uint64(r.MasterId))
	binary.BigEndian.PutUint64(body[16:24], r.SegmentId)
	binary.BigEndian.PutUint32(body[24:28], r.Offset)
	body = append(body, r.Payload...)
	return protocol.Record(r.Lit, body)
}

// DecodeRequest parses the body of an 'O'/'W'/'C'/'F' record.
func DecodeRequest(lit byte, body []byte) (Request, error) {
	if len(body) < requestHeadLen {
		return Request{}, ramlog_errors.ErrBadPacket
	}
	r := Request{
		Lit:       lit,
		Nonce:     binary.BigEndian.Uint64(body[0:8]),
		MasterId:  cluster.ServerId(binary.BigEndian.Uint64(body[8:16])),
		SegmentId: binary.BigEndian.Uint64(body[16:24]),
		Offset:    binary.BigEndian.Uint32(body[24:28]),
	}
	if rest := body[requestHeadLen:]; len(rest) > 0 {
		r.Payload = append([]byte{}, rest...)
	}
	switch lit {
	case LitOpen, LitWrite, LitClose, LitFree:
		return r, nil
	default:
		return Request{}, ramlog_errors.ErrBadPacket
	}
}

// EncodeAck frames an ack as an 'A' record.
func EncodeAck(a Ack) []byte {
	var body [12]byte
	binary.BigEndian.PutUint64(body[0:8], a.Nonce)
	binary.BigEndian.PutUint32(body[8:12], a.Durable)
	return protocol.Record(LitAck, body[:])
}

func DecodeAck(body []byte) (Ack, error) {
	if len(body) != 12 {
		return Ack{}, ramlog_errors.ErrBadPacket
	}
	return Ack{
		Nonce:   binary.BigEndian.Uint64(body[0:8]),
		Durable: binary.BigEndian.Uint32(body[8:12]),
	}, nil
}

// EncodeFault frames an error reply as an 'E' record.
func EncodeFault(f Fault) []byte {
	body := make([]byte, 9, 9+len(f.Message))
	binary.BigEndian.PutUint64(body[0:8], f.Nonce)
	if f.Permanent {
		body[8] = 1
	}
	body = append(body, f.Message...)
	return protocol.Record(LitError, body)
}

func DecodeFault(body []byte) (Fault, error) {
	if len(body) < 9 {
		return Fault{}, ramlog_errors.ErrBadPacket
	}
	return Fault{
		Nonce:     binary.BigEndian.Uint64(body[0:8]),
		Permanent: body[8] != 0,
		Message:   string(body[9:]),
	}, nil
}
