// Package protocol frames replication records for the wire. Every
// record is a fixed five-byte header followed by the body:
//
//	[kind][bodylen:4][body...]
//
// kind is an uppercase letter and bodylen is big-endian, matching the
// integer fields inside record bodies. Replication traffic is either
// a small control record (close, free, ack) or a bulk payload record
// (open, write), so a single fixed-width header serves both.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const HeaderLen = 1 + 4

// MaxBodyLen caps a single record body. Segments are far smaller.
const MaxBodyLen = 1 << 30

var (
	ErrIncomplete = errors.New("incomplete record")
	ErrBadRecord  = errors.New("bad record framing")
)

func validKind(lit byte) bool {
	return lit >= 'A' && lit <= 'Z'
}

// AppendRecord appends a framed record to buf.
func AppendRecord(buf []byte, lit byte, body ...[]byte) []byte {
	if !validKind(lit) {
		panic("record kind is A..Z")
	}
	total := 0
	for _, b := range body {
		total += len(b)
	}
	if total > MaxBodyLen {
		panic("oversized record")
	}
	buf = append(buf, lit)
	buf = binary.BigEndian.AppendUint32(buf, uint32(total))
	for _, b := range body {
		buf = append(buf, b...)
	}
	return buf
}

// Record frames body chunks as a single record of the given kind.
func Record(lit byte, body ...[]byte) []byte {
	total := 0
	for _, b := range body {
		total += len(b)
	}
	return AppendRecord(make([]byte, 0, HeaderLen+total), lit, body...)
}

func probe(data []byte) (lit byte, bodylen int, err error) {
	if len(data) < HeaderLen {
		return 0, 0, ErrIncomplete
	}
	lit = data[0]
	if !validKind(lit) {
		return 0, 0, ErrBadRecord
	}
	n := binary.BigEndian.Uint32(data[1:HeaderLen])
	if n > MaxBodyLen {
		return 0, 0, ErrBadRecord
	}
	return lit, int(n), nil
}

// TakeAny splits the next record off data: its kind, its body, and
// the remaining bytes. A zero kind means data does not start with one
// complete well-formed record.
func TakeAny(data []byte) (lit byte, body, rest []byte) {
	lit, bodylen, err := probe(data)
	if err != nil || HeaderLen+bodylen > len(data) {
		return 0, nil, nil
	}
	return lit, data[HeaderLen : HeaderLen+bodylen], data[HeaderLen+bodylen:]
}

// Split consumes every complete record in buf. A trailing partial
// record stays in the buffer and reports ErrIncomplete; records
// before it are still returned. A framing error after at least one
// good record is deferred to the next call.
func Split(buf *bytes.Buffer) (recs Records, err error) {
	for buf.Len() > 0 {
		_, bodylen, perr := probe(buf.Bytes())
		if errors.Is(perr, ErrIncomplete) {
			return recs, ErrIncomplete
		}
		if perr != nil {
			if len(recs) > 0 {
				return recs, nil
			}
			return nil, perr
		}
		whole := HeaderLen + bodylen
		if whole > buf.Len() {
			return recs, ErrIncomplete
		}
		recs = append(recs, append([]byte(nil), buf.Next(whole)...))
	}
	return recs, nil
}
