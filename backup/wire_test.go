package backup

import (
	"testing"

	"github.com/ramlog/ramlog/protocol"
	"github.com/stretchr/testify/assert"
)

func TestRequestRoundTrip(t *testing.T) {
	reqs := []Request{
		{Lit: LitOpen, Nonce: 1, MasterId: 7, SegmentId: 42, Offset: 128, Payload: []byte("abc")},
		{Lit: LitWrite, Nonce: 2, MasterId: 7, SegmentId: 42, Offset: 128, Payload: []byte("defg")},
		{Lit: LitClose, Nonce: 3, MasterId: 7, SegmentId: 42},
		{Lit: LitFree, Nonce: 4, MasterId: 7, SegmentId: 42},
	}
	for _, want := range reqs {
		rec := EncodeRequest(want)
		lit, body, rest := protocol.TakeAny(rec)
		assert.Empty(t, rest)
		assert.Equal(t, want.Lit, lit)
		got, err := DecodeRequest(lit, body)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAckRoundTrip(t *testing.T) {
	rec := EncodeAck(Ack{Nonce: 9, Durable: 256})
	lit, body, _ := protocol.TakeAny(rec)
	assert.Equal(t, LitAck, lit)
	ack, err := DecodeAck(body)
	assert.NoError(t, err)
	assert.Equal(t, uint64(9), ack.Nonce)
	assert.Equal(t, uint32(256), ack.Durable)
}

func TestFaultRoundTrip(t *testing.T) {
	rec := EncodeFault(Fault{Nonce: 11, Permanent: true, Message: "stale offset"})
	lit, body, _ := protocol.TakeAny(rec)
	assert.Equal(t, LitError, lit)
	fault, err := DecodeFault(body)
	assert.NoError(t, err)
	assert.Equal(t, uint64(11), fault.Nonce)
	assert.True(t, fault.Permanent)
	assert.Equal(t, "stale offset", fault.Message)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeRequest(LitOpen, []byte("short"))
	assert.Error(t, err)
	_, err = DecodeRequest('Z', make([]byte, requestHeadLen))
	assert.Error(t, err)
	_, err = DecodeAck([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = DecodeFault([]byte{1})
	assert.Error(t, err)
}
