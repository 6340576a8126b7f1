package backup

import (
	"log/slog"
	"testing"

	"github.com/ramlog/ramlog/ramlog_errors"
	"github.com/ramlog/ramlog/utils"
	"github.com/stretchr/testify/assert"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir(), utils.NewDefaultLogger(slog.LevelError))
	assert.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreOpenWriteClose(t *testing.T) {
	s := testStore(t)

	durable, err := s.Open(7, 42, 3, []byte("abc"))
	assert.NoError(t, err)
	assert.Equal(t, uint32(3), durable)

	durable, err = s.Write(7, 42, 3, []byte("defg"))
	assert.NoError(t, err)
	assert.Equal(t, uint32(7), durable)

	bytes, found, err := s.ReplicaBytes(7, 42)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("abcdefg"), bytes)

	durable, err = s.CloseSegment(7, 42)
	assert.NoError(t, err)
	assert.Equal(t, uint32(7), durable)
}

func TestStoreRejectsWriteBeforeOpen(t *testing.T) {
	s := testStore(t)
	_, err := s.Write(7, 42, 0, []byte("x"))
	assert.ErrorIs(t, err, ramlog_errors.ErrSegmentNotOpen)
}

func TestStoreRejectsNonMonotonicOffset(t *testing.T) {
	s := testStore(t)
	_, err := s.Open(7, 42, 3, []byte("abc"))
	assert.NoError(t, err)

	_, err = s.Write(7, 42, 2, []byte("x"))
	assert.ErrorIs(t, err, ramlog_errors.ErrStaleOffset)
	_, err = s.Write(7, 42, 5, []byte("x"))
	assert.ErrorIs(t, err, ramlog_errors.ErrStaleOffset)
}

func TestStoreRejectsWriteAfterClose(t *testing.T) {
	s := testStore(t)
	_, err := s.Open(7, 42, 3, []byte("abc"))
	assert.NoError(t, err)
	_, err = s.CloseSegment(7, 42)
	assert.NoError(t, err)

	_, err = s.Write(7, 42, 3, []byte("x"))
	assert.ErrorIs(t, err, ramlog_errors.ErrSegmentClosed)
}

func TestStoreFreeIsIdempotent(t *testing.T) {
	s := testStore(t)
	_, err := s.Open(7, 42, 3, []byte("abc"))
	assert.NoError(t, err)

	assert.NoError(t, s.Free(7, 42))
	_, found, err := s.ReplicaBytes(7, 42)
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, s.Free(7, 42))
	assert.NoError(t, s.Free(7, 99))
}

func TestStoreRejectsReopen(t *testing.T) {
	s := testStore(t)
	_, err := s.Open(7, 42, 3, []byte("abc"))
	assert.NoError(t, err)
	_, err = s.Open(7, 42, 3, []byte("abc"))
	assert.Error(t, err)
}

func TestHandleRequestReplies(t *testing.T) {
	s := testStore(t)

	reply := s.HandleRequest(Request{Lit: LitOpen, Nonce: 5, MasterId: 7, SegmentId: 42, Offset: 3, Payload: []byte("abc")})
	call := &Call{}
	completeFromReply(call, reply)
	assert.True(t, call.Done())
	assert.NoError(t, call.Err())
	assert.Equal(t, uint32(3), call.Durable())

	reply = s.HandleRequest(Request{Lit: LitWrite, Nonce: 6, MasterId: 7, SegmentId: 42, Offset: 9, Payload: []byte("x")})
	call = &Call{}
	completeFromReply(call, reply)
	assert.True(t, call.Done())
	assert.Error(t, call.Err())
	assert.True(t, call.Permanent())
}
