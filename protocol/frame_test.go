package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := Record('W', []byte{1, 2}, []byte{3})
	assert.Equal(t, []byte{'W', 0, 0, 0, 3, 1, 2, 3}, rec)

	lit, body, rest := TakeAny(rec)
	assert.Equal(t, byte('W'), lit)
	assert.Equal(t, []byte{1, 2, 3}, body)
	assert.Empty(t, rest)
}

func TestTakeAnyRejectsPartialAndGarbage(t *testing.T) {
	rec := Record('A', []byte("payload"))
	lit, body, _ := TakeAny(rec[:len(rec)-1])
	assert.Equal(t, byte(0), lit)
	assert.Nil(t, body)

	lit, _, _ = TakeAny([]byte{'a', 0, 0, 0, 0})
	assert.Equal(t, byte(0), lit)
}

func TestSplitConsumesCompleteRecords(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Record('O', []byte("first")))
	buf.Write(Record('C', nil))
	tail := Record('W', []byte("second"))
	buf.Write(tail[:4])

	recs, err := Split(&buf)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Len(t, recs, 2)
	assert.Equal(t, byte('O'), recs[0][0])
	assert.Equal(t, byte('C'), recs[1][0])
	assert.Equal(t, 4, buf.Len())

	buf.Write(tail[4:])
	recs, err = Split(&buf)
	assert.NoError(t, err)
	assert.Len(t, recs, 1)
	_, body, _ := TakeAny(recs[0])
	assert.Equal(t, "second", string(body))
	assert.Zero(t, buf.Len())
}

func TestSplitRejectsGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("not a record")
	_, err := Split(&buf)
	assert.ErrorIs(t, err, ErrBadRecord)
}
