package protocol

// Records is a batch of framed records. Batches travel through queues
// and sockets as [][]byte so they convert straight to net.Buffers for
// vectored writes.
type Records [][]byte

// TotalLen is the byte size of the whole batch.
func (recs Records) TotalLen() (total int) {
	for _, r := range recs {
		total += len(r)
	}
	return
}
