// Package buffer provides segment buffers for drained slot records.
//
// A SegmentBuffer holds the records of one slot between archive flushes. It
// enforces a record count limit and a size limit; Add returns
// errors.ErrBufferFull once either is reached and the drainer flushes:
//
//	buf := manager.GetOrCreate(batch.SlotID{Exchange: 1, Slot: 0})
//	if err := buf.Add(record); errors.Is(err, apperrors.ErrBufferFull) {
//	    flush(buf.Drain())
//	    _ = buf.Add(record)
//	}
//
// Manager keys buffers by SlotID and creates them on first use. Every
// operation is safe for concurrent use.
package buffer
