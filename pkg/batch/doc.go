// Package batch defines the data model shared by the exchange receiver.
//
// # Batches
//
// A RawBatch is delivered by the transport together with the Connection it
// arrived on:
//
//	b := &batch.RawBatch{
//	    ID: "5b0c...",
//	    Header: batch.Header{
//	        OppositeMajorFragmentID: 2,
//	        SenderPosition:          1,
//	        Sequence:                7,
//	    },
//	    Body:       payload,
//	    Connection: conn,
//	}
//
// Two header flags drive the receiver: OutOfMemory (the sender is shedding
// load; the batch is broadcast to every slot) and LastBatch (the sender's
// stream is complete).
//
// # Receivers
//
// A Receiver lists the senders of one exchange in a fixed order. The index of
// an endpoint in ProvidingEndpoints is that sender's position for the
// lifetime of the fragment.
//
// # Records
//
// Record is the archived form of a drained batch; FileStats and FileFormat
// describe the archive files they are written to.
package batch
