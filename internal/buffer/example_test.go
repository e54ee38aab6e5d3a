package buffer_test

import (
	"fmt"
	"time"

	"github.com/jittakal/kafexchange/internal/buffer"
	"github.com/jittakal/kafexchange/pkg/batch"
)

func Example_segmentBuffer() {
	id := batch.SlotID{Exchange: 2, Slot: 0}
	buf := buffer.New(id, 1024*1024, 1000)

	now := time.Now()
	for i := 0; i < 5; i++ {
		record := batch.Record{
			BatchID:     fmt.Sprintf("batch-%d", i),
			QueryID:     "query-1",
			Exchange:    2,
			Sender:      i % 2,
			Sequence:    int64(i),
			RecordCount: 10,
			Body:        []byte(fmt.Sprintf(`{"rows": %d}`, i)),
			SentAt:      now,
		}
		if err := buf.Add(record); err != nil {
			fmt.Println("Error adding record:", err)
			return
		}
	}

	fmt.Printf("Records buffered: %d\n", buf.Stats().RecordCount)
	records := buf.Drain()
	fmt.Printf("Drained %d records\n", len(records))
	fmt.Printf("Buffer is empty after drain: %v\n", buf.IsEmpty())

	// Output:
	// Records buffered: 5
	// Drained 5 records
	// Buffer is empty after drain: true
}

func Example_bufferManager() {
	manager := buffer.NewManager(1024*1024, 1000)

	buf0 := manager.GetOrCreate(batch.SlotID{Exchange: 1, Slot: 0})
	buf1 := manager.GetOrCreate(batch.SlotID{Exchange: 1, Slot: 1})
	fmt.Printf("Slot 0 and slot 1 are different: %v\n", buf0 != buf1)

	again := manager.GetOrCreate(batch.SlotID{Exchange: 1, Slot: 0})
	fmt.Printf("Same slot returns same buffer: %v\n", buf0 == again)
	fmt.Println(manager.Slots())

	// Output:
	// Slot 0 and slot 1 are different: true
	// Same slot returns same buffer: true
	// [exchange-1-slot-0 exchange-1-slot-1]
}
