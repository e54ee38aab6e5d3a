package encoder

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/encoder"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder writes records as an Avro object container file, optionally
// gzip-compressed.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		compression: compression,
	}, nil
}

const avroSchema = `{
	"type": "record",
	"name": "ExchangeBatch",
	"namespace": "io.kafexchange.archive",
	"fields": [
		{"name": "batch_id", "type": "string"},
		{"name": "query_id", "type": "string"},
		{"name": "exchange", "type": "int"},
		{"name": "sender", "type": "int"},
		{"name": "slot", "type": "int"},
		{"name": "sequence", "type": "long"},
		{"name": "record_count", "type": "int"},
		{"name": "last_batch", "type": "boolean"},
		{"name": "body", "type": "bytes"},
		{"name": "sent_at", "type": ["null", "string"], "default": null},
		{"name": "arrived_at", "type": "string"},
		{"name": "drained_at", "type": "string"}
	]
}`

// Encode writes records to an Avro file.
func (e *AvroEncoder) Encode(filePath string, records []batch.Record) (*batch.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := e.write(file, records); err != nil {
		return nil, err
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return fileStats(records, fileInfo.Size()), nil
}

// EncodeToBytes encodes records in memory.
func (e *AvroEncoder) EncodeToBytes(records []batch.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	var buf bytes.Buffer
	if err := e.write(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *AvroEncoder) write(w io.Writer, records []batch.Record) error {
	var gzipWriter *gzip.Writer
	if isGzip(e.compression) {
		gzipWriter = gzip.NewWriter(w)
		w = gzipWriter
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     w,
		Codec: e.codec,
	})
	if err != nil {
		return fmt.Errorf("failed to create OCF writer: %w", err)
	}

	for i := range records {
		if err := ocfWriter.Append([]interface{}{toAvroMap(&records[i])}); err != nil {
			return fmt.Errorf("failed to write record %s: %w", records[i].BatchID, err)
		}
	}

	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	return nil
}

func toAvroMap(record *batch.Record) map[string]interface{} {
	body := record.Body
	if body == nil {
		body = []byte{}
	}

	m := map[string]interface{}{
		"batch_id":     record.BatchID,
		"query_id":     record.QueryID,
		"exchange":     int32(record.Exchange),
		"sender":       int32(record.Sender),
		"slot":         int32(record.Slot),
		"sequence":     record.Sequence,
		"record_count": int32(record.RecordCount),
		"last_batch":   record.Last,
		"body":         body,
		"arrived_at":   record.ArrivedAt.Format(time.RFC3339Nano),
		"drained_at":   record.DrainedAt.Format(time.RFC3339Nano),
		"sent_at":      nil,
	}
	if !record.SentAt.IsZero() {
		m["sent_at"] = goavro.Union("string", record.SentAt.Format(time.RFC3339Nano))
	}
	return m
}

// Format returns the file format.
func (e *AvroEncoder) Format() batch.FileFormat {
	return batch.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if isGzip(e.compression) {
		return ".avro.gz"
	}
	return ".avro"
}

func fileStats(records []batch.Record, size int64) *batch.FileStats {
	first, last := records[0].EventTime(), records[0].EventTime()
	for i := range records[1:] {
		t := records[i+1].EventTime()
		if t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	return &batch.FileStats{
		RecordCount:    len(records),
		SizeBytes:      size,
		FirstWriteTime: first,
		LastWriteTime:  last,
	}
}
