package encoder

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/encoder"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// BatchParquet is the Parquet row of one archived batch.
type BatchParquet struct {
	BatchID     string `parquet:"batch_id"`
	QueryID     string `parquet:"query_id,dict"`
	Exchange    int32  `parquet:"exchange"`
	Sender      int32  `parquet:"sender"`
	Slot        int32  `parquet:"slot"`
	Sequence    int64  `parquet:"sequence"`
	RecordCount int32  `parquet:"record_count"`
	LastBatch   bool   `parquet:"last_batch"`
	Body        []byte `parquet:"body"`

	SentAt    *time.Time `parquet:"sent_at,timestamp(microsecond),optional"`
	ArrivedAt time.Time  `parquet:"arrived_at,timestamp(microsecond)"`
	DrainedAt time.Time  `parquet:"drained_at,timestamp(microsecond)"`
}

// ParquetEncoder writes records as a Parquet file. Supported codecs are
// SNAPPY (default), GZIP, LZ4, ZSTD and uncompressed.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{
		compressionName: compression,
	}
}

// compressionCodec converts a compression name to a parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch strings.ToLower(compression) {
	case "gzip":
		return parquet.Compression(&parquet.Gzip)
	case "lz4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "none":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Encode writes records to a Parquet file.
func (e *ParquetEncoder) Encode(filePath string, records []batch.Record) (*batch.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	rows := make([]BatchParquet, len(records))
	for i := range records {
		rows[i] = toParquetRow(&records[i])
	}

	writer := parquet.NewGenericWriter[BatchParquet](
		file,
		parquet.SchemaOf(new(BatchParquet)),
		compressionCodec(e.compressionName),
		parquet.CreatedBy("kafexchange", "1.0", "0"),
	)

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		file.Close()
		return nil, fmt.Errorf("failed to write records: %w", err)
	}

	if err := writer.Close(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to close writer: %w", err)
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

func toParquetRow(record *batch.Record) BatchParquet {
	row := BatchParquet{
		BatchID:     record.BatchID,
		QueryID:     record.QueryID,
		Exchange:    int32(record.Exchange),
		Sender:      int32(record.Sender),
		Slot:        int32(record.Slot),
		Sequence:    record.Sequence,
		RecordCount: int32(record.RecordCount),
		LastBatch:   record.Last,
		Body:        record.Body,
		ArrivedAt:   record.ArrivedAt,
		DrainedAt:   record.DrainedAt,
	}
	if !record.SentAt.IsZero() {
		sentAt := record.SentAt
		row.SentAt = &sentAt
	}
	return row
}

// Format returns the file format.
func (e *ParquetEncoder) Format() batch.FileFormat {
	return batch.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}
