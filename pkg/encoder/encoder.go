// Package encoder defines interfaces for encoding archived records to file formats.
package encoder

import "github.com/jittakal/kafexchange/pkg/batch"

// Encoder encodes records to a specific file format.
type Encoder interface {
	// Encode writes records to a file and returns file statistics.
	Encode(filePath string, records []batch.Record) (*batch.FileStats, error)

	// Format returns the file format this encoder produces.
	Format() batch.FileFormat

	// FileExtension returns the file extension (e.g., ".parquet", ".avro").
	FileExtension() string
}
