package encoder

import (
	"fmt"
	"strings"

	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/encoder"
)

// Factory creates encoders based on format and configuration.
type Factory struct {
	format      batch.FileFormat
	compression string
}

// NewFactory creates a new encoder factory.
func NewFactory(format batch.FileFormat, compression string) *Factory {
	return &Factory{
		format:      format,
		compression: compression,
	}
}

// CreateEncoder creates an encoder based on the configured format.
func (f *Factory) CreateEncoder() (encoder.Encoder, error) {
	switch f.format {
	case batch.FormatParquet:
		return NewParquetEncoder(f.compression), nil
	case batch.FormatAvro:
		return NewAvroEncoder(f.compression)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
}

// SupportedFormats returns a list of supported file formats.
func SupportedFormats() []batch.FileFormat {
	return []batch.FileFormat{
		batch.FormatParquet,
		batch.FormatAvro,
	}
}

// SupportedCompressions returns supported compression codecs for a given format.
func SupportedCompressions(format batch.FileFormat) []string {
	switch format {
	case batch.FormatParquet:
		return []string{"uncompressed", "snappy", "gzip", "lz4", "zstd"}
	case batch.FormatAvro:
		return []string{"uncompressed", "gzip"}
	default:
		return []string{}
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format batch.FileFormat) string {
	switch format {
	case batch.FormatParquet:
		return "snappy"
	case batch.FormatAvro:
		return "gzip"
	default:
		return "uncompressed"
	}
}

func isGzip(compression string) bool {
	return strings.EqualFold(compression, "gzip")
}
