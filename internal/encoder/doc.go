// Package encoder writes archived exchange batches to analytics file formats.
//
// Two formats are supported:
//
//   - Parquet: columnar, one row per batch, SNAPPY by default
//   - Avro: object container file with the schema embedded, GZIP by default
//
// Use Factory when the format comes from configuration:
//
//	enc, err := encoder.NewFactory(batch.FormatParquet, "snappy").CreateEncoder()
//	if err != nil {
//	    return err
//	}
//	stats, err := enc.Encode(path, records)
//
// The batch body is stored as opaque bytes. Send time is nullable; arrival
// and drain times are always set.
//
// Encoder instances are safe for concurrent use.
package encoder
