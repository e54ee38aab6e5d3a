// Package storage implements archive writers, the Hive-style path router and
// the segment rotation policy.
//
// Every writer encodes records with the configured encoder and stores one
// file per Write call under the directory it is given. File names are
// batches_<UTC timestamp>_<random>.<ext>, so concurrent writers never
// collide. NewWriter selects the backend from configuration.
package storage
