package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/storage"
)

// Ensure implementations satisfy interfaces.
var (
	_ storage.Router         = (*DefaultRouter)(nil)
	_ storage.RotationPolicy = (*CompositePolicy)(nil)
)

// DefaultRouter implements Hive-style partitioning for archive paths.
type DefaultRouter struct {
	protocol string
	bucket   string
	basePath string
}

// NewRouter creates a new storage router.
func NewRouter(protocol, bucket, basePath string) *DefaultRouter {
	return &DefaultRouter{
		protocol: protocol,
		bucket:   bucket,
		basePath: strings.Trim(basePath, "/"),
	}
}

// Route returns protocol://bucket/basePath/exchange=<id>/dt=YYYY-MM-DD/slot=<n>/.
// The date comes from the event time in UTC.
func (r *DefaultRouter) Route(id batch.SlotID, eventTime time.Time) string {
	date := eventTime.UTC().Format("2006-01-02")

	prefix := fmt.Sprintf("%s://%s/", r.protocol, r.bucket)
	if r.basePath != "" {
		prefix += r.basePath + "/"
	}

	return fmt.Sprintf("%sexchange=%d/dt=%s/slot=%d/", prefix, id.Exchange, date, id.Slot)
}

// PolicyConfig configures rotation behavior.
type PolicyConfig struct {
	MaxFileSizeMB      int64
	MaxRecordsPerFile  int
	MaxDurationSeconds int
}

// CompositePolicy rotates when any configured limit is reached. A zero limit
// is ignored.
type CompositePolicy struct {
	maxSizeBytes int64
	maxRecords   int
	maxDuration  time.Duration
	now          func() time.Time
}

// NewPolicy creates a new composite rotation policy.
func NewPolicy(config PolicyConfig) *CompositePolicy {
	return &CompositePolicy{
		maxSizeBytes: config.MaxFileSizeMB * 1024 * 1024,
		maxRecords:   config.MaxRecordsPerFile,
		maxDuration:  time.Duration(config.MaxDurationSeconds) * time.Second,
		now:          time.Now,
	}
}

// MaxDuration returns the age limit, or zero.
func (p *CompositePolicy) MaxDuration() time.Duration {
	return p.maxDuration
}

// ShouldRotate returns true if any rotation condition is met.
func (p *CompositePolicy) ShouldRotate(stats batch.FileStats) bool {
	if stats.RecordCount == 0 {
		return false
	}

	if p.maxSizeBytes > 0 && stats.SizeBytes >= p.maxSizeBytes {
		return true
	}

	if p.maxRecords > 0 && stats.RecordCount >= p.maxRecords {
		return true
	}

	if p.maxDuration > 0 && !stats.FirstWriteTime.IsZero() {
		if p.now().Sub(stats.FirstWriteTime) >= p.maxDuration {
			return true
		}
	}

	return false
}
