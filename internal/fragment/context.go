package fragment

import (
	"sync"

	"go.uber.org/zap"
)

// Context is the failure channel of one fragment instance. The first
// failure wins; later ones are logged and dropped.
type Context struct {
	QueryID         string
	MajorFragmentID int

	logger *zap.Logger

	mu   sync.Mutex
	err  error
	done chan struct{}
}

// NewContext returns a Context for the given fragment.
func NewContext(queryID string, majorFragmentID int, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		QueryID:         queryID,
		MajorFragmentID: majorFragmentID,
		logger: logger.With(
			zap.String("query_id", queryID),
			zap.Int("major_fragment_id", majorFragmentID),
		),
		done: make(chan struct{}),
	}
}

// Fail records err as the fragment's failure.
func (c *Context) Fail(err error) {
	if err == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		c.logger.Debug("fragment already failed, dropping error", zap.Error(err))
		return
	}
	c.err = err
	close(c.done)
	c.logger.Error("fragment failed", zap.Error(err))
}

// Err returns the first failure, or nil.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Failed reports whether Fail has been called.
func (c *Context) Failed() bool {
	return c.Err() != nil
}

// Done is closed on the first failure.
func (c *Context) Done() <-chan struct{} {
	return c.done
}
