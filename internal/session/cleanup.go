package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Cleaner periodically purges expired sessions from a Store.
type Cleaner interface {
	Start(ctx context.Context)
	Shutdown()
	RunOnce(ctx context.Context) (int64, error)
}

type CleanerConfig struct {
	Interval time.Duration
	Logger   logrus.FieldLogger
}

type cleaner struct {
	cfg   CleanerConfig
	store Store
	now   func() time.Time

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewCleaner(cfg CleanerConfig, store Store) Cleaner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &cleaner{cfg: cfg, store: store, now: time.Now}
}

// Start launches the cleanup loop; it stops when ctx is cancelled or
// Shutdown is called.
func (c *cleaner) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(ctx)
	}()
	c.cfg.Logger.WithField("interval", c.cfg.Interval.String()).Info("session cleanup started")
}

func (c *cleaner) Shutdown() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *cleaner) RunOnce(ctx context.Context) (int64, error) {
	return c.store.DeleteExpired(ctx, c.now())
}

func (c *cleaner) loop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.cfg.Logger.Info("session cleanup stopped")
			return
		case <-ticker.C:
			n, err := c.RunOnce(ctx)
			if err != nil {
				c.cfg.Logger.WithError(err).Warn("delete expired sessions")
				continue
			}
			if n > 0 {
				c.cfg.Logger.WithField("deleted", n).Info("expired sessions removed")
			}
		}
	}
}
