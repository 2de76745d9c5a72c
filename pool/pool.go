// Package pool keeps a bounded set of bus links. Links are created lazily,
// health checked on every checkout and shut down only by the pool.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"unitbus/link"
	"unitbus/logging"
)

const DefaultCapacity = 16

// Factory opens one new link.
type Factory func(ctx context.Context) (*link.Link, error)

type Config struct {
	Capacity           int
	HealthCheckTimeout time.Duration
	// DialRate caps link creation per second; zero means no limit.
	DialRate  rate.Limit
	DialBurst int
}

type Option func(*Pool)

func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pool) {
		if log != nil {
			p.log = log
		}
	}
}

// WithRegisterer exports the pool metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) { p.reg = reg }
}

// Stats is a snapshot of the pool.
type Stats struct {
	Capacity int
	Open     int
	Idle     int
	InUse    int
	Created  uint64
	Evicted  uint64
}

type Pool struct {
	factory Factory
	cfg     Config
	log     logrus.FieldLogger
	reg     prometheus.Registerer
	metrics *metrics
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu      sync.Mutex
	idle    []*link.Link
	links   map[*link.Link]struct{}
	closed  bool
	created uint64
	evicted uint64
}

func New(factory Factory, cfg Config, opts ...Option) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = link.DefaultPingTimeout
	}
	if cfg.DialBurst <= 0 {
		cfg.DialBurst = 1
	}
	p := &Pool{
		factory: factory,
		cfg:     cfg,
		log:     logging.Discard(),
		sem:     semaphore.NewWeighted(int64(cfg.Capacity)),
		links:   make(map[*link.Link]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("component", "pool")
	p.metrics = newMetrics(p.reg)
	if cfg.DialRate > 0 {
		p.limiter = rate.NewLimiter(cfg.DialRate, cfg.DialBurst)
	}
	return p
}

// Acquire leases a healthy link. It waits in FIFO order while all links are
// leased. A ctx that is already done is returned as is. The lease must be
// released on every path.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, &ExhaustedError{Capacity: p.cfg.Capacity, Waited: time.Since(start), Err: err}
	}
	p.metrics.acquireWait.Observe(time.Since(start).Seconds())

	l, err := p.checkout(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.observe()
	return &Lease{pool: p, link: l}, nil
}

// checkout pops the most recently used idle link and health checks it. A
// link that fails the check is replaced once; the replacement is not checked
// again.
func (p *Pool) checkout(ctx context.Context) (*link.Link, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	var l *link.Link
	if n := len(p.idle); n > 0 {
		l = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if l == nil {
		return p.create(ctx)
	}
	if !l.TryLease() {
		p.evict(l, "broken")
		return p.create(ctx)
	}
	if err := l.Ping(ctx, p.cfg.HealthCheckTimeout); err != nil {
		if ctx.Err() != nil {
			p.putBack(l)
			return nil, err
		}
		p.log.WithError(err).WithField("link", l.ID()).Warn("health check failed, replacing link")
		p.evict(l, "unhealthy")
		return p.create(ctx)
	}
	return l, nil
}

func (p *Pool) create(ctx context.Context) (*link.Link, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &CreateError{Err: err}
		}
	}
	l, err := p.factory(ctx)
	if err != nil {
		p.log.WithError(err).Warn("link creation failed")
		return nil, &CreateError{Err: err}
	}
	if !l.TryLease() {
		_ = l.Shutdown()
		return nil, &CreateError{Err: errors.New("new link is not idle")}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = l.Shutdown()
		return nil, ErrClosed
	}
	p.links[l] = struct{}{}
	p.created++
	p.mu.Unlock()

	p.metrics.created.Inc()
	p.log.WithField("link", l.ID()).Debug("link created")
	return l, nil
}

// release returns l to the idle set before freeing its permit, so the next
// acquirer finds it there.
func (p *Pool) release(l *link.Link) {
	defer p.sem.Release(1)
	defer p.observe()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.evict(l, "closed")
		return
	}
	if !l.MarkIdle() {
		p.mu.Unlock()
		p.log.WithField("link", l.ID()).Info("discarding broken link")
		p.evict(l, "broken")
		return
	}
	p.idle = append(p.idle, l)
	p.mu.Unlock()
}

func (p *Pool) putBack(l *link.Link) {
	p.mu.Lock()
	if !p.closed && l.MarkIdle() {
		p.idle = append(p.idle, l)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.evict(l, "broken")
}

func (p *Pool) evict(l *link.Link, reason string) {
	p.mu.Lock()
	_, owned := p.links[l]
	delete(p.links, l)
	if owned {
		p.evicted++
	}
	p.mu.Unlock()

	if owned {
		p.metrics.evicted.WithLabelValues(reason).Inc()
	}
	if err := l.Shutdown(); err != nil {
		p.log.WithError(err).WithField("link", l.ID()).Debug("link shutdown")
	}
}

// Close shuts down every link, leased or idle. Leases released afterwards
// only return their permit.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	links := make([]*link.Link, 0, len(p.links))
	for l := range p.links {
		links = append(links, l)
	}
	p.links = make(map[*link.Link]struct{})
	p.idle = nil
	p.mu.Unlock()

	var err error
	for _, l := range links {
		err = multierr.Append(err, l.Shutdown())
	}
	p.observe()
	p.log.WithField("links", len(links)).Info("pool closed")
	return err
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity: p.cfg.Capacity,
		Open:     len(p.links),
		Idle:     len(p.idle),
		InUse:    len(p.links) - len(p.idle),
		Created:  p.created,
		Evicted:  p.evicted,
	}
}

func (p *Pool) observe() {
	s := p.Stats()
	p.metrics.links.WithLabelValues("idle").Set(float64(s.Idle))
	p.metrics.links.WithLabelValues("in_use").Set(float64(s.InUse))
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
