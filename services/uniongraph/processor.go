package uniongraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/allisson/go-pglock/v3"
	"github.com/lib/pq"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/repo"
)

const (
	noResourcesMessage    = "No resources found or failed to build union graph"
	processingErrorPrefix = "Error processing order: "

	ttlSweepName       = "union-graph-ttl-sweep"
	staleLockSweepName = "union-graph-stale-lock-sweep"
)

// Resources is the resource storage read while building union graphs
type Resources interface {
	Count(ctx context.Context, q repo.PageQuery) (int64, error)
	Page(ctx context.Context, q repo.PageQuery, offset, limit int) ([]model.Resource, error)
	FindByURIs(ctx context.Context, uris []string, resourceType model.ResourceType) ([]model.Resource, error)
}

// Processor builds pending orders, rebuilds orders whose ttl expired and recovers orders
// left behind by dead instances.
type Processor struct {
	db         *sql.DB
	orders     Orders
	resources  Resources
	notifier   Notifier
	instanceID string

	log     logger.Logger
	metrics *metrics
	pool    *pool
	now     func() time.Time

	config struct {
		pollInterval           config.ValueLoader[time.Duration]
		ttlCheckInterval       config.ValueLoader[time.Duration]
		staleLockCheckInterval config.ValueLoader[time.Duration]
		lockTimeout            time.Duration
		maxOrdersPerCycle      int
		batchSize              int
		progressEveryBatches   int
	}
}

// NewProcessor creates a processor claiming orders as instanceID. db is used for the
// advisory locks that keep the ttl and stale lock sweeps on a single instance.
func NewProcessor(
	conf *config.Config,
	log logger.Logger,
	statsFactory stats.Stats,
	db *sql.DB,
	orders Orders,
	resources Resources,
	notifier Notifier,
	instanceID string,
) *Processor {
	p := &Processor{
		db:         db,
		orders:     orders,
		resources:  resources,
		notifier:   notifier,
		instanceID: instanceID,
		log:        log.Child("union-graph-processor").Withn(logger.NewStringField("instanceId", instanceID)),
		now:        time.Now,
	}
	p.config.pollInterval = conf.GetReloadableDurationVar(5, time.Second, "UnionGraph.pollInterval")
	p.config.ttlCheckInterval = conf.GetReloadableDurationVar(1, time.Hour, "UnionGraph.ttlCheckInterval")
	p.config.staleLockCheckInterval = conf.GetReloadableDurationVar(10, time.Minute, "UnionGraph.staleLockCheckInterval")
	p.config.lockTimeout = conf.GetDuration("UnionGraph.lockTimeout", 60, time.Minute)
	p.config.batchSize = conf.GetInt("UnionGraph.resourceBatchSize", 100)
	p.config.progressEveryBatches = conf.GetInt("UnionGraph.progressEveryBatches", 5)

	maxPoolSize := conf.GetInt("UnionGraph.maxPoolSize", 2)
	p.config.maxOrdersPerCycle = maxPoolSize
	p.pool = newPool(
		conf.GetInt("UnionGraph.corePoolSize", 1),
		maxPoolSize,
		conf.GetInt("UnionGraph.queueCapacity", 5),
	)
	p.metrics = newMetrics(statsFactory, conf.GetInt("UnionGraph.maxTrackedBuilds", 100))
	return p
}

// Run starts the poll loop and both sweeps. It blocks until ctx is cancelled and every
// accepted build has finished.
func (p *Processor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.every(ctx, p.config.pollInterval, p.processPending)
		return nil
	})
	g.Go(func() error {
		return p.exclusively(ctx, ttlSweepName, p.config.ttlCheckInterval, p.ResetExpired)
	})
	g.Go(func() error {
		return p.exclusively(ctx, staleLockSweepName, p.config.staleLockCheckInterval, p.ReleaseStaleLocks)
	})
	err := g.Wait()
	p.pool.Shutdown()
	return err
}

// InFlight reports the progress of the builds running on this instance
func (p *Processor) InFlight() map[string]Progress {
	return p.metrics.snapshot()
}

func (p *Processor) every(ctx context.Context, interval config.ValueLoader[time.Duration], fn func(context.Context)) {
	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval.Load()):
		}
	}
}

// exclusively runs fn on every tick while holding the postgres advisory lock of name.
// Ticks on which another instance holds the lock are skipped.
func (p *Processor) exclusively(ctx context.Context, name string, interval config.ValueLoader[time.Duration], fn func(context.Context)) error {
	lock, err := pglock.NewLock(ctx, int64(murmur3.Sum64([]byte(name))), p.db)
	if err != nil {
		if benign(err) {
			return nil
		}
		return fmt.Errorf("creating %s lock: %w", name, err)
	}
	defer func() { _ = lock.Close() }()

	log := p.log.Withn(logger.NewStringField("sweep", name))
	p.every(ctx, interval, func(ctx context.Context) {
		locked, err := lock.Lock(ctx)
		if err != nil {
			if !benign(err) {
				log.Warnn("Acquiring sweep lock", obskit.Error(err))
			}
			return
		}
		if !locked {
			log.Debugn("Sweep is running on another instance")
			return
		}
		defer func() {
			if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warnn("Releasing sweep lock", obskit.Error(err))
			}
		}()
		fn(ctx)
	})
	return nil
}

func (p *Processor) processPending(ctx context.Context) {
	if err := p.metrics.refreshStatusGauges(ctx, p.orders); err != nil && !benign(err) {
		p.log.Warnn("Counting union graph orders", obskit.Error(err))
	}

	orders, err := p.orders.FindPendingForProcessing(ctx, p.config.maxOrdersPerCycle, p.config.lockTimeout)
	if err != nil {
		if !benign(err) {
			p.log.Errorn("Finding pending union graph orders", obskit.Error(err))
		}
		return
	}

	buildCtx := context.WithoutCancel(ctx)
	for _, order := range orders {
		id := order.ID
		if !p.pool.Submit(func() { p.ProcessOrder(buildCtx, id) }) {
			p.log.Warnn("Union graph worker pool is full, order stays pending",
				logger.NewStringField("orderId", id),
				logger.NewIntField("activeWorkers", int64(p.pool.Active())),
			)
		}
	}
}

// ProcessOrder claims the order and builds its graph. Losing the claim to another
// instance is not an error: the order is skipped.
func (p *Processor) ProcessOrder(ctx context.Context, id string) {
	log := p.log.Withn(logger.NewStringField("orderId", id))

	claimed, err := p.orders.Claim(ctx, id, p.instanceID, p.config.lockTimeout)
	if err != nil {
		log.Errorn("Claiming union graph order", obskit.Error(err))
		return
	}
	if !claimed {
		log.Debugn("Union graph order was claimed by another instance")
		return
	}

	order, err := p.orders.Get(ctx, id)
	if err != nil {
		log.Errorn("Loading claimed union graph order", obskit.Error(err))
		p.fail(ctx, id, processingErrorPrefix+err.Error(), "error")
		return
	}

	start := p.now()
	p.metrics.start(id, start)
	defer p.metrics.finish(id)
	log.Infon("Building union graph", logger.NewIntField("resourceTypes", int64(len(order.EffectiveResourceTypes()))))

	graph, err := p.safeBuild(ctx, order)
	switch {
	case err != nil:
		log.Errorn("Building union graph", obskit.Error(err))
		p.fail(ctx, id, processingErrorPrefix+err.Error(), "error")
		return
	case graph == nil:
		log.Warnn("Union graph is empty")
		p.fail(ctx, id, noResourcesMessage, "empty")
		return
	}

	if err := p.orders.MarkCompleted(ctx, id, graph); err != nil {
		log.Errorn("Storing union graph", obskit.Error(err))
		p.fail(ctx, id, processingErrorPrefix+err.Error(), "error")
		return
	}
	p.metrics.completed.Increment()
	p.metrics.processingDuration.Since(start)
	log.Infon("Built union graph",
		logger.NewIntField("bytes", int64(len(graph))),
		logger.NewDurationField("elapsed", p.now().Sub(start)),
	)
	p.notify(ctx, id)
}

func (p *Processor) safeBuild(ctx context.Context, order *model.UnionGraphOrder) (graph []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return p.build(ctx, order)
}

func (p *Processor) fail(ctx context.Context, id, message, reason string) {
	if err := p.orders.MarkFailed(ctx, id, message); err != nil {
		p.log.Errorn("Marking union graph order as failed",
			logger.NewStringField("orderId", id),
			obskit.Error(err),
		)
		return
	}
	p.metrics.failed(reason)
	p.notify(ctx, id)
}

func (p *Processor) notify(ctx context.Context, id string) {
	order, err := p.orders.Get(ctx, id)
	if err != nil {
		p.log.Warnn("Loading union graph order for its webhook",
			logger.NewStringField("orderId", id),
			obskit.Error(err),
		)
		return
	}
	p.notifier.Notify(order, model.OrderStatusProcessing)
}

// ResetExpired resets completed orders whose ttl has elapsed, so that they get rebuilt.
func (p *Processor) ResetExpired(ctx context.Context) {
	orders, err := p.orders.FindExpired(ctx)
	if err != nil {
		if !benign(err) {
			p.log.Errorn("Finding expired union graph orders", obskit.Error(err))
		}
		return
	}
	for _, order := range orders {
		log := p.log.Withn(logger.NewStringField("orderId", order.ID))
		ok, err := p.orders.ResetToPending(ctx, order.ID)
		if err != nil {
			log.Errorn("Resetting expired union graph order", obskit.Error(err))
			continue
		}
		if ok {
			p.metrics.reset.Increment()
			log.Infon("Union graph ttl expired, scheduled rebuild",
				logger.NewIntField("updateTtlHours", int64(order.UpdateTTLHours)),
			)
		}
	}
}

// ReleaseStaleLocks resets orders that stayed in PROCESSING for longer than the lock timeout.
func (p *Processor) ReleaseStaleLocks(ctx context.Context) {
	orders, err := p.orders.FindStaleLocks(ctx, p.config.lockTimeout)
	if err != nil {
		if !benign(err) {
			p.log.Errorn("Finding stale union graph locks", obskit.Error(err))
		}
		return
	}
	for _, order := range orders {
		log := p.log.Withn(
			logger.NewStringField("orderId", order.ID),
			logger.NewStringField("lockedBy", order.LockedBy),
		)
		log.Warnn("Releasing stale union graph lock",
			logger.NewDurationField("lockedFor", p.now().Sub(order.LockedAt)),
		)
		ok, err := p.orders.ReleaseStaleLock(ctx, order.ID, p.config.lockTimeout)
		if err != nil {
			log.Errorn("Releasing stale union graph lock", obskit.Error(err))
			continue
		}
		if ok {
			p.metrics.reset.Increment()
		}
	}
}

// benign reports errors caused by shutting down
func benign(err error) bool {
	var pqErr *pq.Error
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &pqErr) && pqErr.Code == "57014")
}
