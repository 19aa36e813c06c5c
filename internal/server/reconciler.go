package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/capmatch/capmatch/internal/store"
)

const reconcileLockKey = "capmatch:reconcile:lock"

// LedgerAuditor folds the transaction log and reports drifted balances.
type LedgerAuditor interface {
	ReconcileBalances(ctx context.Context) ([]store.BalanceDrift, error)
}

// Reconciler periodically audits materialized balances against the
// transaction log. When Redis is configured a short-lived lock keeps multiple
// instances from auditing at once; without Redis every instance audits, which
// is safe since the audit never writes.
type Reconciler struct {
	Store    LedgerAuditor
	Redis    *redis.Client
	Schedule string
	Logger   *log.Logger
}

func NewReconciler(st LedgerAuditor, rdb *redis.Client, schedule string) *Reconciler {
	if schedule == "" {
		schedule = "@daily"
	}
	return &Reconciler{
		Store:    st,
		Redis:    rdb,
		Schedule: schedule,
		Logger:   log.New(log.Writer(), "[RECONCILE] ", log.LstdFlags),
	}
}

// Start launches the reconcile loop. An invalid schedule logs and disables
// the loop rather than crashing the server.
func (r *Reconciler) Start() {
	expr, err := cronexpr.Parse(r.Schedule)
	if err != nil {
		r.Logger.Printf("invalid schedule %q: %v", r.Schedule, err)
		return
	}
	go func() {
		for {
			next := expr.Next(time.Now())
			if next.IsZero() {
				r.Logger.Printf("schedule %q has no next run, stopping", r.Schedule)
				return
			}
			time.Sleep(time.Until(next))
			r.runOnce(context.Background())
		}
	}()
}

func (r *Reconciler) runOnce(ctx context.Context) {
	if r.Redis != nil {
		ok, err := r.Redis.SetNX(ctx, reconcileLockKey, "1", 10*time.Minute).Result()
		if err != nil {
			r.Logger.Printf("acquire lock: %v", err)
			return
		}
		if !ok {
			return
		}
		defer r.Redis.Del(ctx, reconcileLockKey)
	}

	drifts, err := r.Store.ReconcileBalances(ctx)
	if err != nil {
		r.Logger.Printf("audit failed: %v", err)
		return
	}
	if len(drifts) == 0 {
		r.Logger.Printf("audit clean")
		return
	}
	for _, d := range drifts {
		r.Logger.Printf("drift user=%s materialized=%d log_sum=%d", d.UserID, d.Materialized, d.LogSum)
	}
}
