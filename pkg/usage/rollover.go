package usage

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/store"
)

// Rollover pre-warms the current billing period's usage record for every
// user. It is pure maintenance: GetOrCreate already rolls records over
// lazily on first access, so a missed run never affects correctness.
type Rollover struct {
	users       billing.UserStore
	ledger      Ledger
	logger      *observability.Logger
	concurrency int
	now         func() time.Time
}

// NewRollover creates a rollover job
func NewRollover(users billing.UserStore, ledger Ledger, logger *observability.Logger) *Rollover {
	return &Rollover{
		users:       users,
		ledger:      ledger,
		logger:      logger,
		concurrency: 8,
		now:         time.Now,
	}
}

// Run pre-warms records for all users. Per-user failures are logged and
// skipped; the first transient listing failure aborts the run.
func (r *Rollover) Run(ctx context.Context) error {
	ids, err := r.users.ListUserIDs(ctx)
	if err != nil {
		return err
	}

	now := r.now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := r.prewarm(ctx, id, now); err != nil {
				r.logger.WithError(err).WithField("user_id", id).Warn("rollover skipped user")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	r.logger.WithField("users", len(ids)).Info("rollover pre-warm completed")
	return nil
}

func (r *Rollover) prewarm(ctx context.Context, userID int64, now time.Time) error {
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	var prior *billing.Window
	latest, err := r.ledger.Latest(ctx, userID)
	switch {
	case err == nil:
		w := latest.Window()
		prior = &w
	case store.IsNotFound(err):
		// First period for this user.
	default:
		return err
	}

	window := billing.ComputeWindow(user, prior, now)
	_, err = r.ledger.GetOrCreate(ctx, userID, window)
	return err
}
