package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bandscale/bandscale-backend/internal/model"
)

// ExpirySweepInterval is how often the background sweep runs. Lazy expiry on
// the access path already guards correctness; the sweep only keeps rows of
// students who walked away from converging eventually.
const ExpirySweepInterval = time.Minute

// ExpiryWorker periodically expires overrun module records and attempts past
// their overall deadline. Every update is the same conditional form the
// access path uses, so a sweep racing a live submission loses cleanly.
type ExpiryWorker struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(pool *pgxpool.Pool, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		pool: pool,
		log:  log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ExpiryWorker started")

	ticker := time.NewTicker(ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	var expiredModules int64
	for moduleType, duration := range model.ModuleDurations {
		tag, err := w.pool.Exec(ctx,
			`UPDATE module_records
			 SET status = $1, updated_at = now()
			 WHERE module_type = $2 AND status = $3
			   AND now() >= started_at + make_interval(secs => $4)`,
			model.ModuleStatusExpired, moduleType, model.ModuleStatusInProgress, duration.Seconds())
		if err != nil {
			w.log.Error().Err(err).Str("module", string(moduleType)).Msg("Module expiry sweep failed")
			continue
		}
		expiredModules += tag.RowsAffected()
	}

	tag, err := w.pool.Exec(ctx,
		`UPDATE attempts
		 SET overall_status = $1, updated_at = now()
		 WHERE overall_status IN ($2, $3)
		   AND overall_deadline IS NOT NULL AND now() >= overall_deadline`,
		model.AttemptStatusExpired, model.AttemptStatusNotStarted, model.AttemptStatusInProgress)
	if err != nil {
		w.log.Error().Err(err).Msg("Attempt expiry sweep failed")
		return
	}

	if expiredModules > 0 || tag.RowsAffected() > 0 {
		w.log.Info().
			Int64("modules", expiredModules).
			Int64("attempts", tag.RowsAffected()).
			Msg("Expiry sweep applied")
	}
}
