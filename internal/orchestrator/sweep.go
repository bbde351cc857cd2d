package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/agentia/replyflow/internal/domain/event"
	"github.com/agentia/replyflow/internal/domain/model"
	"github.com/agentia/replyflow/internal/pipeline"
	"github.com/agentia/replyflow/internal/userstate"
)

// SweepCounts is the aggregate reported by the sweep summary event.
type SweepCounts struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

// ProcessOne schedules one message on the single-item pool so bulk work
// never delays it.
func (o *Orchestrator) ProcessOne(username, emailID string) error {
	user, err := o.identity.Get(username)
	if err != nil {
		return err
	}
	st, err := o.states.Get(username, user.UserID)
	if err != nil {
		return err
	}
	autoSend := user.Settings.AutoSend
	o.pools.Single(user.Settings.SingleConcurrency).Submit(func() {
		_, err := o.engine.ProcessEmail(context.Background(), st, user, emailID, autoSend)
		if err != nil && !errors.Is(err, pipeline.ErrStopped) {
			o.logger.Warn("single-message processing failed", "user", username, "email", emailID, "error", err)
		}
	})
	return nil
}

// ProcessAll runs the full-sweep routine on the batch pool and emits the
// summary when it completes.
func (o *Orchestrator) ProcessAll(username string) error {
	user, err := o.identity.Get(username)
	if err != nil {
		return err
	}
	st, err := o.states.Get(username, user.UserID)
	if err != nil {
		return err
	}
	st.ClearStopAll()
	o.pools.Batch(user.Settings.BatchSize).Submit(func() {
		counts := o.sweep(context.Background(), st, user)
		kind := event.ProcessAllComplete
		if counts.Cancelled > 0 {
			kind = event.ProcessAllStopped
		}
		o.emit(kind, st, counts)
	})
	return nil
}

// sweep processes every pending message in batches of the configured size,
// waiting for each batch before starting the next. A global stop observed
// between batches cancels the remainder.
func (o *Orchestrator) sweep(ctx context.Context, st *userstate.State, user *model.User) SweepCounts {
	ids := st.PendingIDs()
	counts := SweepCounts{Total: len(ids)}
	if len(ids) == 0 {
		return counts
	}

	batchSize := model.ClampBatchSize(user.Settings.BatchSize)
	autoSend := user.Settings.AutoSend
	pool := o.pools.Batch(user.Settings.BatchSize)

	var mu sync.Mutex
	for start := 0; start < len(ids); start += batchSize {
		if st.StopRequested() {
			mu.Lock()
			counts.Cancelled += len(ids) - start
			mu.Unlock()
			break
		}

		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		var wg sync.WaitGroup
		for _, id := range batch {
			wg.Add(1)
			emailID := id
			pool.Submit(func() {
				defer wg.Done()
				_, err := o.engine.ProcessEmail(ctx, st, user, emailID, autoSend)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					counts.Processed++
				case errors.Is(err, pipeline.ErrStopped):
					counts.Cancelled++
				default:
					counts.Failed++
				}
			})
		}
		wg.Wait()
	}

	o.logger.Info("sweep finished", "user", st.Username,
		"total", counts.Total, "processed", counts.Processed,
		"cancelled", counts.Cancelled, "failed", counts.Failed)
	return counts
}

// StopAll arms the global stop flag, marks in-flight messages as stopping
// for the UI and announces the stop.
func (o *Orchestrator) StopAll(username string) error {
	user, err := o.identity.Get(username)
	if err != nil {
		return err
	}
	st, err := o.states.Get(username, user.UserID)
	if err != nil {
		return err
	}
	st.RequestStopAll()
	st.WithLock(func() {
		for i := range st.Cache {
			if st.Cache[i].Status == model.StatusProcessing {
				st.Cache[i].Status = model.StatusStopping
			}
		}
	})
	o.emit(event.ProcessAllStopping, st, nil)
	return nil
}

// StopOne arms a single-message stop.
func (o *Orchestrator) StopOne(username, emailID string) error {
	user, err := o.identity.Get(username)
	if err != nil {
		return err
	}
	st, err := o.states.Get(username, user.UserID)
	if err != nil {
		return err
	}
	st.RequestStopEmail(emailID)
	st.WithLock(func() {
		if em := st.FindLocked(emailID); em != nil && em.Status == model.StatusProcessing {
			em.Status = model.StatusStopping
		}
	})
	o.emit(event.EmailProcessStopping, st, map[string]any{"email_id": emailID})
	return nil
}
