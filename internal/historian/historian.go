// Package historian drains the Redis action and session queues into Postgres.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/roomservice/internal/cache"
	"github.com/jason-s-yu/roomservice/internal/config"
	"github.com/jason-s-yu/roomservice/internal/game"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Source is a blocking queue. Pop returns nil data when nothing arrived within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Store is where drained records end up.
type Store interface {
	game.Sink
	InsertActions(ctx context.Context, recs []game.ActionRecord) error
}

// Service consumes both queues until its context is cancelled.
type Service struct {
	actions  Source
	sessions Source
	store    Store
	cfg      config.HistorianConfig
	log      *logrus.Entry

	batchMu sync.Mutex
	batch   []game.ActionRecord
}

// New builds a Service. Either source may be nil to skip that queue.
func New(actions, sessions Source, store Store, cfg config.HistorianConfig, log *logrus.Entry) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = time.Second
	}
	return &Service{
		actions:  actions,
		sessions: sessions,
		store:    store,
		cfg:      cfg,
		log:      log,
		batch:    make([]game.ActionRecord, 0, cfg.BatchSize),
	}
}

// Run blocks until ctx is done. Actions still batched at that point are flushed
// before it returns.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.actions != nil {
		g.Go(func() error { return s.actionLoop(ctx) })
	}
	if s.sessions != nil {
		g.Go(func() error { return s.sessionLoop(ctx) })
	}
	s.log.Info("historian started")
	err := g.Wait()
	s.log.Info("historian shutting down")
	return err
}

// actionLoop pops action records, accumulating them until the batch is full or
// the flush interval elapses.
func (s *Service) actionLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	defer s.flush(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.flush(ctx)
		default:
			data, err := s.actions.Pop(ctx, s.cfg.PopTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.WithError(err).Error("failed to pop action")
				continue
			}
			if data == nil {
				continue
			}
			var rec game.ActionRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				s.log.WithError(err).Warn("invalid action record")
				continue
			}
			s.append(ctx, rec)
		}
	}
}

func (s *Service) append(ctx context.Context, rec game.ActionRecord) {
	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()
	if full {
		s.flush(ctx)
	}
}

// flush writes the pending batch in one transaction. A failed batch is dropped
// and logged.
func (s *Service) flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := make([]game.ActionRecord, len(s.batch))
	copy(pending, s.batch)
	s.batch = s.batch[:0]
	s.batchMu.Unlock()

	if err := s.store.InsertActions(ctx, pending); err != nil {
		s.log.WithError(err).WithField("count", len(pending)).Error("failed to flush actions")
		return
	}
	s.log.WithField("count", len(pending)).Debug("flushed actions")
}

// sessionLoop applies session events one at a time, in queue order, so a stats
// refresh always sees the sessions enqueued before it.
func (s *Service) sessionLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, err := s.sessions.Pop(ctx, s.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Error("failed to pop session event")
			continue
		}
		if data == nil {
			continue
		}
		if err := s.apply(context.WithoutCancel(ctx), data); err != nil {
			s.log.WithError(err).Error("failed to apply session event")
		}
	}
}

func (s *Service) apply(ctx context.Context, data []byte) error {
	var ev cache.SessionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	switch ev.Kind {
	case cache.EventSession:
		return s.store.RecordSession(ctx, *ev.Session)
	case cache.EventStats:
		return s.store.UpdateStats(ctx, ev.PlayerID, ev.GameKind)
	}
	return errors.New("unreachable session event kind")
}
