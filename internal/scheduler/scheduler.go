// Package scheduler starts debates automatically from configured topic
// pools.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/arenalive/arena/internal/core"
	"github.com/arenalive/arena/internal/orchestrator"
	"github.com/arenalive/arena/internal/storage"
)

// Scheduler admits at most one debate at a time, drawing topics at
// random from per-category pools.
type Scheduler struct {
	store      storage.Storage
	orch       *orchestrator.Orchestrator
	categories map[string][]string
	logger     *slog.Logger
	rng        *rand.Rand
}

func New(store storage.Storage, orch *orchestrator.Orchestrator, categories map[string][]string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		orch:       orch,
		categories: categories,
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Pick selects a random category and a random topic from its pool.
func (s *Scheduler) Pick() (category, topic string, err error) {
	// Sorted keys keep the draw independent of map iteration order.
	names := make([]string, 0, len(s.categories))
	for name, topics := range s.categories {
		if len(topics) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", "", errors.New("no topic pools configured")
	}
	sort.Strings(names)

	category = names[s.rng.Intn(len(names))]
	topics := s.categories[category]
	topic = topics[s.rng.Intn(len(topics))]
	return category, topic, nil
}

// Tick runs one scheduling decision: if no debate is active, start one
// on a freshly picked topic and launch its loop. Returns the started
// debate, or nil when the tick was a no-op.
func (s *Scheduler) Tick(ctx context.Context) (*core.Debate, error) {
	active, err := s.store.ActiveDebates()
	if err != nil {
		return nil, fmt.Errorf("failed to check active debates: %w", err)
	}
	if len(active) > 0 {
		s.logger.Debug("tick skipped, debate already active", "active", len(active))
		return nil, nil
	}

	category, topic, err := s.Pick()
	if err != nil {
		return nil, err
	}

	debate, err := s.orch.StartDebate(topic, category, nil)
	if err != nil {
		var blocked *orchestrator.BlockedError
		if errors.As(err, &blocked) {
			s.logger.Info("tick blocked by operator flags", "reason", blocked.Reason)
			return nil, nil
		}
		return nil, err
	}

	s.orch.Launch(ctx, debate.ID)
	s.logger.Info("scheduled debate", "debate_id", debate.ID, "category", category, "topic", topic)
	return debate, nil
}

// RunTicker ticks on the given interval until ctx is cancelled.
func (s *Scheduler) RunTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}
