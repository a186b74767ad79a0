package recovery

import (
	"context"
	"log"
	"time"

	"github.com/faustinowatschinger/recurBoost-next/app/models"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/classify"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/sequence"
)

// Cases linger this long past the final step's threshold before the
// sequence counts as exhausted.
const exhaustionGrace = 24 * time.Hour

// ProcessSequences advances every eligible case by at most one step. Cases
// waiting on a pending smart retry are held back; cases whose sequence is
// exhausted and still unpaid are closed as failed.
func (s *Service) ProcessSequences(ctx context.Context) error {
	active, err := s.repo.ListActiveCases()
	if err != nil {
		return err
	}

	now := time.Now()
	for i := range active {
		c := &active[i]

		if c.AwaitingSmartRetry() {
			continue
		}

		msgType, ok := sequence.ForFailure(classify.ParseStored(c.FailureType))
		if !ok {
			continue
		}

		elapsedDays := now.Sub(c.CreatedAt).Hours() / 24

		next := c.CurrentStep + 1
		cfg, ok := sequence.StepConfig(msgType, next)
		if !ok {
			// All steps sent. Once the grace after the final warning has
			// passed and the invoice is still unpaid, the case is lost.
			steps := sequence.Steps(msgType)
			final := steps[len(steps)-1]
			if now.Sub(c.CreatedAt) >= time.Duration(final.Day)*24*time.Hour+exhaustionGrace {
				c.Status = models.CaseStatusFailed
				if err := s.repo.SaveCase(c); err != nil {
					log.Printf("sequence: closing exhausted case %s: %v", c.UUID, err)
				}
			}
			continue
		}

		if elapsedDays < float64(cfg.Day) {
			continue
		}

		if err := s.SendStep(ctx, c, next); err != nil {
			// Per-case isolation: log and keep going.
			log.Printf("sequence: step %d for case %s: %v", next, c.UUID, err)
		}
	}
	return nil
}
