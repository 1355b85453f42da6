// Package reaction implements reaction state synchronization: aggregate
// computation, the single-reaction-per-session toggle state machine,
// and the change-feed-driven reconciliation loop.
package reaction

import (
	"log/slog"

	"github.com/mofodox/skywriter/internal/domain"
)

// ComputeAggregate tallies per-type counts and resolves the calling
// session's current reaction from the full record set of one post.
//
// Pure function of its inputs. Records with an unknown reaction type
// are skipped when counting. When the session holds more than one
// record (a transient invariant violation left by a race) the most
// recently created one wins and the condition is logged; cleanup is
// the toggle engine's job, not this one's.
func ComputeAggregate(postID string, records []domain.Reaction, sessionID string) domain.ReactionAggregate {
	agg := domain.ZeroAggregate(postID)

	var mine *domain.Reaction
	mineCount := 0
	for i := range records {
		rec := &records[i]
		if rec.Type.IsValid() {
			agg.Counts[rec.Type]++
		}
		if sessionID == "" || rec.SessionID != sessionID {
			continue
		}
		mineCount++
		// Later-created wins; ties resolve to the later fetch position.
		if mine == nil || !rec.CreatedAt.Before(mine.CreatedAt) {
			mine = rec
		}
	}

	if mineCount > 1 {
		slog.Warn("Session holds multiple reactions on one post",
			"post_id", postID, "session_id", sessionID, "count", mineCount)
	}
	if mine != nil {
		agg.Mine = mine.Type
	}

	return agg
}
