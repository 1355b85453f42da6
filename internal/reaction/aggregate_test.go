package reaction

import (
	"testing"
	"time"

	"github.com/mofodox/skywriter/internal/domain"
)

func rec(postID, sessionID string, t domain.ReactionType, createdAt time.Time) domain.Reaction {
	return domain.Reaction{
		ID:        sessionID + "-" + string(t),
		PostID:    postID,
		Type:      t,
		SessionID: sessionID,
		CreatedAt: createdAt,
	}
}

func TestComputeAggregate_Empty(t *testing.T) {
	agg := ComputeAggregate("p1", nil, "s1")

	for _, typ := range domain.ReactionTypes {
		if agg.Counts[typ] != 0 {
			t.Errorf("Expected zero count for %s, got %d", typ, agg.Counts[typ])
		}
	}
	if agg.Mine != domain.ReactionNone {
		t.Errorf("Expected no current reaction, got %q", agg.Mine)
	}
}

func TestComputeAggregate_Counts(t *testing.T) {
	now := time.Now()
	records := []domain.Reaction{
		rec("p1", "s1", domain.ReactionLove, now),
		rec("p1", "s2", domain.ReactionLove, now),
		rec("p1", "s3", domain.ReactionHug, now),
	}

	agg := ComputeAggregate("p1", records, "s3")

	if agg.Counts[domain.ReactionLove] != 2 {
		t.Errorf("Expected love=2, got %d", agg.Counts[domain.ReactionLove])
	}
	if agg.Counts[domain.ReactionSupport] != 0 {
		t.Errorf("Expected support=0, got %d", agg.Counts[domain.ReactionSupport])
	}
	if agg.Counts[domain.ReactionHug] != 1 {
		t.Errorf("Expected hug=1, got %d", agg.Counts[domain.ReactionHug])
	}
	if agg.Mine != domain.ReactionHug {
		t.Errorf("Expected current reaction hug, got %q", agg.Mine)
	}
}

func TestComputeAggregate_OrderIndependent(t *testing.T) {
	now := time.Now()
	records := []domain.Reaction{
		rec("p1", "s1", domain.ReactionLove, now),
		rec("p1", "s2", domain.ReactionSupport, now.Add(time.Second)),
		rec("p1", "s3", domain.ReactionHug, now.Add(2*time.Second)),
		rec("p1", "s4", domain.ReactionLove, now.Add(3*time.Second)),
	}
	reversed := make([]domain.Reaction, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		reversed = append(reversed, records[i])
	}

	a := ComputeAggregate("p1", records, "s2")
	b := ComputeAggregate("p1", reversed, "s2")

	for _, typ := range domain.ReactionTypes {
		if a.Counts[typ] != b.Counts[typ] {
			t.Errorf("Counts for %s differ across orders: %d vs %d", typ, a.Counts[typ], b.Counts[typ])
		}
	}
	if a.Mine != b.Mine {
		t.Errorf("Current reaction differs across orders: %q vs %q", a.Mine, b.Mine)
	}
}

func TestComputeAggregate_IgnoresUnknownTypes(t *testing.T) {
	now := time.Now()
	records := []domain.Reaction{
		rec("p1", "s1", domain.ReactionLove, now),
		rec("p1", "s2", "sparkle", now),
	}

	agg := ComputeAggregate("p1", records, "")

	total := 0
	for _, n := range agg.Counts {
		total += n
	}
	if total != 1 {
		t.Errorf("Expected unknown type to be ignored, total count %d", total)
	}
	if _, ok := agg.Counts["sparkle"]; ok {
		t.Error("Expected unknown type to stay out of the counts map")
	}
}

func TestComputeAggregate_DuplicateMinePicksMostRecent(t *testing.T) {
	now := time.Now()
	records := []domain.Reaction{
		rec("p1", "s1", domain.ReactionLove, now),
		rec("p1", "s1", domain.ReactionHug, now.Add(time.Minute)),
	}

	agg := ComputeAggregate("p1", records, "s1")

	if agg.Mine != domain.ReactionHug {
		t.Errorf("Expected most recently created reaction to win, got %q", agg.Mine)
	}

	// Same answer regardless of fetch order.
	agg = ComputeAggregate("p1", []domain.Reaction{records[1], records[0]}, "s1")
	if agg.Mine != domain.ReactionHug {
		t.Errorf("Expected most recently created reaction to win after reorder, got %q", agg.Mine)
	}
}

func TestComputeAggregate_NoSession(t *testing.T) {
	records := []domain.Reaction{
		rec("p1", "s1", domain.ReactionLove, time.Now()),
	}

	agg := ComputeAggregate("p1", records, "")

	if agg.Mine != domain.ReactionNone {
		t.Errorf("Expected no current reaction without a session, got %q", agg.Mine)
	}
}
