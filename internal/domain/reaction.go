package domain

import (
	"time"
)

// ReactionType identifies an emoji reaction. The set is closed; values
// outside it are ignored when counting.
type ReactionType string

const (
	ReactionLove    ReactionType = "love"
	ReactionSupport ReactionType = "support"
	ReactionHug     ReactionType = "hug"

	// ReactionNone is the zero value: the session has no active reaction.
	ReactionNone ReactionType = ""
)

// ReactionTypes lists every valid reaction type.
var ReactionTypes = []ReactionType{ReactionLove, ReactionSupport, ReactionHug}

// IsValid reports whether t is one of the known reaction types.
func (t ReactionType) IsValid() bool {
	for _, known := range ReactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Reaction is one session's reaction to one post. The invariant is that
// at most one reaction exists per (post, session) pair; the store does
// not enforce it, the toggle engine does.
type Reaction struct {
	ID        string       `json:"id"`
	PostID    string       `json:"post_id"`
	Type      ReactionType `json:"reaction_type"`
	SessionID string       `json:"session_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// ReactionAggregate is the derived per-post view: counts per type plus
// the requesting session's current reaction. Never persisted; always
// recomputed from the full record set.
type ReactionAggregate struct {
	PostID string               `json:"post_id"`
	Counts map[ReactionType]int `json:"counts"`
	Mine   ReactionType         `json:"mine,omitempty"`
}

// ZeroAggregate returns an aggregate with every known type at zero and
// no current reaction. Used as the degraded "no reactions yet" view
// when the record set cannot be read.
func ZeroAggregate(postID string) ReactionAggregate {
	counts := make(map[ReactionType]int, len(ReactionTypes))
	for _, t := range ReactionTypes {
		counts[t] = 0
	}
	return ReactionAggregate{PostID: postID, Counts: counts}
}
