// Package priority ranks Claude-surface terminals by urgency and cycles
// focus through them.
package priority

import (
	"sort"
	"time"

	"canvas-sync/internal/model"
)

type Direction string

const (
	Left  Direction = "left"
	Right Direction = "right"
)

// Entry is one tracked terminal. Lists passed to this package are sorted by
// CreatedAt, oldest first.
type Entry struct {
	ID        string
	State     model.ClaudeState
	Seen      bool
	Hidden    bool
	CreatedAt time.Time
}

const (
	TierPermissionUnseen = iota
	TierQuestionUnseen
	TierIdleUnseen
	TierInteractiveSeen
	TierIdleSeen
	TierDormant
	TierBusy
	TierHidden
)

// TierOf returns the entry's urgency tier. Lower is more urgent.
func TierOf(e Entry) int {
	if e.Hidden {
		return TierHidden
	}
	switch e.State {
	case model.ClaudePermission:
		if e.Seen {
			return TierInteractiveSeen
		}
		return TierPermissionUnseen
	case model.ClaudeQuestion:
		if e.Seen {
			return TierInteractiveSeen
		}
		return TierQuestionUnseen
	case model.ClaudeIdle:
		if e.Seen {
			return TierIdleSeen
		}
		return TierIdleUnseen
	case model.ClaudeDormant:
		return TierDormant
	case model.ClaudeBusy:
		return TierBusy
	default:
		return TierHidden
	}
}

// HighestPriority returns the lowest-tier entry, breaking ties by the oldest
// CreatedAt. ok is false for an empty list.
func HighestPriority(list []Entry) (Entry, bool) {
	if len(list) == 0 {
		return Entry{}, false
	}
	best := list[0]
	bestTier := TierOf(best)
	for _, e := range list[1:] {
		tier := TierOf(e)
		if tier < bestTier || (tier == bestTier && e.CreatedAt.Before(best.CreatedAt)) {
			best, bestTier = e, tier
		}
	}
	return best, true
}

// Adjacent returns the neighbor of focusedID in dir, wrapping around. When
// focusedID is not in the list, the neighbor is taken from the point where an
// entry created at phantomCreatedAt would sit, so navigation resumes near
// where it left off.
func Adjacent(list []Entry, focusedID string, phantomCreatedAt time.Time, dir Direction) (Entry, bool) {
	n := len(list)
	if n == 0 {
		return Entry{}, false
	}
	for i, e := range list {
		if e.ID != focusedID {
			continue
		}
		if dir == Left {
			return list[(i-1+n)%n], true
		}
		return list[(i+1)%n], true
	}

	// First entry created strictly after the phantom.
	idx := sort.Search(n, func(i int) bool { return list[i].CreatedAt.After(phantomCreatedAt) })
	if dir == Left {
		return list[(idx-1+n)%n], true
	}
	return list[idx%n], true
}

// FromNodes collects every terminal with a Claude status, sorted by CreatedAt
// then id.
func FromNodes(nodes map[string]model.Node) []Entry {
	out := []Entry{}
	for id, n := range nodes {
		term, ok := n.Payload.(*model.Terminal)
		if !ok || term.Claude == nil {
			continue
		}
		out = append(out, Entry{
			ID:        id,
			State:     term.Claude.State,
			Seen:      term.Claude.Seen,
			Hidden:    term.Claude.Hidden,
			CreatedAt: term.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
