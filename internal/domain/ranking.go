package domain

import (
	"sort"
	"time"
)

// RankedEntry is one row of a ranking.
type RankedEntry struct {
	Rank          int       `json:"rank"`
	EntryID       string    `json:"entry_id"`
	ParticipantID string    `json:"participant_id"`
	Title         string    `json:"title"`
	VoteCount     int64     `json:"vote_count"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// RankingSnapshot is a derived ordering of a contest's approved entries.
// It is never the system of record; the ledger is.
type RankingSnapshot struct {
	ContestID    string        `json:"contest_id"`
	Entries      []RankedEntry `json:"entries"`
	TotalCredits int64         `json:"total_credits"`
	// Version is the contest's ledger version the totals were read at
	Version      int64         `json:"version"`
	Finalized    bool          `json:"finalized"`
	ComputedAt   time.Time     `json:"computed_at"`
}

// ComputeRanking orders totals by credits descending, then by earliest
// submission, then by entry id, and assigns ranks 1..n. Equal credit totals
// never share a rank: the earlier submission ranks higher.
func ComputeRanking(contestID string, totals []EntryTotal, computedAt time.Time) *RankingSnapshot {
	sorted := make([]EntryTotal, len(totals))
	copy(sorted, totals)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.EntryID < b.EntryID
	})

	snapshot := &RankingSnapshot{
		ContestID:  contestID,
		Entries:    make([]RankedEntry, len(sorted)),
		ComputedAt: computedAt,
	}
	for i, t := range sorted {
		snapshot.Entries[i] = RankedEntry{
			Rank:          i + 1,
			EntryID:       t.EntryID,
			ParticipantID: t.ParticipantID,
			Title:         t.Title,
			VoteCount:     t.Total,
			SubmittedAt:   t.SubmittedAt,
		}
		snapshot.TotalCredits += t.Total
	}
	return snapshot
}

// Find returns the ranked row for entryID.
func (s *RankingSnapshot) Find(entryID string) (RankedEntry, bool) {
	for _, e := range s.Entries {
		if e.EntryID == entryID {
			return e, true
		}
	}
	return RankedEntry{}, false
}
