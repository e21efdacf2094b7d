package domain

import "time"

// CreditSource distinguishes free votes from purchased ones.
type CreditSource string

const (
	SourceFree CreditSource = "free"
	SourcePaid CreditSource = "paid"
)

// LedgerRecord is one immutable vote credit. The sum of amounts per entry is
// the entry's vote count.
type LedgerRecord struct {
	ID        string       `json:"id"`
	ContestID string       `json:"contest_id"`
	EntryID   string       `json:"entry_id"`
	Voter     string       `json:"voter"`
	Amount    int64        `json:"amount"`
	Source    CreditSource `json:"source"`
	// PaymentRef is set only for paid credits and is unique ledger-wide.
	PaymentRef string    `json:"payment_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreditState is what the store hands to a CreditGuard while it holds the
// contest's write lock.
type CreditState struct {
	Contest *Contest
	Entry   *Entry
	// LastFreeCreditAt is the newest free credit by the same voter on the
	// same entry, nil if none. Only populated for free credits.
	LastFreeCreditAt *time.Time
}

// CreditGuard rejects a credit by returning an error; it runs atomically
// with the write.
type CreditGuard func(state CreditState) error

// EntryTotal is an approved entry with its summed credits.
type EntryTotal struct {
	EntryID       string    `json:"entry_id"`
	ParticipantID string    `json:"participant_id"`
	Title         string    `json:"title"`
	Total         int64     `json:"total"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// FreeVoteRequest is the body of the free vote endpoint.
type FreeVoteRequest struct {
	EntryID    string `json:"entry_id"`
	VoterToken string `json:"voter_token,omitempty"`
}

// CreditResponse reports a credit and the entry's new total.
type CreditResponse struct {
	RecordID  string       `json:"record_id"`
	EntryID   string       `json:"entry_id"`
	Amount    int64        `json:"amount"`
	Source    CreditSource `json:"source"`
	VoteTotal int64        `json:"vote_total"`
	Timestamp time.Time    `json:"timestamp"`
}
