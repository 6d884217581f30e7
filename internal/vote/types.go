package vote

import "time"

// Status is a proposal's lifecycle state.
//
//	pending -> pending_government_approval | rejected | auto_rejected
//	pending_government_approval -> approved | vetoed
//	vetoed -> veto_overridden (the only exit short of admin deletion)
//	approved, veto_overridden, rejected, auto_rejected are terminal;
//	rejected/auto_rejected can be reopened, but only by the proposer.
type Status string

const (
	StatusPending            Status = "pending"
	StatusPendingGovApproval Status = "pending_government_approval"
	StatusApproved           Status = "approved"
	StatusRejected           Status = "rejected"
	StatusAutoRejected       Status = "auto_rejected"
	StatusVetoed             Status = "vetoed"
	StatusVetoOverridden     Status = "veto_overridden"
)

// Ballot is a single actor's vote.
type Ballot string

const (
	BallotApprove    Ballot = "approve"
	BallotDisapprove Ballot = "disapprove"
)

// Tally is always derived from the Voters map of the current round, so the
// approvals count and the set of approving voters cannot drift apart.
type Tally struct {
	Approvals    int `json:"approvals"`
	Disapprovals int `json:"disapprovals"`
}

// Proposal is a class law under deliberation. Voters holds the current
// round only; vetoing or reopening starts a fresh round and bumps Round.
// FinalApprovedAt is stamped both on government approval and on a
// successful veto override, which is what downstream consumers key on.
type Proposal struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Fine            int64             `json:"fine"`
	ProposerID      string            `json:"proposer_id"`
	Tally           Tally             `json:"tally"`
	Voters          map[string]Ballot `json:"voters,omitempty"`
	Round           int               `json:"round"`
	Status          Status            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	VetoedAt        *time.Time        `json:"vetoed_at,omitempty"`
	VetoDeadline    *time.Time        `json:"veto_deadline,omitempty"`
	FinalApprovedAt *time.Time        `json:"final_approved_at,omitempty"`
}

// FinalApproved reports whether the proposal has passed, by either path.
func (p Proposal) FinalApproved() bool {
	return p.Status == StatusApproved || p.Status == StatusVetoOverridden
}

func (p *Proposal) recount() {
	var t Tally
	for _, b := range p.Voters {
		switch b {
		case BallotApprove:
			t.Approvals++
		case BallotDisapprove:
			t.Disapprovals++
		}
	}
	p.Tally = t
}

func (p *Proposal) startRound() {
	p.Round++
	p.Voters = nil
	p.Tally = Tally{}
}

// Caller identifies who is asking, and with what capability. Admin is a
// capability flag, not a separate code path: admin votes skip
// deduplication, and the administrative transitions require it.
type Caller struct {
	ActorID string
	Admin   bool
}

type CreateInput struct {
	ID          string
	Title       string
	Description string
	Fine        int64
	ProposerID  string
}

type CastVoteInput struct {
	ProposalID string
	Ballot     Ballot
}

// ProposalRef returns the authoritative-store ref for a proposal document.
func ProposalRef(id string) string { return "proposal/" + id }

// IndexRef is the document listing all live proposal ids. It lives
// outside the proposal/ prefix so it can never collide with a proposal id.
const IndexRef = "proposals/index"
