package escrow

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taurusgroup/p2p-wager/pkg/cashu"
	"github.com/taurusgroup/p2p-wager/pkg/p2pk"
)

// Status is the lifecycle state of a stake.
type Status uint8

const (
	// Pending stakes are locked and wait for the match result.
	Pending Status = iota
	// AwaitingArbiter stakes were claimed by the winner and wait for the
	// arbiter's signatures or for redemption. They stay here until settled or
	// until the locktime hands them back to their owner.
	AwaitingArbiter
	// Settled stakes were redeemed by the winner.
	Settled
	// Refunded stakes went back to their owner through the refund path, or
	// were relinquished by the peer after locktime.
	Refunded
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case AwaitingArbiter:
		return "awaiting-arbiter"
	case Settled:
		return "settled"
	case Refunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Closed reports whether no further action is possible on the stake.
func (s Status) Closed() bool {
	return s == Settled || s == Refunded
}

// Role tells whose funds a stake holds.
type Role uint8

const (
	// Own stakes were locked by this party and can be refunded to it.
	Own Role = iota
	// Incoming stakes were locked by the peer and can be claimed by winning.
	Incoming
)

func (r Role) String() string {
	if r == Own {
		return "own"
	}
	return "incoming"
}

// Stake is a set of proofs locked to one 2-of-2 condition for one match.
type Stake struct {
	ID        uuid.UUID
	MatchID   string
	Role      Role
	Status    Status
	Amount    uint64
	Condition *p2pk.Condition
	// Proofs are cleared once the stake is closed.
	Proofs cashu.Proofs

	// witnessed is set once both signatures are applied, so a failed
	// redemption can be retried without the arbiter.
	witnessed bool
}

// Locktime is when the refund path opens.
func (s *Stake) Locktime() time.Time {
	return s.Condition.Locktime
}

func (s *Stake) close(status Status) {
	s.Status = status
	s.Proofs = nil
	s.witnessed = false
}

func (s *Stake) clone() *Stake {
	c := *s
	c.Proofs = s.Proofs.Clone()
	return &c
}

// stakeID is a name-based uuid over the stake's sorted secrets, so that both
// parties and repeated deliveries agree on it whatever the proof order.
func stakeID(proofs cashu.Proofs) uuid.UUID {
	secrets := proofs.Secrets()
	sort.Strings(secrets)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(secrets, "\n")))
}
