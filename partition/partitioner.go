package partition

import (
	"math"
	"sort"

	"github.com/songzhibin97/task-scheduler/logging"
	"github.com/songzhibin97/task-scheduler/types"
)

// DefaultBorrowingLimit is the fraction of a client's guaranteed resources
// that may be lent out, expressed as a percentage.
const DefaultBorrowingLimit = 50.0

// Partitioner divides a pool of homogeneous resource units (nodes) among
// competing clients according to guaranteed minimums, maximums and SLA tiers.
//
// The partitioner never fails: empty or contradictory inputs produce the
// fairest degenerate allocation instead of an error, because "no resources
// available" is a valid operational state, not a caller mistake.
type Partitioner struct {
	allowBorrowing bool
	borrowingLimit float64
	logger         logging.Logger
}

// Option configures a Partitioner.
type Option func(*Partitioner)

// WithBorrowing enables or disables resource borrowing between clients.
func WithBorrowing(enabled bool) Option {
	return func(p *Partitioner) {
		p.allowBorrowing = enabled
	}
}

// WithBorrowingLimit sets the maximum percentage of a client's guaranteed
// resources that can be borrowed from it.
func WithBorrowingLimit(pct float64) Option {
	return func(p *Partitioner) {
		if pct >= 0 {
			p.borrowingLimit = pct
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Partitioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Partitioner. Borrowing is enabled by default with a 50% limit.
func New(opts ...Option) *Partitioner {
	p := &Partitioner{
		allowBorrowing: true,
		borrowingLimit: DefaultBorrowingLimit,
		logger:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AllocateResources partitions the node pool across the clients.
//
// Guarantees:
//   - no node is ever assigned to two clients;
//   - with no clients the result is empty; with no nodes every client gets a
//     zero allocation;
//   - node counts and percentages agree within rounding;
//   - node IDs are assigned in sorted order, so two passes over the same
//     inputs produce identical allocations.
//
// The returned allocations are a snapshot for this pass. Any change to the
// client or node set requires calling AllocateResources again; allocations
// are never patched incrementally.
func (p *Partitioner) AllocateResources(clients []types.Client, nodes []string) map[string]types.ResourceAllocation {
	result := make(map[string]types.ResourceAllocation, len(clients))
	if len(clients) == 0 {
		return result
	}
	if len(nodes) == 0 {
		for _, c := range clients {
			result[c.ID] = types.ResourceAllocation{
				ClientID:            c.ID,
				AllocatedNodes:      []string{},
				AllocatedPercentage: 0,
			}
		}
		return result
	}

	total := len(nodes)
	counts := make([]int, len(clients))
	exact := make([]float64, len(clients))
	for i, c := range clients {
		share := c.GuaranteedResources / 100 * float64(total)
		if share < 0 {
			share = 0
		}
		exact[i] = share
		counts[i] = int(math.Round(share))
	}

	sum := 0
	for _, n := range counts {
		sum += n
	}

	if sum > total {
		// Over-subscribed: scale guarantees down so they fit exactly, using
		// largest-remainder apportionment.
		counts = apportion(exact, total)
		p.logger.Infof("partition: guarantees over-subscribed (%d > %d), scaled down", sum, total)
		sum = total
	}

	// Snapshot of the guaranteed baseline; anything granted past this counts
	// as borrowed capacity.
	guaranteed := make([]int, len(counts))
	copy(guaranteed, counts)

	if sum < total {
		p.distributeRemainder(clients, counts, total-sum, total)
	}

	// Assign concrete node IDs deterministically.
	pool := make([]string, total)
	copy(pool, nodes)
	sort.Strings(pool)

	next := 0
	for i, c := range clients {
		n := counts[i]
		if next+n > len(pool) {
			n = len(pool) - next
		}
		assigned := make([]string, n)
		copy(assigned, pool[next:next+n])
		next += n

		alloc := types.ResourceAllocation{
			ClientID:            c.ID,
			AllocatedNodes:      assigned,
			AllocatedPercentage: float64(n) / float64(total) * 100,
		}
		if extra := n - guaranteed[i]; extra > 0 {
			alloc.BorrowedPercentage = float64(extra) / float64(total) * 100
		}
		result[c.ID] = alloc
	}
	return result
}

// distributeRemainder hands out the nodes left over after guarantees, one at
// a time, to clients ordered by SLA tier then by unmet need, stopping at each
// client's max ceiling. Nodes nobody can take stay unallocated.
func (p *Partitioner) distributeRemainder(clients []types.Client, counts []int, remainder, total int) {
	ceil := make([]int, len(clients))
	for i, c := range clients {
		ceil[i] = int(math.Floor(c.MaxResources/100*float64(total) + 1e-9))
		if ceil[i] < counts[i] {
			ceil[i] = counts[i]
		}
	}

	order := make([]int, len(clients))
	for i := range order {
		order[i] = i
	}

	for remainder > 0 {
		sort.SliceStable(order, func(a, b int) bool {
			ia, ib := order[a], order[b]
			ra, rb := tierRank(clients[ia].SLATier), tierRank(clients[ib].SLATier)
			if ra != rb {
				return ra < rb
			}
			// Larger unmet headroom relative to max goes first.
			ua := unmet(clients[ia], counts[ia], total)
			ub := unmet(clients[ib], counts[ib], total)
			if ua != ub {
				return ua > ub
			}
			return clients[ia].ID < clients[ib].ID
		})

		granted := false
		for _, i := range order {
			if remainder == 0 {
				break
			}
			if counts[i] < ceil[i] {
				counts[i]++
				remainder--
				granted = true
			}
		}
		if !granted {
			// Every client is at its ceiling; the rest stays unallocated.
			break
		}
	}
}

// CanBorrowResources reports whether amount (a percentage of the pool) can be
// borrowed from one client and given to another. Pure predicate: callers
// apply the transfer themselves.
func (p *Partitioner) CanBorrowResources(from, to types.Client, amount float64) bool {
	if !p.allowBorrowing || amount < 0 {
		return false
	}
	maxBorrowable := p.borrowingLimit / 100 * from.GuaranteedResources
	if amount > maxBorrowable {
		return false
	}
	if to.CurrentAllocation+amount > to.MaxResources {
		return false
	}
	return true
}

// apportion splits total units across shares using the largest-remainder
// method: floor everything, then hand the leftover units to the largest
// fractional remainders. Ties break toward the earlier share.
func apportion(shares []float64, total int) []int {
	counts := make([]int, len(shares))
	if total <= 0 {
		return counts
	}
	sumShares := 0.0
	for _, s := range shares {
		sumShares += s
	}
	if sumShares <= 0 {
		return counts
	}

	type rem struct {
		index int
		frac  float64
	}
	rems := make([]rem, len(shares))
	assigned := 0
	for i, s := range shares {
		scaled := s / sumShares * float64(total)
		counts[i] = int(math.Floor(scaled))
		assigned += counts[i]
		rems[i] = rem{index: i, frac: scaled - math.Floor(scaled)}
	}
	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].frac > rems[b].frac
	})
	for i := 0; assigned < total && i < len(rems); i++ {
		counts[rems[i].index]++
		assigned++
	}
	return counts
}

func unmet(c types.Client, count, total int) float64 {
	current := float64(count) / float64(total) * 100
	if c.MaxResources <= 0 {
		return 0
	}
	return (c.MaxResources - current) / c.MaxResources
}

func tierRank(tier string) int {
	switch tier {
	case types.TierPremium:
		return 0
	case types.TierStandard:
		return 1
	case types.TierBestEffort:
		return 2
	}
	return 3
}
