package bidserver

import (
	"errors"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/cloudtrack/bidcore/internal/auction"
)

var (
	// ErrUnknownAuction is returned for an auction ID the server has never
	// seen.
	ErrUnknownAuction = errors.New("unknown auction")

	// ErrAuctionClosed is returned when joining or bidding on a closed
	// auction.
	ErrAuctionClosed = errors.New("auction closed")

	// ErrAlreadyAccepted is returned when accepting a bid in an auction
	// that already has one accepted bid.
	ErrAlreadyAccepted = errors.New("a bid is already accepted")

	// ErrNoSuchBid is returned when the rank to accept does not exist.
	ErrNoSuchBid = errors.New("no bid with that rank")
)

type auctionState struct {
	id   string
	open bool
	bids []auction.Bid // insertion order, CreatedAt ascending
}

// Registry holds the server-side bid book for every auction. Ranks are
// assigned here and only here: price ascending, with the earlier
// submission winning price ties.
type Registry struct {
	mu       sync.RWMutex
	auctions map[string]*auctionState
	clock    clockwork.Clock
	topN     int
}

// NewRegistry creates an empty registry. topN bounds the snapshot pushed
// with new-bid events.
func NewRegistry(clock clockwork.Clock, topN int) *Registry {
	return &Registry{
		auctions: make(map[string]*auctionState),
		clock:    clock,
		topN:     topN,
	}
}

// Create registers an auction. An existing auction is left untouched.
func (r *Registry) Create(auctionID string, open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.auctions[auctionID]; exists {
		return
	}
	r.auctions[auctionID] = &auctionState{id: auctionID, open: open}
}

// Close marks an auction closed; joins and bids are rejected afterwards.
func (r *Registry) Close(auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, exists := r.auctions[auctionID]
	if !exists {
		return ErrUnknownAuction
	}
	a.open = false
	return nil
}

// Joinable reports whether an auction exists and is open.
func (r *Registry) Joinable(auctionID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, exists := r.auctions[auctionID]
	if !exists {
		return ErrUnknownAuction
	}
	if !a.open {
		return ErrAuctionClosed
	}
	return nil
}

// PlaceBid records a bid, reranks the book, and returns the new bid's rank
// together with the top-N snapshot to broadcast.
func (r *Registry) PlaceBid(auctionID, bidder string, price float64) (int, []auction.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.auctions[auctionID]
	if !exists {
		return 0, nil, ErrUnknownAuction
	}
	if !a.open {
		return 0, nil, ErrAuctionClosed
	}

	a.bids = append(a.bids, auction.Bid{
		BidderName:     bidder,
		BidPricePerTon: price,
		Action:         auction.BidStatusPending,
		CreatedAt:      r.clock.Now().UTC(),
	})
	idx := len(a.bids) - 1
	rerank(a.bids)

	return a.bids[idx].Rank, topBids(a.bids, r.topN), nil
}

// Page returns one page of an auction's bid history ordered by submission
// time, newest first unless asked ascending.
func (r *Registry) Page(auctionID string, pageNo, limit int, sortOrder auction.SortOrder) (*auction.BidPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.auctions[auctionID]
	if !exists {
		return nil, ErrUnknownAuction
	}
	if pageNo < 1 {
		pageNo = 1
	}
	if limit < 1 {
		limit = 10
	}

	rows := make([]auction.Bid, len(a.bids))
	copy(rows, a.bids)
	if sortOrder == auction.SortAsc {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	} else {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	}

	start := (pageNo - 1) * limit
	if start > len(rows) {
		start = len(rows)
	}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}

	return &auction.BidPage{
		Bids: rows[start:end],
		Pagination: auction.Pagination{
			PageNo:     pageNo,
			Limit:      limit,
			TotalItems: len(rows),
		},
	}, nil
}

// Accept marks the bid with the given rank accepted. At most one bid per
// auction may be accepted; a second accept is rejected, not reassigned.
func (r *Registry) Accept(auctionID string, rank int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.auctions[auctionID]
	if !exists {
		return ErrUnknownAuction
	}

	for _, b := range a.bids {
		if b.Action == auction.BidStatusAccepted {
			return ErrAlreadyAccepted
		}
	}
	for i := range a.bids {
		if a.bids[i].Rank == rank {
			a.bids[i].Action = auction.BidStatusAccepted
			return nil
		}
	}
	return ErrNoSuchBid
}

// rerank assigns ranks in place: lowest price first, earlier submission
// wins ties. The slice is already in submission order, so a stable sort of
// index references preserves the tie rule.
func rerank(bids []auction.Bid) {
	order := make([]int, len(bids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return bids[order[i]].BidPricePerTon < bids[order[j]].BidPricePerTon
	})
	for rank, idx := range order {
		bids[idx].Rank = rank + 1
	}
}

// topBids returns a copy of the best n bids in rank order.
func topBids(bids []auction.Bid, n int) []auction.Bid {
	ranked := make([]auction.Bid, len(bids))
	copy(ranked, bids)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Rank < ranked[j].Rank })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
