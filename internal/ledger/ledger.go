// Package ledger maintains the reconciled, paginated view of bids for the
// currently joined auction and the derived values over it (lowest price,
// accepted-bid presence).
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cloudtrack/bidcore/internal/auction"
	"github.com/cloudtrack/bidcore/internal/realtime"
)

// BidFetcher is the external paginated bid-history collaborator.
type BidFetcher interface {
	FetchBids(ctx context.Context, auctionID string, pageNo, limit int, sort auction.SortOrder) (*auction.BidPage, error)
}

// Ledger holds the currently displayed set of bids for one auction.
//
// Both a live topBids snapshot and a page-fetch response are full
// replacements of the displayed set, never field-by-field merges. When a
// fetch and a live event complete around the same time, the later-arriving
// response wins. A fetch response that was superseded by a newer fetch, or
// that belongs to a previously joined auction, is dropped.
type Ledger struct {
	fetcher BidFetcher

	mu         sync.RWMutex
	auctionID  string
	bids       []auction.Bid
	pagination auction.Pagination
	sort       auction.SortOrder
	lowest     *float64

	fetchSeq   uint64 // last issued fetch
	appliedSeq uint64 // last applied fetch

	subs []func()
}

// New creates an empty ledger backed by the given history collaborator.
func New(fetcher BidFetcher) *Ledger {
	return &Ledger{
		fetcher: fetcher,
		sort:    auction.SortDesc,
	}
}

// Reset clears the ledger and binds it to a newly joined auction. Called
// on room join and on leave (with an empty ID).
func (l *Ledger) Reset(auctionID string) {
	l.mu.Lock()
	l.auctionID = auctionID
	l.bids = nil
	l.pagination = auction.Pagination{}
	l.sort = auction.SortDesc
	l.lowest = nil
	l.fetchSeq++
	l.appliedSeq = l.fetchSeq
	l.mu.Unlock()
	l.notify()
}

// Bind subscribes the ledger to new-bid frames on the given connection.
// Dispatch is sequential on the read loop, so events apply in exactly the
// order the server sent them.
func (l *Ledger) Bind(conn *realtime.Conn) {
	conn.Subscribe(realtime.FrameNewBid, func(f realtime.Frame) {
		payload, err := realtime.ParsePayload(&f)
		if err != nil {
			log.Error().Err(err).Msg("failed to parse new-bid frame")
			return
		}
		l.ApplyLiveBid(payload.(realtime.NewBidPayload))
	})
}

// ApplyLiveBid applies a pushed bid event. The topBids snapshot replaces
// the displayed set entirely; no residual entries survive. An event with
// no snapshot carries nothing the ledger can display and is only logged.
func (l *Ledger) ApplyLiveBid(ev realtime.NewBidPayload) {
	if ev.TopBids == nil {
		log.Debug().Float64("bid_price", ev.BidPrice).Msg("new-bid event without snapshot, ignoring")
		return
	}

	l.mu.Lock()
	l.bids = ev.TopBids
	l.recomputeLowestLocked()
	l.mu.Unlock()
	l.notify()
}

// FetchPage loads one page of bid history and replaces the displayed page
// and its pagination metadata atomically. Blocking; run it from its own
// goroutine when the caller must not wait.
func (l *Ledger) FetchPage(ctx context.Context, pageNo, pageSize int, sort auction.SortOrder) error {
	l.mu.Lock()
	auctionID := l.auctionID
	l.fetchSeq++
	seq := l.fetchSeq
	l.mu.Unlock()

	if auctionID == "" {
		return fmt.Errorf("fetch page: no auction bound")
	}

	page, err := l.fetcher.FetchBids(ctx, auctionID, pageNo, pageSize, sort)
	if err != nil {
		return fmt.Errorf("fetch bids page %d: %w", pageNo, err)
	}

	l.mu.Lock()
	if l.auctionID != auctionID || seq < l.appliedSeq {
		l.mu.Unlock()
		log.Debug().
			Str("auction_id", auctionID).
			Int("page_no", pageNo).
			Msg("dropping superseded page response")
		return nil
	}
	l.appliedSeq = seq
	l.bids = page.Bids
	l.pagination = page.Pagination
	l.sort = sort
	l.recomputeLowestLocked()
	l.mu.Unlock()
	l.notify()
	return nil
}

// recomputeLowestLocked scans the loaded set for the minimum price per
// unit. Runs after every page replacement and every live application;
// never cached across them. Caller holds l.mu.
func (l *Ledger) recomputeLowestLocked() {
	if len(l.bids) == 0 {
		l.lowest = nil
		return
	}
	min := l.bids[0].BidPricePerTon
	for _, b := range l.bids[1:] {
		if b.BidPricePerTon < min {
			min = b.BidPricePerTon
		}
	}
	l.lowest = &min
}

// LowestBid returns the minimum price per unit on the loaded page, or nil
// when the page is empty.
func (l *Ledger) LowestBid() *float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.lowest == nil {
		return nil
	}
	v := *l.lowest
	return &v
}

// HasAccepted reports whether any bid on the loaded page is accepted.
// Acceptance is server-authoritative and may live on a page that is not
// currently loaded, so this is a page-local approximation.
func (l *Ledger) HasAccepted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.bids {
		if b.Accepted() {
			return true
		}
	}
	return false
}

// Bids returns a copy of the currently displayed set.
func (l *Ledger) Bids() []auction.Bid {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]auction.Bid, len(l.bids))
	copy(out, l.bids)
	return out
}

// Pagination returns the metadata of the loaded page.
func (l *Ledger) Pagination() auction.Pagination {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pagination
}

// Sort returns the sort order the loaded page was fetched with.
func (l *Ledger) Sort() auction.SortOrder {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sort
}

// Subscribe registers a callback invoked after every change to the
// displayed set. Multiple consumers may subscribe to one ledger.
func (l *Ledger) Subscribe(fn func()) {
	l.mu.Lock()
	l.subs = append(l.subs, fn)
	l.mu.Unlock()
}

func (l *Ledger) notify() {
	l.mu.RLock()
	subs := l.subs
	l.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}
