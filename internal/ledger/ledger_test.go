package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudtrack/bidcore/internal/auction"
	"github.com/cloudtrack/bidcore/internal/realtime"
)

// fakeFetcher serves canned pages and can hold a response hostage until
// released, to exercise the superseded-fetch policy.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[int]*auction.BidPage
	calls   int
	block   map[int]chan struct{} // pageNo -> gate
	started chan int              // receives pageNo when a call begins
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:   make(map[int]*auction.BidPage),
		block:   make(map[int]chan struct{}),
		started: make(chan int, 16),
	}
}

func (f *fakeFetcher) FetchBids(ctx context.Context, auctionID string, pageNo, limit int, sort auction.SortOrder) (*auction.BidPage, error) {
	f.mu.Lock()
	f.calls++
	gate := f.block[pageNo]
	page := f.pages[pageNo]
	f.mu.Unlock()

	f.started <- pageNo
	if gate != nil {
		<-gate
	}
	if page == nil {
		return &auction.BidPage{Pagination: auction.Pagination{PageNo: pageNo, Limit: limit}}, nil
	}
	return page, nil
}

func bid(name string, price float64, rank int) auction.Bid {
	return auction.Bid{
		BidderName:     name,
		BidPricePerTon: price,
		Rank:           rank,
		Action:         auction.BidStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestLowestBid_EmptyPageIsNil(t *testing.T) {
	l := New(newFakeFetcher())
	require.Nil(t, l.LowestBid())
}

func TestLowestBid_MinimumOfLoadedPage(t *testing.T) {
	l := New(newFakeFetcher())
	l.ApplyLiveBid(realtime.NewBidPayload{
		BidPrice: 10,
		TopBids:  []auction.Bid{bid("a", 10, 2), bid("b", 7, 1), bid("c", 12, 3)},
	})

	lowest := l.LowestBid()
	require.NotNil(t, lowest)
	require.Equal(t, 7.0, *lowest)
}

func TestApplyLiveBid_SnapshotFullyReplaces(t *testing.T) {
	l := New(newFakeFetcher())
	l.ApplyLiveBid(realtime.NewBidPayload{
		BidPrice: 500,
		TopBids:  []auction.Bid{bid("old-1", 500, 1), bid("old-2", 600, 2)},
	})

	l.ApplyLiveBid(realtime.NewBidPayload{
		BidPrice: 450,
		TopBids:  []auction.Bid{bid("X", 450, 1)},
	})

	bids := l.Bids()
	require.Len(t, bids, 1)
	require.Equal(t, "X", bids[0].BidderName)
	require.Equal(t, 1, bids[0].Rank)

	lowest := l.LowestBid()
	require.NotNil(t, lowest)
	require.Equal(t, 450.0, *lowest)
}

func TestApplyLiveBid_EventWithoutSnapshotIgnored(t *testing.T) {
	l := New(newFakeFetcher())
	l.ApplyLiveBid(realtime.NewBidPayload{
		BidPrice: 500,
		TopBids:  []auction.Bid{bid("a", 500, 1)},
	})

	l.ApplyLiveBid(realtime.NewBidPayload{BidPrice: 400})

	require.Len(t, l.Bids(), 1)
	lowest := l.LowestBid()
	require.NotNil(t, lowest)
	require.Equal(t, 500.0, *lowest)
}

func TestFetchPage_ReplacesPageAndMetadataAtomically(t *testing.T) {
	f := newFakeFetcher()
	f.pages[2] = &auction.BidPage{
		Bids:       []auction.Bid{bid("a", 900, 4), bid("b", 880, 3)},
		Pagination: auction.Pagination{PageNo: 2, Limit: 2, TotalItems: 7},
	}

	l := New(f)
	l.Reset("A123")
	require.NoError(t, l.FetchPage(context.Background(), 2, 2, auction.SortAsc))

	require.Len(t, l.Bids(), 2)
	require.Equal(t, auction.Pagination{PageNo: 2, Limit: 2, TotalItems: 7}, l.Pagination())
	require.Equal(t, auction.SortAsc, l.Sort())

	lowest := l.LowestBid()
	require.NotNil(t, lowest)
	require.Equal(t, 880.0, *lowest)
}

func TestFetchPage_NoAuctionBound(t *testing.T) {
	l := New(newFakeFetcher())
	require.Error(t, l.FetchPage(context.Background(), 1, 10, auction.SortDesc))
}

func TestFetchPage_SupersededResponseDropped(t *testing.T) {
	f := newFakeFetcher()
	gate := make(chan struct{})
	f.block[1] = gate
	f.pages[1] = &auction.BidPage{
		Bids:       []auction.Bid{bid("stale", 100, 1)},
		Pagination: auction.Pagination{PageNo: 1, Limit: 10, TotalItems: 1},
	}
	f.pages[2] = &auction.BidPage{
		Bids:       []auction.Bid{bid("fresh", 200, 1)},
		Pagination: auction.Pagination{PageNo: 2, Limit: 10, TotalItems: 11},
	}

	l := New(f)
	l.Reset("A123")

	done := make(chan error, 1)
	go func() { done <- l.FetchPage(context.Background(), 1, 10, auction.SortDesc) }()
	require.Equal(t, 1, <-f.started)

	// A newer fetch completes while the first is still in flight.
	require.NoError(t, l.FetchPage(context.Background(), 2, 10, auction.SortDesc))

	close(gate)
	require.NoError(t, <-done)

	// The older response must not clobber the newer one.
	bids := l.Bids()
	require.Len(t, bids, 1)
	require.Equal(t, "fresh", bids[0].BidderName)
	require.Equal(t, 2, l.Pagination().PageNo)
}

func TestFetchPage_ResponseForLeftAuctionDropped(t *testing.T) {
	f := newFakeFetcher()
	gate := make(chan struct{})
	f.block[1] = gate
	f.pages[1] = &auction.BidPage{
		Bids:       []auction.Bid{bid("ghost", 100, 1)},
		Pagination: auction.Pagination{PageNo: 1, Limit: 10, TotalItems: 1},
	}

	l := New(f)
	l.Reset("A123")

	done := make(chan error, 1)
	go func() { done <- l.FetchPage(context.Background(), 1, 10, auction.SortDesc) }()
	require.Equal(t, 1, <-f.started)

	// Room changes while the fetch is in flight.
	l.Reset("B456")
	close(gate)
	require.NoError(t, <-done)

	require.Empty(t, l.Bids())
	require.Nil(t, l.LowestBid())
}

func TestHasAccepted_PageLocal(t *testing.T) {
	l := New(newFakeFetcher())
	require.False(t, l.HasAccepted())

	accepted := bid("winner", 300, 1)
	accepted.Action = auction.BidStatusAccepted
	l.ApplyLiveBid(realtime.NewBidPayload{
		BidPrice: 300,
		TopBids:  []auction.Bid{accepted, bid("runner-up", 310, 2)},
	})
	require.True(t, l.HasAccepted())

	// A snapshot without the accepted bid hides it; acceptance is a
	// page-local approximation.
	l.ApplyLiveBid(realtime.NewBidPayload{
		BidPrice: 290,
		TopBids:  []auction.Bid{bid("other", 290, 1)},
	})
	require.False(t, l.HasAccepted())
}

func TestReset_ClearsState(t *testing.T) {
	l := New(newFakeFetcher())
	l.ApplyLiveBid(realtime.NewBidPayload{
		BidPrice: 450,
		TopBids:  []auction.Bid{bid("X", 450, 1)},
	})

	l.Reset("")
	require.Empty(t, l.Bids())
	require.Nil(t, l.LowestBid())
	require.False(t, l.HasAccepted())
	require.Equal(t, auction.Pagination{}, l.Pagination())
}

func TestSubscribe_NotifiedOnEveryChange(t *testing.T) {
	l := New(newFakeFetcher())

	var mu sync.Mutex
	notified := 0
	l.Subscribe(func() {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	l.ApplyLiveBid(realtime.NewBidPayload{
		BidPrice: 450,
		TopBids:  []auction.Bid{bid("X", 450, 1)},
	})
	l.Reset("")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, notified)
}

func TestScenario_NewBidSnapshot(t *testing.T) {
	// Server pushes new-bid {bidPrice: 450, topBids: [{X, 450, 1}]}.
	l := New(newFakeFetcher())
	l.Reset("A123")

	l.ApplyLiveBid(realtime.NewBidPayload{
		BidPrice: 450,
		TopBids: []auction.Bid{{
			BidderName:     "X",
			BidPricePerTon: 450,
			Rank:           1,
			Action:         auction.BidStatusPending,
		}},
	})

	lowest := l.LowestBid()
	require.NotNil(t, lowest)
	require.Equal(t, 450.0, *lowest)

	bids := l.Bids()
	require.Len(t, bids, 1)
	require.Equal(t, 1, bids[0].Rank)
	require.Equal(t, "X", bids[0].BidderName)
}
