package bidserver

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/cloudtrack/bidcore/internal/auction"
)

func newTestRegistry(t *testing.T) (*Registry, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	r := NewRegistry(clock, 3)
	r.Create("A123", true)
	return r, clock
}

func TestPlaceBid_RanksByPriceAscending(t *testing.T) {
	r, clock := newTestRegistry(t)

	rank, _, err := r.PlaceBid("A123", "x", 500)
	require.NoError(t, err)
	require.Equal(t, 1, rank)

	clock.Advance(time.Second)
	rank, _, err = r.PlaceBid("A123", "y", 450)
	require.NoError(t, err)
	require.Equal(t, 1, rank)

	clock.Advance(time.Second)
	rank, top, err := r.PlaceBid("A123", "z", 480)
	require.NoError(t, err)
	require.Equal(t, 2, rank)

	require.Equal(t, []string{"y", "z", "x"}, bidders(top))
}

func TestPlaceBid_PriceTieEarlierSubmissionWins(t *testing.T) {
	r, clock := newTestRegistry(t)

	_, _, err := r.PlaceBid("A123", "first", 450)
	require.NoError(t, err)

	clock.Advance(time.Second)
	rank, top, err := r.PlaceBid("A123", "second", 450)
	require.NoError(t, err)

	require.Equal(t, 2, rank)
	require.Equal(t, "first", top[0].BidderName)
	require.Equal(t, 1, top[0].Rank)
}

func TestPlaceBid_SnapshotBoundedByTopN(t *testing.T) {
	r, clock := newTestRegistry(t)

	var top []auction.Bid
	for _, price := range []float64{500, 490, 480, 470, 460} {
		var err error
		_, top, err = r.PlaceBid("A123", "bidder", price)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	require.Len(t, top, 3)
	require.Equal(t, 460.0, top[0].BidPricePerTon)
}

func TestPlaceBid_UnknownOrClosedAuction(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, _, err := r.PlaceBid("nope", "x", 100)
	require.ErrorIs(t, err, ErrUnknownAuction)

	require.NoError(t, r.Close("A123"))
	_, _, err = r.PlaceBid("A123", "x", 100)
	require.ErrorIs(t, err, ErrAuctionClosed)
	require.ErrorIs(t, r.Joinable("A123"), ErrAuctionClosed)
}

func TestPage_NewestFirstByDefault(t *testing.T) {
	r, clock := newTestRegistry(t)

	for _, name := range []string{"a", "b", "c"} {
		_, _, err := r.PlaceBid("A123", name, 400)
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	page, err := r.Page("A123", 1, 2, auction.SortDesc)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, bidders(page.Bids))
	require.Equal(t, auction.Pagination{PageNo: 1, Limit: 2, TotalItems: 3}, page.Pagination)

	page, err = r.Page("A123", 2, 2, auction.SortDesc)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, bidders(page.Bids))

	asc, err := r.Page("A123", 1, 3, auction.SortAsc)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, bidders(asc.Bids))
}

func TestPage_BeyondLastIsEmpty(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, _, err := r.PlaceBid("A123", "a", 400)
	require.NoError(t, err)

	page, err := r.Page("A123", 9, 10, auction.SortDesc)
	require.NoError(t, err)
	require.Empty(t, page.Bids)
	require.Equal(t, 1, page.Pagination.TotalItems)
}

func TestAccept_AtMostOneAcceptedBid(t *testing.T) {
	r, clock := newTestRegistry(t)

	_, _, err := r.PlaceBid("A123", "x", 500)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, _, err = r.PlaceBid("A123", "y", 450)
	require.NoError(t, err)

	require.NoError(t, r.Accept("A123", 1))
	require.ErrorIs(t, r.Accept("A123", 2), ErrAlreadyAccepted)
	require.ErrorIs(t, r.Accept("A123", 1), ErrAlreadyAccepted)

	page, err := r.Page("A123", 1, 10, auction.SortDesc)
	require.NoError(t, err)

	accepted := 0
	for _, b := range page.Bids {
		if b.Accepted() {
			accepted++
			require.Equal(t, "y", b.BidderName)
		}
	}
	require.Equal(t, 1, accepted)
}

func TestAccept_UnknownRank(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.ErrorIs(t, r.Accept("A123", 7), ErrNoSuchBid)
	require.ErrorIs(t, r.Accept("nope", 1), ErrUnknownAuction)
}

func bidders(bids []auction.Bid) []string {
	out := make([]string, len(bids))
	for i, b := range bids {
		out[i] = b.BidderName
	}
	return out
}
