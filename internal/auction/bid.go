package auction

import "time"

// BidStatus represents the server-assigned status of a bid
type BidStatus string

const (
	BidStatusPending  BidStatus = "PENDING"
	BidStatusAccepted BidStatus = "ACCEPTED"
	BidStatusRejected BidStatus = "REJECTED"
)

// SortOrder controls how paginated bid history is ordered by submission time
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Bid is an immutable record of one bid placed in an auction.
// Rank is assigned by the server, 1 being best; the client never
// recomputes rank from price.
type Bid struct {
	BidderName     string    `json:"bidderName"`
	BidPricePerTon float64   `json:"bidPricePerTon"`
	Rank           int       `json:"rank"`
	Action         BidStatus `json:"action"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Accepted reports whether the server has accepted this bid.
func (b Bid) Accepted() bool {
	return b.Action == BidStatusAccepted
}

// Pagination describes one page of bid history.
type Pagination struct {
	PageNo     int `json:"pageNo"`
	Limit      int `json:"limit"`
	TotalItems int `json:"totalItems"`
}

// BidPage is the response shape of the paginated bid-history collaborator.
type BidPage struct {
	Bids       []Bid      `json:"bids"`
	Pagination Pagination `json:"pagination"`
}

// Status represents auction-level state pushed by the server.
type Status struct {
	AuctionID string     `json:"auctionId"`
	Open      bool       `json:"open"`
	EndsAt    *time.Time `json:"endsAt,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}
