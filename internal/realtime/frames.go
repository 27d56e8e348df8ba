package realtime

import (
	"encoding/json"
	"time"

	"github.com/cloudtrack/bidcore/internal/auction"
)

// Frame is the envelope for every message exchanged over the bidding socket
type Frame struct {
	ID        string          `json:"id,omitempty"` // ack correlation UUID
	Type      FrameType       `json:"type"`         // frame type
	Timestamp time.Time       `json:"timestamp"`    // sender creation time
	Data      json.RawMessage `json:"data,omitempty"`
}

// FrameType represents the type of frame on the wire
type FrameType string

const (
	// client -> server
	FrameJoinAuction  FrameType = "join-auction"
	FrameLeaveAuction FrameType = "leave-auction"
	FrameCreateBid    FrameType = "create-bid"

	// server -> client
	FrameAck           FrameType = "ack"
	FrameNewBid        FrameType = "new-bid"
	FrameAuctionUpdate FrameType = "auction-update"
)

// JoinAuctionPayload asks the server for membership in one auction's stream
type JoinAuctionPayload struct {
	AuctionID string `json:"auctionId"`
}

// LeaveAuctionPayload exits an auction's stream
type LeaveAuctionPayload struct {
	AuctionID string `json:"auctionId"`
}

// CreateBidPayload places a bid in the auction named at call time
type CreateBidPayload struct {
	AuctionID string  `json:"auctionId"`
	BidPrice  float64 `json:"bidPrice"`
}

// AckPayload is the server's reply to a frame that carried an ack ID
type AckPayload struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Rank    int    `json:"rank,omitempty"` // resulting rank for create-bid acks
}

// NewBidPayload announces a placed or updated bid. TopBids is a full-replace
// snapshot of the current best bids, not an incremental diff.
type NewBidPayload struct {
	BidPrice float64       `json:"bidPrice"`
	TopBids  []auction.Bid `json:"topBids"`
}

// NewFrame builds a frame with a marshaled payload. Payload may be nil.
func NewFrame(t FrameType, payload interface{}) (Frame, error) {
	f := Frame{
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Data = data
	}
	return f, nil
}

// ParsePayload parses frame data into the appropriate payload struct
func ParsePayload(f *Frame) (interface{}, error) {
	switch f.Type {
	case FrameJoinAuction:
		var payload JoinAuctionPayload
		if err := json.Unmarshal(f.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case FrameLeaveAuction:
		var payload LeaveAuctionPayload
		if err := json.Unmarshal(f.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case FrameCreateBid:
		var payload CreateBidPayload
		if err := json.Unmarshal(f.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case FrameAck:
		var payload AckPayload
		if err := json.Unmarshal(f.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case FrameNewBid:
		var payload NewBidPayload
		if err := json.Unmarshal(f.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case FrameAuctionUpdate:
		var payload auction.Status
		if err := json.Unmarshal(f.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // unknown frame type
	}
}
