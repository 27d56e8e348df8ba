package realtime

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"
)

// AckResult is the outcome of a join or bid request, delivered
// asynchronously on the read loop. Success and failure share this channel;
// callers must check Success rather than assume it.
type AckResult struct {
	Success bool
	Reason  string
	Rank    int
}

// Session scopes the live event stream to one auction room and exposes
// bid-submission intents. A Conn carries at most one Session membership at
// a time; joining a new room first leaves the prior one.
type Session struct {
	conn *Conn

	mu        sync.Mutex
	auctionID string
	connGen   uint64 // connection generation at join time
	joinSeq   uint64 // bumped on every join/leave; guards stale join acks
}

// NewSession creates a session on top of an existing connection.
func NewSession(conn *Conn) *Session {
	return &Session{conn: conn}
}

// Current returns the joined auction ID, or "" when not joined. Membership
// recorded under an older connection generation is treated as not-joined:
// a disconnected connection cannot be a room member.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Session) currentLocked() string {
	if s.auctionID == "" {
		return ""
	}
	if s.connGen != s.conn.Generation() || !s.conn.Connected() {
		return ""
	}
	return s.auctionID
}

// Join requests membership in an auction room. If the connection is down
// this is a silent no-op; callers must connect first. If already joined to
// a different room, a leave for the prior room is sent before joining.
// Membership is recorded only when the server acknowledges success; a
// rejected join leaves room state untouched and reports the reason through
// ack. An acknowledgment that arrives after a subsequent room change or
// disconnect is discarded.
func (s *Session) Join(auctionID string, ack func(AckResult)) {
	if !s.conn.Connected() {
		log.Warn().Str("auction_id", auctionID).Msg("join skipped, socket not connected")
		return
	}

	s.mu.Lock()
	if prior := s.currentLocked(); prior != "" && prior != auctionID {
		s.leaveLocked(prior)
	}
	s.joinSeq++
	seq := s.joinSeq
	s.mu.Unlock()

	f, err := NewFrame(FrameJoinAuction, JoinAuctionPayload{AuctionID: auctionID})
	if err != nil {
		log.Error().Err(err).Msg("failed to build join frame")
		return
	}

	err = s.conn.send(f, func(p AckPayload) {
		s.mu.Lock()
		if s.joinSeq != seq {
			s.mu.Unlock()
			log.Debug().Str("auction_id", auctionID).Msg("discarding stale join acknowledgment")
			return
		}
		if p.Success {
			s.auctionID = auctionID
			s.connGen = s.conn.Generation()
		}
		s.mu.Unlock()

		if p.Success {
			log.Info().Str("auction_id", auctionID).Msg("joined auction room")
		} else {
			log.Warn().Str("auction_id", auctionID).Str("reason", p.Reason).Msg("join rejected")
		}
		if ack != nil {
			ack(AckResult{Success: p.Success, Reason: p.Reason})
		}
	})
	if err != nil {
		log.Warn().Err(err).Str("auction_id", auctionID).Msg("join send failed")
	}
}

// Leave exits the current room. No-op when not joined. The local room
// state is cleared immediately without waiting for the server; the leave
// notification is fire-and-forget.
func (s *Session) Leave() {
	s.mu.Lock()
	current := s.currentLocked()
	if current == "" {
		s.mu.Unlock()
		return
	}
	s.leaveLocked(current)
	s.mu.Unlock()
}

// leaveLocked emits the leave frame and optimistically clears membership.
// Caller holds s.mu.
func (s *Session) leaveLocked(auctionID string) {
	f, err := NewFrame(FrameLeaveAuction, LeaveAuctionPayload{AuctionID: auctionID})
	if err == nil {
		if sendErr := s.conn.send(f, nil); sendErr != nil {
			log.Warn().Err(sendErr).Str("auction_id", auctionID).Msg("leave send failed")
		}
	}
	s.auctionID = ""
	s.joinSeq++
	log.Info().Str("auction_id", auctionID).Msg("left auction room")
}

// PlaceBid submits a bid for the currently joined room. The auction ID is
// captured at call time so a concurrent leave or join cannot redirect the
// bid. Returns ErrNoActiveAuction without any network call when no room is
// joined. The server's decision arrives asynchronously via ack; PlaceBid
// never mutates the bid ledger itself — callers react to the resulting
// new-bid event instead, which avoids double-counting.
func (s *Session) PlaceBid(pricePerUnit float64, ack func(AckResult)) error {
	if pricePerUnit < 0 || math.IsNaN(pricePerUnit) || math.IsInf(pricePerUnit, 0) {
		return ErrInvalidBid
	}

	auctionID := s.Current()
	if auctionID == "" {
		return ErrNoActiveAuction
	}

	f, err := NewFrame(FrameCreateBid, CreateBidPayload{AuctionID: auctionID, BidPrice: pricePerUnit})
	if err != nil {
		return err
	}

	return s.conn.send(f, func(p AckPayload) {
		if !p.Success {
			log.Warn().Str("auction_id", auctionID).Str("reason", p.Reason).Msg("bid rejected")
		}
		if ack != nil {
			ack(AckResult{Success: p.Success, Reason: p.Reason, Rank: p.Rank})
		}
	})
}
