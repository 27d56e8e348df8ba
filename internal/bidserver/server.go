// Package bidserver is the auction service the realtime client core talks
// to: per-auction websocket rooms, bid ranking, and the paginated
// bid-history REST surface. It backs the simulator binary and the
// integration tests.
package bidserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/cloudtrack/bidcore/internal/auction"
	"github.com/cloudtrack/bidcore/internal/realtime"
)

// Config holds configuration for websocket connections to the server
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns default websocket configuration
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Server owns the auction rooms and the bid book. One client connection
// may be a member of at most one room at a time, mirroring the contract
// the client core relies on.
type Server struct {
	registry *Registry
	config   Config
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]bool
}

type client struct {
	id        string
	bidder    string
	conn      *websocket.Conn
	send      chan []byte
	srv       *Server
	mu        sync.Mutex
	auctionID string // current room, "" when not joined
}

// New creates a server around an auction registry.
func New(registry *Registry, config Config) *Server {
	return &Server{
		registry: registry,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		rooms: make(map[string]map[*client]bool),
	}
}

// Handler returns the full HTTP surface: the websocket endpoint plus the
// paginated bid-history REST routes, wrapped with CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleSocket)
	mux.HandleFunc("GET /auctions/{auctionID}/bids", s.handleBidPage)
	mux.HandleFunc("POST /auctions/{auctionID}/bids/accept", s.handleAccept)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// handleSocket authenticates and upgrades a bidding connection. The token
// arrives as a connection query parameter; without it the upgrade is
// refused.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return
	}

	bidder := r.URL.Query().Get("bidder")
	if bidder == "" {
		bidder = "anonymous"
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade bidding connection")
		return
	}

	c := &client{
		id:     uuid.New().String(),
		bidder: bidder,
		conn:   conn,
		send:   make(chan []byte, 256),
		srv:    s,
	}

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("bidder", bidder).
		Msg("bidding connection established")
}

func (s *Server) handleBidPage(w http.ResponseWriter, r *http.Request) {
	auctionID := r.PathValue("auctionID")
	q := r.URL.Query()

	pageNo := intQuery(q.Get("pageNo"), 1)
	limit := intQuery(q.Get("limit"), 10)
	sortOrder := auction.SortDesc
	if q.Get("sortOrder") == string(auction.SortAsc) {
		sortOrder = auction.SortAsc
	}

	page, err := s.registry.Page(auctionID, pageNo, limit, sortOrder)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(page); err != nil {
		log.Error().Err(err).Msg("failed to encode bid page")
	}
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	auctionID := r.PathValue("auctionID")

	var req struct {
		Rank int `json:"rank"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch err := s.registry.Accept(auctionID, req.Rank); err {
	case nil:
		w.WriteHeader(http.StatusOK)
	case ErrUnknownAuction, ErrNoSuchBid:
		http.Error(w, err.Error(), http.StatusNotFound)
	case ErrAlreadyAccepted:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func intQuery(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// joinRoom moves a client into an auction room, leaving any prior room
// first so no client holds two memberships.
func (s *Server) joinRoom(c *client, auctionID string) {
	s.leaveRoom(c)

	s.mu.Lock()
	if s.rooms[auctionID] == nil {
		s.rooms[auctionID] = make(map[*client]bool)
	}
	s.rooms[auctionID][c] = true
	members := len(s.rooms[auctionID])
	s.mu.Unlock()

	c.mu.Lock()
	c.auctionID = auctionID
	c.mu.Unlock()

	log.Debug().
		Str("connection_id", c.id).
		Str("auction_id", auctionID).
		Int("members", members).
		Msg("client joined room")
}

func (s *Server) leaveRoom(c *client) {
	c.mu.Lock()
	auctionID := c.auctionID
	c.auctionID = ""
	c.mu.Unlock()
	if auctionID == "" {
		return
	}

	s.mu.Lock()
	if members, exists := s.rooms[auctionID]; exists {
		delete(members, c)
		if len(members) == 0 {
			delete(s.rooms, auctionID)
		}
	}
	s.mu.Unlock()

	log.Debug().
		Str("connection_id", c.id).
		Str("auction_id", auctionID).
		Msg("client left room")
}

// broadcast sends a frame to every member of an auction room. The frame is
// marshaled once; slow members are dropped rather than allowed to stall
// the room.
func (s *Server) broadcast(auctionID string, f realtime.Frame) {
	s.mu.RLock()
	members, exists := s.rooms[auctionID]
	if !exists {
		s.mu.RUnlock()
		return
	}
	targets := make([]*client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal broadcast frame")
		return
	}

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			log.Warn().
				Str("connection_id", c.id).
				Msg("send buffer full, dropping client")
			s.leaveRoom(c)
			c.conn.Close()
		}
	}
}

// readPump processes frames from one client until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.srv.leaveRoom(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.srv.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.srv.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.srv.config.ReadTimeout))
		return nil
	})

	for {
		var f realtime.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected close")
			}
			return
		}
		c.handleFrame(f)
		c.conn.SetReadDeadline(time.Now().Add(c.srv.config.ReadTimeout))
	}
}

func (c *client) handleFrame(f realtime.Frame) {
	payload, err := realtime.ParsePayload(&f)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", c.id).Msg("malformed frame")
		c.ack(f.ID, realtime.AckPayload{Success: false, Reason: "malformed frame"})
		return
	}

	switch p := payload.(type) {
	case realtime.JoinAuctionPayload:
		if err := c.srv.registry.Joinable(p.AuctionID); err != nil {
			c.ack(f.ID, realtime.AckPayload{Success: false, Reason: err.Error()})
			return
		}
		c.srv.joinRoom(c, p.AuctionID)
		c.ack(f.ID, realtime.AckPayload{Success: true})

	case realtime.LeaveAuctionPayload:
		c.srv.leaveRoom(c)

	case realtime.CreateBidPayload:
		if p.BidPrice < 0 {
			c.ack(f.ID, realtime.AckPayload{Success: false, Reason: "negative bid price"})
			return
		}
		rank, top, err := c.srv.registry.PlaceBid(p.AuctionID, c.bidder, p.BidPrice)
		if err != nil {
			c.ack(f.ID, realtime.AckPayload{Success: false, Reason: err.Error()})
			return
		}
		c.ack(f.ID, realtime.AckPayload{Success: true, Rank: rank})

		event, err := realtime.NewFrame(realtime.FrameNewBid, realtime.NewBidPayload{
			BidPrice: p.BidPrice,
			TopBids:  top,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to build new-bid frame")
			return
		}
		c.srv.broadcast(p.AuctionID, event)

	default:
		log.Debug().
			Str("connection_id", c.id).
			Str("frame_type", string(f.Type)).
			Msg("ignoring frame")
	}
}

// ack replies to a frame that carried a correlation ID.
func (c *client) ack(id string, p realtime.AckPayload) {
	if id == "" {
		return
	}
	f, err := realtime.NewFrame(realtime.FrameAck, p)
	if err != nil {
		log.Error().Err(err).Msg("failed to build ack frame")
		return
	}
	f.ID = id

	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal ack frame")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("connection_id", c.id).Msg("send buffer full, ack dropped")
	}
}

// BroadcastStatus pushes an auction-update frame to a room, used when the
// simulator closes or extends an auction.
func (s *Server) BroadcastStatus(status auction.Status) {
	f, err := realtime.NewFrame(realtime.FrameAuctionUpdate, status)
	if err != nil {
		log.Error().Err(err).Msg("failed to build auction-update frame")
		return
	}
	s.broadcast(status.AuctionID, f)
}

// writePump drains the send channel and keeps the connection alive with
// pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.srv.leaveRoom(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
