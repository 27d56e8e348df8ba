// bidwatch joins one auction room and prints live bid activity and the
// countdown until close.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudtrack/bidcore/internal/auction"
	"github.com/cloudtrack/bidcore/internal/bidsapi"
	"github.com/cloudtrack/bidcore/internal/config"
	"github.com/cloudtrack/bidcore/internal/countdown"
	"github.com/cloudtrack/bidcore/internal/ledger"
	"github.com/cloudtrack/bidcore/internal/realtime"
)

// envToken reads the bearer token from the environment on every use, so a
// refreshed session is picked up on the next connect.
type envToken struct{}

func (envToken) Token() string { return os.Getenv("BIDCORE_AUTH_TOKEN") }

func main() {
	auctionID := flag.String("auction", "", "auction ID to join")
	deadline := flag.String("deadline", "", "absolute auction deadline (RFC3339)")
	minutes := flag.Int("minutes", 0, "auction minutes remaining from now")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *auctionID == "" {
		log.Fatal().Msg("-auction is required")
	}

	wsURL := config.GetEnv("BIDCORE_WS_URL", "ws://localhost:8080/ws")
	apiURL := config.GetEnv("BIDCORE_API_URL", "http://localhost:8080")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens := envToken{}
	conn := realtime.NewConn(wsURL, tokens, realtime.DefaultConfig())
	session := realtime.NewSession(conn)
	api := bidsapi.NewClient(apiURL, tokens)

	led := ledger.New(api)
	led.Bind(conn)
	led.Subscribe(func() {
		lowest := -1.0
		if v := led.LowestBid(); v != nil {
			lowest = *v
		}
		log.Info().
			Float64("lowest", lowest).
			Bool("accepted", led.HasAccepted()).
			Int("bids", len(led.Bids())).
			Msg("ledger updated")
	})

	conn.Subscribe(realtime.FrameAuctionUpdate, func(f realtime.Frame) {
		log.Info().RawJSON("status", f.Data).Msg("auction update")
	})
	conn.SubscribeLifecycle(func(ev realtime.LifecycleEvent) {
		if ev.Err != nil {
			log.Error().Err(ev.Err).Str("state", ev.State.String()).Msg("connection state changed")
			return
		}
		log.Info().Str("state", ev.State.String()).Msg("connection state changed")
	})

	if err := conn.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer conn.Disconnect()

	session.Join(*auctionID, func(res realtime.AckResult) {
		if !res.Success {
			log.Fatal().Str("reason", res.Reason).Msg("join rejected")
		}
		led.Reset(*auctionID)
		go func() {
			if err := led.FetchPage(ctx, 1, 10, auction.SortDesc); err != nil {
				log.Error().Err(err).Msg("failed to fetch bid history")
			}
		}()
	})

	clock := clockwork.NewRealClock()
	var cd *countdown.Countdown
	switch {
	case *deadline != "":
		var err error
		cd, err = countdown.NewFromDeadline(clock, *deadline)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid deadline")
		}
	case *minutes > 0:
		cd = countdown.NewFromMinutes(clock, *minutes)
	}
	if cd != nil {
		go cd.Run(ctx, func(r countdown.Remaining) {
			if r.Expired {
				log.Info().Msg("auction expired")
				return
			}
			log.Info().Str("remaining", r.String()).Msg("countdown")
		})
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	session.Leave()
}
