package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudtrack/bidcore/internal/auction"
	"github.com/cloudtrack/bidcore/internal/bidserver"
	"github.com/cloudtrack/bidcore/internal/config"
	"github.com/cloudtrack/bidcore/internal/countdown"
)

func main() {
	configPath := flag.String("config", "auctionsim.yaml", "path to simulator config")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadSim(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	clock := clockwork.NewRealClock()
	registry := bidserver.NewRegistry(clock, cfg.TopBids)
	srv := bidserver.New(registry, bidserver.DefaultConfig())

	for _, seed := range cfg.Auctions {
		registry.Create(seed.ID, seed.Open)
		log.Info().Str("auction_id", seed.ID).Bool("open", seed.Open).Msg("seeded auction")

		if seed.Open && seed.Minutes > 0 {
			cd := countdown.NewFromMinutes(clock, seed.Minutes)
			go func(id string, endsAt time.Time) {
				<-clock.After(endsAt.Sub(clock.Now()))
				if err := registry.Close(id); err != nil {
					log.Error().Err(err).Str("auction_id", id).Msg("failed to close auction")
					return
				}
				srv.BroadcastStatus(auction.Status{AuctionID: id, Open: false, Reason: "auction closed"})
				log.Info().Str("auction_id", id).Msg("auction closed")
			}(seed.ID, cd.End())
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("auction simulator listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("auction simulator shutting down")
	httpServer.Close()
}
