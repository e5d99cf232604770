// apitest exercises the REST facade against the live exchange: event
// types, a market catalogue page, best offers for those markets and the
// account balance.
//
// Required environment variables (or a .env file):
//
//	BETFAIR_APP_KEY        - application key
//	BETFAIR_SESSION_TOKEN  - session token, or BETFAIR_USERNAME / BETFAIR_PASSWORD
//	                         with cert_file and key_file in the config
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/t2o2/betfair-go/internal/api"
	"github.com/t2o2/betfair-go/internal/auth"
	"github.com/t2o2/betfair-go/internal/config"
	"github.com/t2o2/betfair-go/internal/exchange"
)

func main() {
	configPath := flag.String("config", "configs/streamer.example.yaml", "path to config file")
	eventType := flag.String("event-type", "1", "event type id to list markets for (1 = soccer)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	token := cfg.Credentials.SessionToken
	if token == "" {
		resp, err := auth.CertLogin(ctx, auth.LoginConfig{
			URL:      cfg.Credentials.LoginURL,
			AppKey:   cfg.Credentials.AppKey,
			Username: cfg.Credentials.Username,
			Password: cfg.Credentials.Password,
			CertFile: cfg.Credentials.CertFile,
			KeyFile:  cfg.Credentials.KeyFile,
		})
		if err != nil {
			log.Fatalf("login failed: %v", err)
		}
		token = resp.SessionToken
	}

	client := exchange.NewREST(auth.NewSession(cfg.Credentials.AppKey, token), exchange.Options{
		BettingURL: cfg.API.BettingURL,
		AccountURL: cfg.API.AccountURL,
	})

	fmt.Println("=== Testing listEventTypes ===")
	types, err := client.API().ListEventTypes(ctx, api.MarketFilter{})
	if err != nil {
		log.Fatalf("ListEventTypes failed: %v", err)
	}
	for i, et := range types {
		if i >= 5 {
			break
		}
		fmt.Printf("  %s - %s (%d markets)\n", et.EventType.ID, et.EventType.Name, et.MarketCount)
	}

	fmt.Printf("\n=== Testing listMarketCatalogue (event type %s) ===\n", *eventType)
	markets, err := client.ListMarketCatalogue(ctx, api.MarketCatalogueRequest{
		Filter:           api.MarketFilter{EventTypeIDs: []string{*eventType}},
		MarketProjection: []string{api.ProjectionEvent, api.ProjectionRunnerDescription},
		MaxResults:       5,
	})
	if err != nil {
		log.Fatalf("ListMarketCatalogue failed: %v", err)
	}
	ids := make([]string, 0, len(markets))
	for i, m := range markets {
		ids = append(ids, m.MarketID)
		event := ""
		if m.Event != nil {
			event = m.Event.Name
		}
		fmt.Printf("  %d. %s %s (%s, %d runners)\n", i+1, m.MarketID, m.MarketName, event, len(m.Runners))
	}

	if len(ids) > 0 {
		fmt.Println("\n=== Testing listMarketBook into the engine ===")
		loaded, err := client.RefreshBooks(ctx, ids, 3)
		if err != nil {
			log.Fatalf("RefreshBooks failed: %v", err)
		}
		for _, id := range loaded {
			snap, _ := client.Engine().Snapshot(id)
			for _, sel := range snap.Selections {
				bid, ask := "-", "-"
				if len(sel.Bids) > 0 {
					bid = fmt.Sprintf("%.2f", sel.Bids[0].Price)
				}
				if len(sel.Asks) > 0 {
					ask = fmt.Sprintf("%.2f", sel.Asks[0].Price)
				}
				fmt.Printf("  %s / %d: back %s lay %s\n", id, sel.SelectionID, bid, ask)
			}
		}
	}

	fmt.Println("\n=== Testing getAccountFunds ===")
	funds, err := client.GetAccountFunds(ctx)
	if err != nil {
		log.Fatalf("GetAccountFunds failed: %v", err)
	}
	fmt.Printf("Available: %s, exposure: %s\n", funds.AvailableToBetBalance.String(), funds.Exposure.String())

	fmt.Println("\n=== All API tests passed! ===")
}
