package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/whisper/dm-server/loadtest/client"
	"github.com/whisper/dm-server/loadtest/stats"
)

// runDM implements the direct message load test. Each pair of users becomes
// friends, both sides connect, and one side posts messages over HTTP while the
// other measures how long each takes to arrive as ChatNewMessage. Deliveries
// are matched to sends by ackId, since the push can beat the HTTP response.
func runDM(args []string) {
	fs := flag.NewFlagSet("dm", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiURL := fs.String("api", "http://localhost:8080", "HTTP API base URL")
	metricsURL := fs.String("metrics", "", "Prometheus endpoint to scrape (empty disables)")
	pairs := fs.Int("pairs", 100, "Number of friend pairs")
	messages := fs.Int("messages", 20, "Messages sent per pair")
	interval := fs.Duration("interval", time.Second, "Delay between messages within a pair")
	concurrency := fs.Int("concurrency", 20, "Maximum simultaneous account setups")
	fs.Parse(args)

	fmt.Printf("DM test: %d pairs x %d messages (interval=%s)\n", *pairs, *messages, *interval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 2*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	api := client.NewAPI(*apiURL)

	fmt.Println("\n--- Setup phase ---")
	accounts, err := registerAccounts(ctx, api, *pairs*2, *concurrency)
	if err != nil {
		fmt.Printf("Account setup failed: %v\n", err)
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, *concurrency)
	for i := 0; i < *pairs; i++ {
		sender, receiver := accounts[2*i], accounts[2*i+1]
		wg.Add(1)
		go func() {
			defer wg.Done()

			sem <- struct{}{}
			chat, err := api.Befriend(ctx, sender, receiver)
			<-sem
			if err != nil {
				fmt.Printf("  befriend %s/%s: %v\n", sender.Username, receiver.Username, err)
				collector.AddError()
				return
			}
			runPair(ctx, api, collector, *url, chat.ID, sender, receiver, *messages, *interval)
		}()
	}

	wg.Wait()
	collector.Report()
}

// runPair connects both sides of one conversation and drives its traffic.
func runPair(ctx context.Context, api *client.API, collector *stats.Collector, url, chatID string,
	sender, receiver *client.Account, messages int, interval time.Duration) {

	var pending sync.Map // ackId -> time.Time
	received := make(chan struct{}, messages)
	rc, err := connect(ctx, collector, url, receiver, func(c *client.Client) {
		c.On(client.EventChatNewMessage, func(data json.RawMessage) {
			var msg client.Message
			if err := json.Unmarshal(data, &msg); err != nil || msg.ChatID != chatID {
				return
			}
			sentAt, ok := pending.LoadAndDelete(msg.AckID)
			if !ok {
				return
			}
			collector.AddDelivery(time.Since(sentAt.(time.Time)))
			received <- struct{}{}
		})
	})
	if err != nil {
		return
	}
	defer rc.Close()

	sc, err := connect(ctx, collector, url, sender, nil)
	if err != nil {
		return
	}
	defer sc.Close()

	sent := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < messages; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := sc.Typing(chatID, true); err != nil {
			collector.AddError()
			return
		}
		ackID := ulid.Make().String()
		pending.Store(ackID, time.Now())
		if _, err := api.SendMessage(ctx, sender, chatID, fmt.Sprintf("message %d", i), ackID); err != nil {
			collector.AddError()
			continue
		}
		collector.AddSent()
		sent++
	}

	// Give the last deliveries a moment to land before counting losses.
	deadline := time.After(5 * time.Second)
	for got := 0; got < sent; got++ {
		select {
		case <-received:
		case <-deadline:
			collector.AddLost(sent - got)
			return
		case <-ctx.Done():
			return
		}
	}
}

// connect dials and authenticates acc. setup, if non-nil, registers handlers
// before the read loop starts.
func connect(ctx context.Context, collector *stats.Collector, url string, acc *client.Account,
	setup func(*client.Client)) (*client.Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.New(connCtx, url)
	if err != nil {
		collector.AddError()
		return nil, err
	}
	if setup != nil {
		setup(c)
	}
	if _, err := c.Authenticate(connCtx, acc.Token); err != nil {
		collector.AddError()
		c.Close()
		return nil, err
	}
	m := c.GetMetrics()
	collector.AddSession(m.ConnectLatency, m.ReadyLatency)
	return c, nil
}
