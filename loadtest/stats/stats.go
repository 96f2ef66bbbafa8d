// Package stats aggregates what the DM load scenarios observe from the client
// side: how long sessions take to reach Ready, and whether messages posted
// over HTTP arrive on the recipient's socket and how fast.
package stats

import (
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"sync"
	"time"
)

// Collector is shared by every simulated client of a run.
type Collector struct {
	mu    sync.Mutex
	start time.Time

	// Handshake: dial to upgrade, then Authenticate to Ready.
	dial  []time.Duration
	ready []time.Duration

	// Traffic: messages accepted by the API and what became of them.
	sent      int
	delivered []time.Duration
	lost      int

	errors  int
	scraper *Scraper
}

// NewCollector starts the run clock.
func NewCollector() *Collector {
	return &Collector{start: time.Now()}
}

// SetScraper makes Report append the server-side view.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddSession records a client that completed the handshake.
func (c *Collector) AddSession(dial, ready time.Duration) {
	c.mu.Lock()
	c.dial = append(c.dial, dial)
	c.ready = append(c.ready, ready)
	c.mu.Unlock()
}

// AddSent records a message the API accepted.
func (c *Collector) AddSent() {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
}

// AddDelivery records a ChatNewMessage matched to its send.
func (c *Collector) AddDelivery(d time.Duration) {
	c.mu.Lock()
	c.delivered = append(c.delivered, d)
	c.mu.Unlock()
}

// AddLost records sent messages that never arrived before the deadline.
func (c *Collector) AddLost(n int) {
	c.mu.Lock()
	c.lost += n
	c.mu.Unlock()
}

// AddError counts a failed dial, handshake, API call or socket write.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Sessions returns the number of clients that reached Ready.
func (c *Collector) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ready)
}

// Errors returns the error count so far.
func (c *Collector) Errors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints the run summary to stdout.
func (c *Collector) Report() {
	c.WriteReport(os.Stdout)

	c.mu.Lock()
	scraper := c.scraper
	c.mu.Unlock()
	if scraper != nil {
		scraper.Report()
	}
	fmt.Println()
}

// WriteReport writes the client-side summary to w. Sections with no samples
// are left out, so a saturate run shows no traffic block.
func (c *Collector) WriteReport(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(w, "\n=== DM Load Test Results ===")
	fmt.Fprintf(w, "Elapsed:   %s\n", time.Since(c.start).Round(time.Second))
	fmt.Fprintf(w, "Sessions:  %d\n", len(c.ready))
	fmt.Fprintf(w, "Errors:    %d\n", c.errors)

	if len(c.ready) > 0 {
		fmt.Fprintln(w, "\n--- Handshake ---")
		fmt.Fprintf(w, "  dial   %s\n", summarize(c.dial))
		fmt.Fprintf(w, "  ready  %s\n", summarize(c.ready))
	}

	if c.sent > 0 {
		fmt.Fprintln(w, "\n--- Traffic ---")
		fmt.Fprintf(w, "  sent: %d  delivered: %d  lost: %d  (loss %.2f%%)\n",
			c.sent, len(c.delivered), c.lost, float64(c.lost)/float64(c.sent)*100)
		if len(c.delivered) > 0 {
			fmt.Fprintf(w, "  delivery  %s\n", summarize(c.delivered))
		}
	}
}

// latencySummary is the percentile view of one series.
type latencySummary struct {
	n                       int
	avg, p50, p95, p99, max time.Duration
}

func (s latencySummary) String() string {
	r := func(d time.Duration) time.Duration { return d.Round(time.Microsecond) }
	return fmt.Sprintf("avg=%v p50=%v p95=%v p99=%v max=%v (n=%d)",
		r(s.avg), r(s.p50), r(s.p95), r(s.p99), r(s.max), s.n)
}

// summarize computes percentiles by nearest rank. It sorts a copy, so the
// collector's series keep arrival order.
func summarize(series []time.Duration) latencySummary {
	n := len(series)
	if n == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(series)
	slices.Sort(sorted)

	rank := func(p float64) time.Duration {
		return sorted[int(math.Ceil(float64(n)*p))-1]
	}
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return latencySummary{
		n:   n,
		avg: sum / time.Duration(n),
		p50: rank(0.50),
		p95: rank(0.95),
		p99: rank(0.99),
		max: sorted[n-1],
	}
}
