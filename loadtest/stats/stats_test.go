package stats

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// ---------------------------------------------------------------------------
// summarize
// ---------------------------------------------------------------------------

func TestSummarize_NearestRank(t *testing.T) {
	var series []time.Duration
	for i := 100; i >= 1; i-- {
		series = append(series, ms(i))
	}

	s := summarize(series)
	if s.n != 100 || s.p50 != ms(50) || s.p95 != ms(95) || s.p99 != ms(99) || s.max != ms(100) {
		t.Errorf("summary = %+v", s)
	}
	if want := 50*time.Millisecond + 500*time.Microsecond; s.avg != want {
		t.Errorf("avg = %v, want %v", s.avg, want)
	}
	if series[0] != ms(100) {
		t.Error("summarize reordered the caller's series")
	}
}

func TestSummarize_SingleAndEmpty(t *testing.T) {
	s := summarize([]time.Duration{ms(7)})
	if s.p50 != ms(7) || s.p99 != ms(7) || s.max != ms(7) {
		t.Errorf("single sample summary = %+v", s)
	}
	if (summarize(nil) != latencySummary{}) {
		t.Error("empty series should give a zero summary")
	}
}

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AddSession(ms(1), ms(2))
			c.AddSent()
			c.AddDelivery(ms(3))
			c.AddError()
		}()
	}
	wg.Wait()

	if c.Sessions() != 50 || c.Errors() != 50 {
		t.Errorf("sessions=%d errors=%d, want 50/50", c.Sessions(), c.Errors())
	}
}

func TestCollector_ReportSections(t *testing.T) {
	c := NewCollector()
	c.AddSession(ms(4), ms(9))

	var buf bytes.Buffer
	c.WriteReport(&buf)
	out := buf.String()
	if !strings.Contains(out, "Handshake") || !strings.Contains(out, "ready  avg=9ms") {
		t.Errorf("missing handshake section:\n%s", out)
	}
	if strings.Contains(out, "Traffic") {
		t.Errorf("traffic section printed with nothing sent:\n%s", out)
	}

	for i := 0; i < 4; i++ {
		c.AddSent()
	}
	c.AddDelivery(ms(12))
	c.AddDelivery(ms(14))
	c.AddDelivery(ms(16))
	c.AddLost(1)

	buf.Reset()
	c.WriteReport(&buf)
	out = buf.String()
	if !strings.Contains(out, "sent: 4  delivered: 3  lost: 1  (loss 25.00%)") {
		t.Errorf("traffic counts wrong:\n%s", out)
	}
	if !strings.Contains(out, "delivery  avg=14ms p50=14ms") {
		t.Errorf("delivery percentiles wrong:\n%s", out)
	}
}
