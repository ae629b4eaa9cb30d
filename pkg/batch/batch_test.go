package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmylchreest/listinglens/pkg/browser"
	"github.com/jmylchreest/listinglens/pkg/browser/browsertest"
	"github.com/jmylchreest/listinglens/pkg/disclosure"
	"github.com/jmylchreest/listinglens/pkg/listing"
	"github.com/jmylchreest/listinglens/pkg/llm"
	"github.com/jmylchreest/listinglens/pkg/oracle"
	"github.com/jmylchreest/listinglens/pkg/section"
	"github.com/jmylchreest/listinglens/pkg/session"
)

var details = browser.CSS("div.details")

// countingProvider returns a fixed response and counts calls.
type countingProvider struct {
	content string
	err     error
	calls   atomic.Int32
}

func (p *countingProvider) Execute(context.Context, llm.Request) (*llm.Response, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.content}, nil
}

func (p *countingProvider) Name() string  { return "gemini" }
func (p *countingProvider) Model() string { return "gemini-2.0-flash" }

// pages serves documents keyed by url. Unknown urls get an empty page.
type pages map[string]func(d *browsertest.Doc) error

func (p pages) factory() *browsertest.Factory {
	return &browsertest.Factory{New: func(int) *browsertest.Doc {
		d := browsertest.NewDoc()
		d.OnNavigate = func(d *browsertest.Doc, url string) error {
			if setup, ok := p[url]; ok {
				return setup(d)
			}
			return nil
		}
		return d
	}}
}

func withDetails(html string) func(d *browsertest.Doc) error {
	return func(d *browsertest.Doc) error {
		d.Set(details, &browsertest.Node{HTML: html})
		return nil
	}
}

func navTimeout(*browsertest.Doc) error {
	return &browser.Fault{Kind: browser.FaultTimeout, Op: "navigate", Err: context.DeadlineExceeded}
}

func newPipeline(p pages, provider llm.Provider, workers int) (*Orchestrator, *browsertest.Factory) {
	f := p.factory()
	runner := session.NewRunner(
		session.Config{PageLoadTimeout: 15 * time.Second},
		f,
		disclosure.New(disclosure.Config{}, nil),
		section.NewExtractor(section.DefaultConfig(), []string{"div.details"}),
	)
	client := oracle.New(provider, oracle.DefaultConfig())
	return New(Config{Workers: workers}, NewProcessor(runner, client)), f
}

func tasks(t *testing.T, urls ...string) []listing.Task {
	t.Helper()
	out := make([]listing.Task, len(urls))
	for i, u := range urls {
		task, err := listing.NewTask(u)
		if err != nil {
			t.Fatal(err)
		}
		out[i] = task
	}
	return out
}

func byURL(res Result) map[string]listing.Record {
	m := make(map[string]listing.Record, len(res.Records))
	for _, r := range res.Records {
		m[r.URL] = r
	}
	return m
}

func TestRun_Success(t *testing.T) {
	provider := &countingProvider{content: "```json\n{\"listing_title\": \"Test Condo\", \"price\": 500000, \"bedrooms\": 3}\n```"}
	o, _ := newPipeline(pages{
		"https://example.com/condo": withDetails(`<div class="details">Test Condo RM 500,000</div>`),
	}, provider, 10)

	res := o.Run(context.Background(), tasks(t, "https://example.com/condo"), nil)

	if len(res.Records) != 1 {
		t.Fatalf("got %d records", len(res.Records))
	}
	rec := res.Records[0]
	if rec.Failed() {
		t.Fatalf("unexpected failure %+v", rec.Failure)
	}
	if rec.ListingTitle != "Test Condo" || rec.Price == nil || rec.Price.Value != 500000 {
		t.Errorf("record = %+v", rec)
	}
	if rec.URL != "https://example.com/condo" {
		t.Errorf("URL = %q", rec.URL)
	}
	if rec.ProcessingTimeSeconds < 0 {
		t.Errorf("ProcessingTimeSeconds = %v", rec.ProcessingTimeSeconds)
	}
	if len(res.Successes()) != 1 || len(res.Failures()) != 0 {
		t.Errorf("partition = %d/%d", len(res.Successes()), len(res.Failures()))
	}
	if res.ID == "" {
		t.Error("batch id not set")
	}
}

func TestRun_NoSections(t *testing.T) {
	provider := &countingProvider{content: `{"listing_title": "x", "price": 1}`}
	o, _ := newPipeline(pages{}, provider, 10)

	res := o.Run(context.Background(), tasks(t, "https://example.com/empty"), nil)

	rec := res.Records[0]
	if rec.Failure == nil || rec.Failure.Kind != listing.FailureNoContent {
		t.Fatalf("Failure = %+v", rec.Failure)
	}
	if rec.Failure.Message != "No relevant HTML content found on page by selectors." {
		t.Errorf("Message = %q", rec.Failure.Message)
	}
	if n := provider.calls.Load(); n != 0 {
		t.Errorf("oracle called %d times", n)
	}
}

func TestRun_NonJSONResponse(t *testing.T) {
	provider := &countingProvider{content: "Sorry, I cannot help with that."}
	o, _ := newPipeline(pages{
		"https://example.com/a": withDetails(`<div class="details">x</div>`),
	}, provider, 10)

	rec := o.Run(context.Background(), tasks(t, "https://example.com/a"), nil).Records[0]
	if rec.Failure == nil || rec.Failure.Kind != listing.FailureOracleResponse {
		t.Fatalf("Failure = %+v", rec.Failure)
	}
	if !strings.HasPrefix(rec.Failure.Message, "Failed to parse AI response: ") {
		t.Errorf("Message = %q", rec.Failure.Message)
	}
}

func TestRun_OracleCallFailure(t *testing.T) {
	provider := &countingProvider{err: errors.New("quota exceeded")}
	o, _ := newPipeline(pages{
		"https://example.com/a": withDetails(`<div class="details">x</div>`),
	}, provider, 10)

	rec := o.Run(context.Background(), tasks(t, "https://example.com/a"), nil).Records[0]
	if rec.Failure == nil || rec.Failure.Message != "Gemini API call failed: quota exceeded" {
		t.Fatalf("Failure = %+v", rec.Failure)
	}
	if provider.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", provider.calls.Load())
	}
}

func TestRun_TimeoutAndSuccess(t *testing.T) {
	provider := &countingProvider{content: `{"listing_title": "Test Condo", "price": 500000}`}
	o, f := newPipeline(pages{
		"https://example.com/slow": navTimeout,
		"https://example.com/ok":   withDetails(`<div class="details">Test Condo</div>`),
	}, provider, 10)

	res := o.Run(context.Background(), tasks(t, "https://example.com/slow", "https://example.com/ok"), nil)

	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	recs := byURL(res)

	slow := recs["https://example.com/slow"]
	if slow.Failure == nil || slow.Failure.Kind != listing.FailureNavigationTimeout {
		t.Fatalf("slow failure = %+v", slow.Failure)
	}
	if !strings.HasPrefix(slow.Failure.Message, "Scraping failed: Timeout occurred during page load or element wait (limit 15s): ") {
		t.Errorf("slow message = %q", slow.Failure.Message)
	}
	if ok := recs["https://example.com/ok"]; ok.Failed() {
		t.Errorf("ok failure = %+v", ok.Failure)
	}
	if provider.calls.Load() != 1 {
		t.Errorf("oracle calls = %d, want 1", provider.calls.Load())
	}
	for _, d := range f.Opened() {
		if d.Closed() != 1 {
			t.Error("every session must be closed once")
		}
	}
}

func TestRun_Incomplete(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"missing price", `{"listing_title": "Test Condo"}`, true},
		{"missing title", `{"price": 500000}`, true},
		{"sentinels present", `{"listing_title": "N/A", "price": 0}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newPipeline(pages{
				"https://example.com/a": withDetails(`<div class="details">x</div>`),
			}, &countingProvider{content: tt.content}, 1)

			rec := o.Run(context.Background(), tasks(t, "https://example.com/a"), nil).Records[0]
			got := rec.Failure != nil && rec.Failure.Kind == listing.FailureIncomplete
			if got != tt.want {
				t.Errorf("incomplete = %v, want %v (%+v)", got, tt.want, rec.Failure)
			}
			if got && rec.Failure.Message != "Processing completed but key data might be missing (AI extraction likely failed)." {
				t.Errorf("Message = %q", rec.Failure.Message)
			}
		})
	}
}

type panickingExtractor struct{}

func (panickingExtractor) Extract(context.Context, string, string) oracle.Extraction {
	panic("nil map write")
}

func TestRun_PanicBecomesCriticalRecord(t *testing.T) {
	p := pages{
		"https://example.com/a": withDetails(`<div class="details">x</div>`),
		"https://example.com/b": withDetails(`<div class="details">y</div>`),
	}
	runner := session.NewRunner(session.Config{PageLoadTimeout: time.Second}, p.factory(),
		disclosure.New(disclosure.Config{}, nil),
		section.NewExtractor(section.DefaultConfig(), []string{"div.details"}))
	o := New(Config{Workers: 2}, NewProcessor(runner, panickingExtractor{}))

	res := o.Run(context.Background(), tasks(t, "https://example.com/a", "https://example.com/b"), nil)

	if len(res.Records) != 2 {
		t.Fatalf("got %d records, the batch must continue past a panic", len(res.Records))
	}
	for _, rec := range res.Records {
		if rec.Failure == nil || rec.Failure.Kind != listing.FailureCriticalProcessing {
			t.Errorf("Failure = %+v", rec.Failure)
			continue
		}
		if rec.Failure.Message != "Critical processing error: nil map write" {
			t.Errorf("Message = %q", rec.Failure.Message)
		}
	}
}

// slowScraper tracks concurrency.
type slowScraper struct {
	active, peak atomic.Int32
}

func (s *slowScraper) Run(_ context.Context, url string) session.Outcome {
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	s.active.Add(-1)
	return session.Outcome{URL: url, Sections: section.NewSections([]string{"div"})}
}

func TestRun_PoolBoundAndCardinality(t *testing.T) {
	var urls []string
	for i := 0; i < 12; i++ {
		urls = append(urls, "https://example.com/"+string(rune('a'+i)))
	}
	s := &slowScraper{}
	o := New(Config{Workers: 3}, NewProcessor(s, oracle.New(&countingProvider{}, oracle.DefaultConfig())))

	var mu sync.Mutex
	var progress []int
	o.OnResult = func(done, total int, _ listing.Record) {
		mu.Lock()
		progress = append(progress, done)
		mu.Unlock()
		if total != 12 {
			t.Errorf("total = %d", total)
		}
	}

	res := o.Run(context.Background(), tasks(t, urls...), []string{"'x' (invalid format)"})

	if len(res.Records) != 12 {
		t.Errorf("records = %d, want 12", len(res.Records))
	}
	if p := s.peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
	if len(res.Invalid) != 1 {
		t.Errorf("Invalid = %v", res.Invalid)
	}
	if len(progress) != 12 || progress[11] != 12 {
		t.Errorf("progress = %v", progress)
	}
	seen := map[string]bool{}
	for _, r := range res.Records {
		if seen[r.URL] {
			t.Errorf("duplicate record for %s", r.URL)
		}
		seen[r.URL] = true
	}
}

func TestRun_CancelledRecordsEveryTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &countingProvider{content: `{}`}
	o, f := newPipeline(pages{}, provider, 2)
	res := o.Run(ctx, tasks(t, "https://example.com/a", "https://example.com/b", "https://example.com/c"), nil)

	if len(res.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(res.Records))
	}
	for _, r := range res.Records {
		if r.Failure == nil || r.Failure.Kind != listing.FailureSessionRuntime {
			t.Errorf("Failure = %+v", r.Failure)
		}
	}
	if len(f.Opened()) != 0 || provider.calls.Load() != 0 {
		t.Error("nothing should run after cancellation")
	}
}

func TestRun_RateLimited(t *testing.T) {
	o := New(Config{Workers: 5, Rate: 1000}, NewProcessor(&slowScraper{}, oracle.New(&countingProvider{}, oracle.DefaultConfig())))
	res := o.Run(context.Background(), tasks(t, "https://example.com/a", "https://example.com/b"), nil)
	if len(res.Records) != 2 {
		t.Errorf("records = %d", len(res.Records))
	}
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want float64
	}{
		{0, 0},
		{1234 * time.Millisecond, 1.23},
		{1236 * time.Millisecond, 1.24},
		{15 * time.Second, 15},
	}
	for _, tt := range tests {
		if got := seconds(tt.d); got != tt.want {
			t.Errorf("seconds(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}
