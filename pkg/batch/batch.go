// Package batch runs listing tasks through a bounded worker pool and
// collects one record per task in completion order.
package batch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/listing"
	"github.com/jmylchreest/listinglens/pkg/oracle"
	"github.com/jmylchreest/listinglens/pkg/session"
)

const (
	msgNoSections = "No relevant HTML content found on page by selectors."
	msgIncomplete = "Processing completed but key data might be missing (AI extraction likely failed)."
)

// Scraper runs the page session for one url.
type Scraper interface {
	Run(ctx context.Context, url string) session.Outcome
}

// Extractor calls the extraction oracle.
type Extractor interface {
	Extract(ctx context.Context, markup, url string) oracle.Extraction
}

// Config controls the pool.
type Config struct {
	Workers int     `validate:"min=1"`
	Rate    float64 `validate:"gte=0"` // dispatches per second, 0 = unlimited
}

// DefaultConfig returns the reference pool size.
func DefaultConfig() Config {
	return Config{Workers: 10}
}

// Result is one finished batch.
type Result struct {
	ID       string           `json:"id" yaml:"id"`
	Records  []listing.Record `json:"records" yaml:"records"` // completion order
	Invalid  []string         `json:"invalid,omitempty" yaml:"invalid,omitempty"`
	Started  time.Time        `json:"started" yaml:"started"`
	Duration time.Duration    `json:"duration" yaml:"duration"`
}

// Successes returns the records without a failure.
func (r Result) Successes() []listing.Record {
	var out []listing.Record
	for _, rec := range r.Records {
		if !rec.Failed() {
			out = append(out, rec)
		}
	}
	return out
}

// Failures returns the records with a failure.
func (r Result) Failures() []listing.Record {
	var out []listing.Record
	for _, rec := range r.Records {
		if rec.Failed() {
			out = append(out, rec)
		}
	}
	return out
}

// Processor turns one task into one record.
type Processor struct {
	scraper Scraper
	oracle  Extractor
}

// NewProcessor creates a processor.
func NewProcessor(scraper Scraper, ext Extractor) *Processor {
	return &Processor{scraper: scraper, oracle: ext}
}

// Process scrapes the task's page and, when any markup was collected,
// extracts the listing from it. Failures are recorded on the returned
// record, never returned.
func (p *Processor) Process(ctx context.Context, task listing.Task) listing.Record {
	start := time.Now()
	rec := listing.Record{URL: task.URL}

	out := p.scraper.Run(ctx, task.URL)
	switch {
	case out.Failure != nil:
		rec.Failure = &listing.Failure{Kind: out.Failure.Kind, Message: "Scraping failed: " + out.Failure.Message}
	case !out.Sections.Any():
		logger.WarnContext(ctx, "no markup collected, skipping oracle", "url", task.URL)
		rec.Failure = listing.Fail(listing.FailureNoContent, msgNoSections)
	default:
		ex := p.oracle.Extract(ctx, out.Sections.Combined(), task.URL)
		if ex.Failure != nil {
			rec.Failure = ex.Failure
		} else {
			rec.Apply(ex.Fields)
		}
	}

	rec.ProcessingTimeSeconds = seconds(time.Since(start))

	if rec.Failure == nil && !rec.HasCoreFields() {
		rec.Failure = listing.Fail(listing.FailureIncomplete, msgIncomplete)
	}
	return rec
}

// seconds rounds d to hundredths of a second.
func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// ProgressFunc is called after each record, with the number done so far.
type ProgressFunc func(done, total int, rec listing.Record)

// Orchestrator runs batches.
type Orchestrator struct {
	cfg  Config
	proc *Processor

	// OnResult, if set, is called serially as records complete.
	OnResult ProgressFunc
}

// New creates an orchestrator.
func New(cfg Config, proc *Processor) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{cfg: cfg, proc: proc}
}

// Run processes every task. The returned result has exactly one record per
// task; tasks never dispatched because ctx ended are recorded as failures.
func (o *Orchestrator) Run(ctx context.Context, tasks []listing.Task, invalid []string) Result {
	res := Result{
		ID:      uuid.NewString(),
		Invalid: invalid,
		Started: time.Now(),
		Records: make([]listing.Record, 0, len(tasks)),
	}
	log := logger.With("batch", res.ID)
	log.Info("starting batch", "tasks", len(tasks), "invalid", len(invalid), "workers", o.cfg.Workers)

	var limiter *rate.Limiter
	if o.cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.cfg.Rate), 1)
	}

	var mu sync.Mutex
	record := func(rec listing.Record) {
		mu.Lock()
		defer mu.Unlock()
		res.Records = append(res.Records, rec)
		if o.OnResult != nil {
			o.OnResult(len(res.Records), len(tasks), rec)
		}
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)

	for _, task := range tasks {
		if err := dispatchable(ctx, limiter); err != nil {
			log.Warn("task not dispatched", "url", task.URL, "error", err)
			record(listing.Record{
				URL:     task.URL,
				Failure: listing.Fail(listing.FailureSessionRuntime, "Scraping failed: Unexpected scraping error: %v", err),
			})
			continue
		}

		g.Go(func() error {
			start := time.Now()
			defer func() {
				if v := recover(); v != nil {
					log.Error("critical error processing task", "url", task.URL, "panic", v)
					record(listing.Record{
						URL:                   task.URL,
						ProcessingTimeSeconds: seconds(time.Since(start)),
						Failure:               listing.Fail(listing.FailureCriticalProcessing, "Critical processing error: %v", v),
					})
				}
			}()

			rec := o.proc.Process(ctx, task)
			if rec.Failed() {
				log.Warn("task failed", "url", task.URL, "kind", rec.Failure.Kind, "error", rec.Failure.Message)
			} else {
				log.Info("task succeeded", "url", task.URL, "seconds", rec.ProcessingTimeSeconds)
			}
			record(rec)
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = time.Since(res.Started)
	log.Info("batch complete",
		"records", len(res.Records),
		"succeeded", len(res.Successes()),
		"failed", len(res.Failures()),
		"duration", res.Duration.Round(time.Millisecond))
	return res
}

// dispatchable waits for the rate limiter and reports whether ctx still
// allows new work.
func dispatchable(ctx context.Context, limiter *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	return nil
}
