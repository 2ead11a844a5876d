package apontamento

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// ErrSkipped marks batch items that were never sent.
var ErrSkipped = errors.New("apontamento skipped")

// BatchOptions control ApontarLote.
type BatchOptions struct {
	// Delay is the minimum spacing between the start of consecutive requests.
	Delay time.Duration

	// StopOnError skips the remaining serials after the first failure.
	StopOnError bool
}

// BatchResult is the outcome for one serial of a batch.
type BatchResult struct {
	Serial   string            `json:"serial"`
	Response protocol.Response `json:"response,omitempty"`
	Err      error             `json:"-"`
	Skipped  bool              `json:"skipped,omitempty"`
}

// OK reports whether the serial was accepted.
func (r BatchResult) OK() bool {
	return r.Err == nil && !r.Skipped
}

// ApontarLote checks in each serial with its own request, using the
// configured batch options.
func (s *Service) ApontarLote(ctx context.Context, seriais []string) []BatchResult {
	return s.ApontarLoteWith(ctx, seriais, s.opts.Batch)
}

// ApontarLoteWith checks in each serial with its own request. The result has
// one entry per input serial, in input order. A failed serial does not stop
// the others unless opts.StopOnError is set; skipped serials carry ErrSkipped.
func (s *Service) ApontarLoteWith(ctx context.Context, seriais []string, opts BatchOptions) []BatchResult {
	results := make([]BatchResult, len(seriais))
	for i, serial := range seriais {
		results[i].Serial = serial
	}

	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i, serial := range seriais {
		if err := limiter.Wait(ctx); err != nil {
			skipFrom(results, i, fmt.Errorf("%w: %w", ErrSkipped, err))
			break
		}

		resp, err := s.ApontarSerial(ctx, serial)
		results[i].Response = resp
		results[i].Err = err
		if err != nil && resp == nil {
			var rerr *protocol.ResponseError
			if errors.As(err, &rerr) {
				results[i].Response = rerr.Raw
			}
		}

		if opts.StopOnError && s.failed(results[i]) {
			skipFrom(results, i+1, ErrSkipped)
			break
		}
	}

	ok, failed, skipped := Summarize(results)
	s.logInfo("apontamento batch finished", "total", len(results), "ok", ok, "failed", failed, "skipped", skipped)
	return results
}

// failed reports a batch failure. Outside strict mode a business rejection
// still counts, so StopOnError behaves the same either way.
func (s *Service) failed(r BatchResult) bool {
	if r.Err != nil {
		return true
	}
	return s.opts.Rules.Check(protocol.EndpointSetupApontamento, r.Response) != nil
}

func skipFrom(results []BatchResult, from int, err error) {
	for i := from; i < len(results); i++ {
		results[i].Err = err
		results[i].Skipped = true
	}
}

// Summarize counts accepted, failed and skipped results.
func Summarize(results []BatchResult) (ok, failed, skipped int) {
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.Err != nil:
			failed++
		default:
			ok++
		}
	}
	return ok, failed, skipped
}
