// Package pipeline implements per-request dispatch: a pool of consumer
// goroutines drain a Streaming Response's chunk ring while one awaiter
// blocks on transport completion, then the results are filtered,
// graded, and assembled into a RequestResult.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/llmbench/scale/internal/framer"
	"github.com/llmbench/scale/internal/ring"
	"github.com/llmbench/scale/internal/stream"
)

// GradeFunc grades a request's canonical response text against
// whatever row it was built from. Grading logic (label lookup,
// string normalization) lives in internal/grading; Dispatch only
// needs the already-bound predicate.
type GradeFunc func(text string) bool

// Awaiter blocks until the transport side of one request has finished
// (successfully or not) and returns the latencies it recorded. It is
// satisfied by internal/transport's request handle.
type Awaiter interface {
	Await(ctx context.Context) (stream.LatencyMetrics, error)
}

// Dispatch runs one request's consumer fan-out to completion and
// returns its RequestResult. A nil result with a nil error means the
// request produced no usable completion event — a dropped request,
// recorded in diagnostics here rather than propagated as a failure.
func Dispatch(ctx context.Context, params RequestParams, resp *stream.Response, awaiter Awaiter, numWorkers int, grade GradeFunc, logger log.Logger) (*RequestResult, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	requestID := uuid.NewString()
	logger = log.With(logger, "request_id", requestID)

	var mu sync.Mutex
	var results []framer.CompletionResult

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for {
				event, err := resp.Fetch()
				if err != nil {
					if errors.Is(err, ring.ErrEmpty) {
						return
					}
					continue
				}

				cr, perr := framer.Parse(event)
				if perr != nil {
					level.Debug(logger).Log("msg", "dropping unparseable chunk event", "err", perr)
					continue
				}
				if !cr.HasText() {
					continue
				}

				mu.Lock()
				results = append(results, cr)
				mu.Unlock()
			}
		}()
	}

	lat, err := awaiter.Await(ctx)
	wg.Wait()
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		level.Debug(logger).Log("msg", "request produced no usable completion events")
		return nil, nil
	}

	text := ""
	if len(results[0].Choices) > 0 {
		text = results[0].Choices[0].Text
	}

	return &RequestResult{
		RequestID:        requestID,
		Params:           params,
		CompletionResult: results,
		GuessedCorrectly: grade(text),
		Latencies:        lat,
	}, nil
}
