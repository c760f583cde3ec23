package mailprobe

import (
	"context"
	"sync"
	"time"

	"github.com/studiocloud/mailprobe/internal/provider"
	"github.com/studiocloud/mailprobe/types"
)

// Batch scheduler tuning. Batches are deliberately small so that bulk
// runs don't trip anti-abuse limits on destination exchangers.
const (
	BatchSize  = 5
	BatchDelay = 2 * time.Second
	MaxRetries = 3
)

// ValidateMany validates addresses in batches of BatchSize with
// BatchDelay between batches. The result slice matches the input order
// and length; one item's failure never aborts the batch. When the
// context is cancelled, no further batch is scheduled and the remaining
// items get placeholder results.
func (v *Validator) ValidateMany(ctx context.Context, emails []string) []types.ValidationResult {
	results := make([]types.ValidationResult, len(emails))
	v.runBatches(ctx, emails, results, nil)
	return results
}

// ValidateStream validates addresses like ValidateMany but emits a
// progress event after every batch and a final complete event. The
// returned channel is closed once the stream ends. Cancellation stops
// scheduling at the next batch boundary and closes the stream; the
// closing error event is sent without blocking, so it is delivered only
// when the consumer is receiving at that moment.
func (v *Validator) ValidateStream(ctx context.Context, emails []string) <-chan types.ProgressEvent {
	events := make(chan types.ProgressEvent)

	go func() {
		defer close(events)

		results := make([]types.ValidationResult, len(emails))
		total := len(emails)

		done := v.runBatches(ctx, emails, results, func(processed int, batch []types.ValidationResult) bool {
			ev := types.ProgressEvent{
				Type:     types.EventProgress,
				Progress: float64(processed) / float64(total),
				Results:  batch,
			}
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})

		if !done {
			select {
			case events <- types.ProgressEvent{Type: types.EventError, Error: ReasonCancelled}:
			default:
			}
			return
		}

		select {
		case events <- types.ProgressEvent{Type: types.EventComplete, Results: results}:
		case <-ctx.Done():
		}
	}()

	return events
}

// runBatches fans the input out in BatchSize groups, filling results in
// input order. onBatch, when set, is called after each batch with the
// running processed count; returning false stops the run. Returns true
// when every item was processed.
func (v *Validator) runBatches(ctx context.Context, emails []string, results []types.ValidationResult, onBatch func(processed int, batch []types.ValidationResult) bool) bool {
	for start := 0; start < len(emails); start += BatchSize {
		if ctx.Err() != nil {
			v.fillCancelled(emails, results, start)
			return false
		}

		end := start + BatchSize
		if end > len(emails) {
			end = len(emails)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = v.validateWithRetry(ctx, emails[i])
			}(i)
		}
		wg.Wait()

		if onBatch != nil {
			batch := make([]types.ValidationResult, end-start)
			copy(batch, results[start:end])
			if !onBatch(end, batch) {
				v.fillCancelled(emails, results, end)
				return false
			}
		}

		if end < len(emails) {
			if err := sleepCtx(ctx, BatchDelay); err != nil {
				v.fillCancelled(emails, results, end)
				return false
			}
		}
	}
	return true
}

// validateWithRetry gives one item a retry budget with linearly growing
// delay. An item that still fails gets a placeholder result with every
// check false.
func (v *Validator) validateWithRetry(ctx context.Context, email string) types.ValidationResult {
	for attempt := 0; attempt < MaxRetries; attempt++ {
		res, err := v.Validate(ctx, email)
		if err == nil {
			return res
		}
		if ctx.Err() != nil {
			break
		}
		if sleepCtx(ctx, provider.RetryDelay*time.Duration(attempt+1)) != nil {
			break
		}
	}
	return placeholderResult(email)
}

func (v *Validator) fillCancelled(emails []string, results []types.ValidationResult, from int) {
	for i := from; i < len(emails); i++ {
		if results[i].Email == "" {
			results[i] = placeholderResult(emails[i])
		}
	}
}

func placeholderResult(email string) types.ValidationResult {
	return types.ValidationResult{
		Email:  email,
		Valid:  false,
		Reason: ReasonCancelled,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
