package visum

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// planBatches splits records into contiguous runs of at most size, preserving
// input order across batch boundaries. Every record lands in exactly one
// batch; only the final batch may be short.
func planBatches(records []*Record, size int) [][]*Record {
	if len(records) == 0 {
		return nil
	}

	batches := make([][]*Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end])
	}

	return batches
}

// createInBatches dispatches one create request per planned batch and
// reassembles the responses in plan order, so the returned records line up
// with the input regardless of which response arrived first.
//
// Batches already in flight are not cancelled when a sibling fails: the
// service applies whatever it received, and the first failure comes back as a
// *BatchError identifying the batch. Nothing is rolled back.
func (c *Client) createInBatches(ctx context.Context, records []*Record) ([]*Record, error) {
	batches := planBatches(records, c.maxBatchSize)
	results := make([][]*Record, len(batches))

	var group errgroup.Group
	if c.maxConcurrentBatches > 0 {
		group.SetLimit(c.maxConcurrentBatches)
	}

	for i, batch := range batches {
		group.Go(func() error {
			created, err := c.createBatch(ctx, i, batch)
			if err != nil {
				return &BatchError{BatchIndex: i, BatchCount: len(batches), Err: err}
			}
			results[i] = created
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	merged := make([]*Record, 0, len(records))
	for _, created := range results {
		merged = append(merged, created...)
	}

	return merged, nil
}

// createBatch posts one batch of already-validated records.
func (c *Client) createBatch(ctx context.Context, index int, batch []*Record) ([]*Record, error) {
	payload := recordsEnvelope{Records: formatRecords(batch, wireCreate)}

	var out recordsEnvelope
	if err := c.do(ctx, http.MethodPost, recordsPath, nil, payload, &out); err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "Created record batch",
		"batch", index,
		"count", len(out.Records),
	)

	return out.Records, nil
}
