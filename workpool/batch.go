package workpool

import "context"

// ForEachBatch runs fn over items in batches of width: every item of a
// batch is issued concurrently on the pool, and the whole batch is waited
// for before the next one starts. Completion order within a batch is not
// defined; callers that care about order must sort afterwards.
//
// The returned slice has one entry per item; nil means success. When ctx
// is cancelled the in-flight batch still runs to completion and the
// remaining items are marked with the context error.
func ForEachBatch[T any](ctx context.Context, p *Pool, items []T, width int, fn func(ctx context.Context, idx int, item T) error) []error {
	if width <= 0 {
		width = 1
	}
	errs := make([]error, len(items))

	for start := 0; start < len(items); start += width {
		end := min(start+width, len(items))

		futs := make([]*Future, end-start)
		for i := start; i < end; i++ {
			idx, item := i, items[i]
			fut, err := p.Submit(ctx, func(ctx context.Context) (any, error) {
				return nil, fn(ctx, idx, item)
			})
			if err != nil {
				errs[i] = err
				continue
			}
			futs[i-start] = fut
		}
		for i, fut := range futs {
			if fut == nil {
				continue
			}
			if _, err := fut.Wait(context.Background()); err != nil {
				errs[start+i] = err
			}
		}

		if err := ctx.Err(); err != nil {
			for i := end; i < len(items); i++ {
				errs[i] = err
			}
			break
		}
	}
	return errs
}
