package steps

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// defaultFanout — сколько endpoint'ов одной задачи обрабатывается параллельно.
const defaultFanout = 4

// forEachEndpoint вызывает fn для каждого endpoint'а, не более limit
// одновременно. Первая ошибка отменяет оставшиеся вызовы.
func forEachEndpoint(ctx context.Context, endpoints []string, limit int, fn func(ctx context.Context, endpoint string) error) error {
	if limit <= 0 {
		limit = defaultFanout
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, ep := range endpoints {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, ep)
		})
	}
	return g.Wait()
}

// forEachEndpointAll — как forEachEndpoint, но не останавливается на
// ошибке: используется при откате, который должен дойти до всех.
func forEachEndpointAll(ctx context.Context, endpoints []string, limit int, fn func(ctx context.Context, endpoint string) error) []error {
	if limit <= 0 {
		limit = defaultFanout
	}

	errs := make([]error, len(endpoints))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, ep := range endpoints {
		g.Go(func() error {
			errs[i] = fn(ctx, ep)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
