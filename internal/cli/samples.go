package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rileyhilliard/proxymon/internal/config"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/store"
)

// buildSampleQuery turns the samples flags into a store query. An explicit
// --start wins over --since.
func buildSampleQuery(now time.Time, ids []int64, since time.Duration, start, end string, limit int) (store.Query, error) {
	q := store.Query{ProxyIDs: ids, Newest: true}
	if limit < 0 {
		return q, errors.New(errors.ErrConfig, "--limit can't be negative", "")
	}
	q.Limit = limit

	var err error
	if start != "" {
		if q.Start, err = parseTime("--start", start); err != nil {
			return q, err
		}
	} else if since > 0 {
		q.Start = now.Add(-since)
	}
	if end != "" {
		if q.End, err = parseTime("--end", end); err != nil {
			return q, err
		}
	}
	if !q.End.IsZero() && q.End.Before(q.Start) {
		return q, errors.New(errors.ErrConfig, "--end is before the range start", "")
	}
	return q, nil
}

func parseTime(flag, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid %s time", value, flag),
			"Use RFC3339, like 2026-01-02T15:04:05Z")
	}
	return t, nil
}

func samplesCommand(ctx context.Context, q store.Query, trend bool, out io.Writer) error {
	cfg, err := loadConfig(config.StoreOnly())
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	return runSamples(ctx, st, cfg, q, trend, out)
}

func runSamples(ctx context.Context, st *store.Store, cfg *config.Config, q store.Query, trend bool, out io.Writer) error {
	names := make(map[int64]string, len(cfg.Fleet))
	for _, p := range cfg.Fleet {
		names[p.ID] = p.Name
	}

	if trend {
		end := q.End
		if end.IsZero() {
			end = time.Now()
		}
		series, err := st.Series(ctx, q.ProxyIDs, q.Start, end)
		if err != nil {
			return err
		}
		if machineMode {
			return WriteJSONSuccess(out, series)
		}
		fmt.Fprint(out, renderTrend(series, names, cfg.Metrics.Thresholds))
		return nil
	}

	samples, err := st.Samples(ctx, q)
	if err != nil {
		return err
	}
	if machineMode {
		return WriteJSONSuccess(out, samples)
	}
	fmt.Fprint(out, renderSamples(samples, names, cfg.Metrics.Thresholds))
	return nil
}
