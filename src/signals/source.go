// Package signals adapts followed-wallet trade feeds into ordered
// model.Signal values. Source-specific shapes never leave this package.
package signals

import (
	"context"
	"sort"

	"ltexecutor/src/model"
)

// Source lists the signals of a followed wallet strictly after a watermark,
// oldest first by (timestamp, id), at most limit per call. Calling again
// with the last returned signal as watermark yields the next page.
type Source interface {
	ListSignals(ctx context.Context, wallet string, since model.Watermark, limit int) ([]model.Signal, error)
}

// Sort orders signals by (timestamp, id).
func Sort(sigs []model.Signal) {
	sort.SliceStable(sigs, func(i, j int) bool {
		if !sigs[i].Timestamp.Equal(sigs[j].Timestamp) {
			return sigs[i].Timestamp.Before(sigs[j].Timestamp)
		}
		return model.CompareSignalIDs(sigs[i].ID, sigs[j].ID) < 0
	})
}

// after keeps the signals strictly after since, sorted, deduplicated by id
// and truncated to limit.
func after(sigs []model.Signal, since model.Watermark, limit int) []model.Signal {
	Sort(sigs)
	seen := make(map[string]struct{}, len(sigs))
	out := sigs[:0]
	for _, s := range sigs {
		if !since.After(s) {
			continue
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
