package signals

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"ltexecutor/src/externalmodel"
	"ltexecutor/src/model"
)

type tradeFinder interface {
	FindAfter(ctx context.Context, wallet string, afterTime time.Time, afterID string, limit int) ([]externalmodel.SourceTrade, error)
}

// DBSource reads signals from the ingestion table on the read-only database.
type DBSource struct {
	trades tradeFinder
}

func NewDBSource(trades tradeFinder) *DBSource {
	return &DBSource{trades: trades}
}

func (s *DBSource) ListSignals(ctx context.Context, wallet string, since model.Watermark, limit int) ([]model.Signal, error) {
	rows, err := s.trades.FindAfter(ctx, wallet, since.Time, since.SignalID, limit)
	if err != nil {
		return nil, err
	}

	sigs := make([]model.Signal, 0, len(rows))
	for _, row := range rows {
		sig, err := FromSourceTrade(row)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"source":   "db",
				"wallet":   wallet,
				"trade_id": row.ID,
			}).WithError(err).Warn("Dropping unordered source trade")
			continue
		}
		sigs = append(sigs, sig)
	}
	return after(sigs, since, limit), nil
}
