package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"ltexecutor/src/model"
)

type ordersPage struct {
	Orders     []map[string]interface{} `json:"orders"`
	Results    []map[string]interface{} `json:"results"`
	Pagination struct {
		HasMore bool `json:"has_more"`
	} `json:"pagination"`
}

func (p ordersPage) rows() []map[string]interface{} {
	if len(p.Orders) > 0 {
		return p.Orders
	}
	return p.Results
}

// HTTPSource pulls signals from the signal API. The API filters by start
// time only, so results are re-filtered against the full watermark.
type HTTPSource struct {
	http     *resty.Client
	pageSize int
	maxPages int
}

func NewHTTPSource(cfg Config) *HTTPSource {
	if cfg.APIBaseURL == "" {
		logger.Warn("No signal API base URL provided")
	}
	client := resty.New().
		SetBaseURL(cfg.APIBaseURL).
		SetTimeout(cfg.APITimeout).
		SetRetryCount(2)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	pageSize := cfg.APIPageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	maxPages := cfg.APIMaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	return &HTTPSource{http: client, pageSize: pageSize, maxPages: maxPages}
}

func (s *HTTPSource) ListSignals(ctx context.Context, wallet string, since model.Watermark, limit int) ([]model.Signal, error) {
	var sigs []model.Signal

	for page := 0; page < s.maxPages; page++ {
		req := s.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"user":   wallet,
				"limit":  strconv.Itoa(s.pageSize),
				"offset": strconv.Itoa(page * s.pageSize),
			})
		if !since.Time.IsZero() {
			req.SetQueryParam("start_time", strconv.FormatInt(since.Time.Unix(), 10))
		}

		resp, err := req.Get("/polymarket/orders")
		if err != nil {
			return nil, fmt.Errorf("signal api: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("signal api: status %d", resp.StatusCode())
		}

		var body ordersPage
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return nil, fmt.Errorf("signal api: decode: %w", err)
		}

		for _, raw := range body.rows() {
			sig, err := Normalize(raw, wallet)
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"source": "http",
					"wallet": wallet,
				}).WithError(err).Warn("Dropping unordered signal")
				continue
			}
			sigs = append(sigs, sig)
		}

		if !body.Pagination.HasMore || len(body.rows()) == 0 {
			break
		}
	}

	return after(sigs, since, limit), nil
}
