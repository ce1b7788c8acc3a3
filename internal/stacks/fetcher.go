package stacks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/metrics"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultRetries      = 5
	DefaultInitialDelay = time.Second
	maxErrorBodyBytes   = 512
)

// FetcherConfig configures the retrying fetcher
type FetcherConfig struct {
	Retries      int
	InitialDelay time.Duration
	Timeout      time.Duration
}

// Fetcher performs JSON GET requests with exponential backoff.
// A request is attempted Retries+1 times; the delay doubles after each failure.
type Fetcher struct {
	config     FetcherConfig
	httpClient *http.Client
	metrics    *metrics.PrometheusMetrics
	tracer     trace.Tracer
	logger     *logrus.Entry
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a new fetcher. A nil client uses a client with config.Timeout.
func NewFetcher(config FetcherConfig, client *http.Client, m *metrics.PrometheusMetrics) *Fetcher {
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultInitialDelay
	}
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Fetcher{
		config:     config,
		httpClient: client,
		metrics:    m,
		tracer:     otel.Tracer("stacks-mempool-notifier/stacks"),
		logger:     utils.ComponentLogger("fetcher"),
		sleep:      sleepContext,
	}
}

// GetJSON fetches url and decodes the JSON body into out.
// endpoint is a low-cardinality label used for metrics and spans.
func (f *Fetcher) GetJSON(ctx context.Context, endpoint, url string, out interface{}) error {
	ctx, span := f.tracer.Start(ctx, "stacks.get "+endpoint,
		trace.WithAttributes(attribute.String("http.url", url)))
	defer span.End()

	delay := f.config.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= f.config.Retries; attempt++ {
		if attempt > 0 {
			f.logger.WithFields(logrus.Fields{
				"endpoint": endpoint,
				"attempt":  attempt + 1,
				"delay":    delay.String(),
				"error":    lastErr,
			}).Warn("Request failed, retrying")

			if f.metrics != nil {
				f.metrics.RecordAPIRetry(endpoint)
			}
			if err := f.sleep(ctx, delay); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "cancelled")
				return err
			}
			delay *= 2
		}

		lastErr = f.do(ctx, endpoint, url, out)
		if lastErr == nil {
			span.SetAttributes(attribute.Int("stacks.attempts", attempt+1))
			return nil
		}
		if ctx.Err() != nil {
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "cancelled")
			return ctx.Err()
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return utils.WrapAppError(utils.ErrCodeExternal,
		fmt.Sprintf("request to %s failed after %d attempts", endpoint, f.config.Retries+1), lastErr)
}

// do performs a single attempt
func (f *Fetcher) do(ctx context.Context, endpoint, url string, out interface{}) error {
	start := time.Now()
	status := "error"
	defer func() {
		if f.metrics != nil {
			f.metrics.RecordAPIRequest(endpoint, status, time.Since(start))
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeInternal, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeConnection, "request failed", err)
	}
	defer resp.Body.Close()

	status = fmt.Sprintf("%d", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return utils.NewAppError(utils.ErrCodeExternal,
			"unexpected response status",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		status = "decode_error"
		return utils.WrapAppError(utils.ErrCodeExternal, "failed to decode response", err)
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
