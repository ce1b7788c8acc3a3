package stacks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/metrics"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/models"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(retries int) (*Fetcher, *[]time.Duration) {
	f := NewFetcher(FetcherConfig{Retries: retries, InitialDelay: 10 * time.Millisecond}, nil, nil)
	var delays []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return f, &delays
}

func TestFetcher_SucceedsAfterFailures(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"tx_id":"0xabc","tx_status":"success"}`))
	}))
	defer server.Close()

	fetcher, delays := newTestFetcher(2)

	var tx models.Transaction
	err := fetcher.GetJSON(context.Background(), "transaction", server.URL, &tx)
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
	assert.Equal(t, "0xabc", tx.TxID)
	assert.Equal(t, models.TxStatusSuccess, tx.TxStatus)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *delays)
}

func TestFetcher_FailsAfterExhaustingRetries(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(2)

	var out map[string]interface{}
	err := fetcher.GetJSON(context.Background(), "mempool", server.URL, &out)
	require.Error(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
	assert.Equal(t, utils.ErrCodeExternal, utils.ErrorCode(err))
	assert.Contains(t, err.Error(), "500")
}

func TestFetcher_TransportErrorIsRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	fetcher, delays := newTestFetcher(1)

	var out map[string]interface{}
	err := fetcher.GetJSON(context.Background(), "mempool", url, &out)
	require.Error(t, err)
	assert.Len(t, *delays, 1)
}

func TestFetcher_StopsOnCancel(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{Retries: 5, InitialDelay: time.Hour}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out map[string]interface{}
	err := fetcher.GetJSON(ctx, "mempool", server.URL, &out)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestFetcher_RecordsMetrics(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	fetcher := NewFetcher(FetcherConfig{Retries: 1, InitialDelay: time.Millisecond}, nil, m)

	var out map[string]interface{}
	require.NoError(t, fetcher.GetJSON(context.Background(), "mempool", server.URL, &out))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRetriesTotal.WithLabelValues("mempool")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("mempool", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("mempool", "200")))
}

func TestClient_GetMempool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extended/v1/tx/mempool", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "true", r.URL.Query().Get("unanchored"))
		assert.Equal(t, "age", r.URL.Query().Get("order_by"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		w.Write([]byte(`{"limit":20,"offset":0,"total":2,"results":[
			{"tx_id":"0x01","tx_type":"smart_contract","smart_contract":{"contract_id":"SP1.foo-stxcity"}},
			{"tx_id":"0x02","tx_type":"token_transfer"}
		]}`))
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(0)
	client := NewClient(server.URL+"/", "", fetcher)

	txs, err := client.GetMempool(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].IsContractDeploy())
	assert.Equal(t, "SP1.foo-stxcity", txs[0].ContractID())
	assert.False(t, txs[1].IsContractDeploy())
}

func TestClient_GetTransaction(t *testing.T) {
	txID := "0x" + strings.Repeat("fe", 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extended/v1/tx/"+txID, r.URL.Path)
		w.Write([]byte(`{"tx_status":"pending","smart_contract":{"contract_id":"SP1.foo-stxcity"}}`))
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(0)
	client := NewClient(server.URL, "", fetcher)

	// Ids are normalized before the request
	tx, err := client.GetTransaction(context.Background(), strings.ToUpper(txID[2:]))
	require.NoError(t, err)
	assert.Equal(t, txID, tx.TxID)
	assert.Equal(t, models.TxStatusPending, tx.TxStatus)

	_, err = client.GetTransaction(context.Background(), "")
	assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))

	_, err = client.GetTransaction(context.Background(), "0xfeed")
	assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))
}

func TestClient_TxURL(t *testing.T) {
	client := NewClient("", "", nil)
	assert.Equal(t, DefaultNodeURL+"/extended/v1/tx/0x01", client.TxURL("0x01"))

	client = NewClient("", "https://explorer.hiro.so", nil)
	assert.Equal(t, "https://explorer.hiro.so/txid/0x01", client.TxURL("0x01"))
}
