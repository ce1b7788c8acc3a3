package notification

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	attempts []string
	failFor  map[string]error
}

func (s *recordingSender) Name() string { return "test" }

func (s *recordingSender) Send(_ context.Context, recipient string, _ Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, recipient)
	return s.failFor[recipient]
}

func (s *recordingSender) Attempts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.attempts...)
	sort.Strings(out)
	return out
}

type failingSource struct{}

func (failingSource) RecipientIDs(context.Context) ([]string, error) {
	return nil, errors.New("db down")
}

func TestNotifier_FailureDoesNotStopOthers(t *testing.T) {
	sender := &recordingSender{failFor: map[string]error{"2": errors.New("blocked by user")}}
	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	notifier := NewNotifier(NotifierConfig{MaxConcurrent: 1}, sender, StaticRecipients{"1", "2", "3"}, m)

	result, err := notifier.Broadcast(context.Background(), ContractDetectedMessage("SP1.foo-stxcity", "0x01", "http://x"))
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, sender.Attempts())
	assert.Equal(t, 3, result.Recipients)
	assert.Equal(t, 2, result.Delivered)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "2", result.Failed[0].Recipient)
	assert.NotEmpty(t, result.ID)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsSentTotal.WithLabelValues("test", KindContractDetected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailuresTotal.WithLabelValues("test", KindContractDetected)))

	stats := notifier.GetStats()
	assert.Equal(t, uint64(1), stats.TotalBroadcasts)
	assert.Equal(t, uint64(2), stats.TotalNotificationsSent)
	assert.Equal(t, uint64(1), stats.TotalNotificationsFailed)
	require.NotNil(t, stats.LastError)
	assert.Contains(t, *stats.LastError, "blocked by user")
}

func TestNotifier_ConcurrentDelivery(t *testing.T) {
	sender := &recordingSender{}
	recipients := StaticRecipients{}
	for _, id := range []string{"10", "11", "12", "13", "14", "15", "16", "17"} {
		recipients = append(recipients, id)
	}
	notifier := NewNotifier(NotifierConfig{MaxConcurrent: 3}, sender, recipients, nil)

	result, err := notifier.Broadcast(context.Background(), TextMessage("hello"))
	require.NoError(t, err)
	assert.Equal(t, 8, result.Delivered)
	assert.Len(t, sender.Attempts(), 8)
}

func TestNotifier_RecipientSourceError(t *testing.T) {
	notifier := NewNotifier(NotifierConfig{}, &recordingSender{}, failingSource{}, nil)

	_, err := notifier.Broadcast(context.Background(), TextMessage("hello"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestNotifier_NoRecipients(t *testing.T) {
	sender := &recordingSender{}
	notifier := NewNotifier(NotifierConfig{}, sender, StaticRecipients{}, nil)

	result, err := notifier.Broadcast(context.Background(), TextMessage("hello"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Recipients)
	assert.Empty(t, sender.Attempts())
}

func TestMessageFormats(t *testing.T) {
	detected := ContractDetectedMessage("SP1.my_token-stxcity", "0xabc", "https://api/extended/v1/tx/0xabc")
	assert.Equal(t, KindContractDetected, detected.Kind)
	assert.Equal(t, tgbotapi.ModeMarkdown, detected.ParseMode)
	assert.True(t, strings.HasPrefix(detected.Text, "🚨 *New Smart Contract Detected!* 🚨"))
	assert.Contains(t, detected.Text, `🔗 Contract ID: SP1.my\_token-stxcity`)
	assert.Contains(t, detected.Text, "🆔 Transaction ID: 0xabc")
	assert.Contains(t, detected.Text, "[Track Transaction](https://api/extended/v1/tx/0xabc)")

	confirmed := ContractConfirmedMessage("SP1.foo-stxcity", "0xabc", "https://x")
	assert.Equal(t, KindContractConfirmed, confirmed.Kind)
	assert.True(t, strings.HasPrefix(confirmed.Text, "✅ *Transaction Confirmed!* ✅"))
	assert.Contains(t, confirmed.Text, "🎉 Status: *Success*")
}

type fakeTelegram struct {
	mu       sync.Mutex
	requests []url.Values
	fail     bool
}

func (f *fakeTelegram) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			f.mu.Lock()
			f.requests = append(f.requests, r.PostForm)
			fail := f.fail
			f.mu.Unlock()
			if fail {
				w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
				return
			}
			w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestBot(t *testing.T, fake *fakeTelegram) *tgbotapi.BotAPI {
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	bot, err := tgbotapi.NewBotAPIWithClient("token", server.URL+"/bot%s/%s", server.Client())
	require.NoError(t, err)
	return bot
}

func TestTelegramSender_Send(t *testing.T) {
	fake := &fakeTelegram{}
	sender := NewTelegramSender(newTestBot(t, fake))

	require.NoError(t, sender.Send(context.Background(), "12345", ContractDetectedMessage("SP1.a-stxcity", "0x01", "http://x")))
	require.NoError(t, sender.Send(context.Background(), "@stxcity_alerts", TextMessage("hi")))

	require.Len(t, fake.requests, 2)
	assert.Equal(t, "12345", fake.requests[0].Get("chat_id"))
	assert.Equal(t, "Markdown", fake.requests[0].Get("parse_mode"))
	assert.Equal(t, "@stxcity_alerts", fake.requests[1].Get("chat_id"))
}

func TestTelegramSender_Errors(t *testing.T) {
	fake := &fakeTelegram{fail: true}
	sender := NewTelegramSender(newTestBot(t, fake))

	err := sender.Send(context.Background(), "12345", TextMessage("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")

	err = sender.Send(context.Background(), "not-a-chat", TextMessage("hi"))
	require.Error(t, err)
	assert.Len(t, fake.requests, 1)
}
