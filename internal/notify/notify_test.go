package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxibaudrix/Kiui/internal/logger"
)

type fakeBotAPI struct {
	mu   sync.Mutex
	text []string
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Kiui","username":"kiui_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			f.mu.Lock()
			f.text = append(f.text, r.PostForm.Get("text"))
			f.mu.Unlock()
			assert.Equal(t, "4242", r.PostForm.Get("chat_id"))
			w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":4242,"type":"private"}}}`))
		default:
			w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}
}

func TestTelegramNotifier(t *testing.T) {
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	n, err := newTelegramNotifier("123:abc", srv.URL+"/bot%s/%s", 4242, logger.Nop())
	require.NoError(t, err)

	err = n.NotifyFailure(context.Background(), Failure{
		Kind:      "parse",
		Stage:     "parse_validate",
		UserID:    "user-1",
		RequestID: "req-9",
	})
	require.NoError(t, err)

	require.Len(t, fake.text, 1)
	msg := fake.text[0]
	assert.Contains(t, msg, "parse at parse_validate")
	assert.Contains(t, msg, logger.HashID("user-1"))
	assert.Contains(t, msg, "request req-9")
	assert.NotContains(t, msg, "user-1")
}

func TestTelegramNotifierRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := newTelegramNotifier("bad", srv.URL+"/bot%s/%s", 1, logger.Nop())
	assert.Error(t, err)
}

func TestNotifyFailureCancelled(t *testing.T) {
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	n, err := newTelegramNotifier("123:abc", srv.URL+"/bot%s/%s", 4242, logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.NotifyFailure(ctx, Failure{Kind: "transient"}), context.Canceled)
	assert.Empty(t, fake.text)
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.NotifyFailure(context.Background(), Failure{}))
}
