package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-trustgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBotUsername_Configured(t *testing.T) {
	c := NewClient("http://unused", "", "@jobs_bot")

	name, err := c.BotUsername(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "jobs_bot", name)
}

func TestBotUsername_GetMeCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/bot123:abc/getMe", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"username":"jobs_bot"}}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL+"/", "123:abc", "")

	for i := 0; i < 3; i++ {
		name, err := c.BotUsername(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "jobs_bot", name)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestBotUsername_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bad", "").BotUsername(context.Background())

	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestBotUsername_NothingConfigured(t *testing.T) {
	_, err := NewClient("http://unused", "", "").BotUsername(context.Background())

	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
