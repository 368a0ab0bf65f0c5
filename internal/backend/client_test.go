package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/messaging-gateway/internal/models"
)

func TestPendingMessagesParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "t1", r.URL.Query().Get("tenantId"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"messages":[{"id":"m1","phoneNumber":"+15550009999","content":"hi"}],"count":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil)
	resp, err := c.PendingMessages(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Messages, 1)
	require.Equal(t, "m1", resp.Messages[0].ID)
}

func TestMarkSentPostsAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil)
	err := c.MarkSent(context.Background(), models.MarkSentRequest{IDs: []string{"m1"}, Status: models.AckStatusSent, ProviderMessageID: "p1-1"})
	require.NoError(t, err)
}

func TestMarkSentReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil)
	err := c.MarkSent(context.Background(), models.MarkSentRequest{IDs: []string{"m1"}, Status: models.AckStatusFailed})
	require.Error(t, err)
}
