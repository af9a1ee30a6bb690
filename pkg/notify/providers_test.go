package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/models"
)

func slackChannel(t *testing.T, apiURL string) *models.NotificationChannel {
	return &models.NotificationChannel{
		ID:      "ch-slack",
		Type:    models.ChannelSlack,
		Enabled: true,
		Config:  mustConfig(t, SlackConfig{Token: "xoxb-test", Channel: "C123", APIURL: apiURL}),
	}
}

func TestSlackSend(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "C123", r.Form.Get("channel"))
		assert.Contains(t, r.Form.Get("text"), "Error rate exceeded")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1"}`))
	}))
	defer srv.Close()

	result := NewSlack().Send(context.Background(), slackChannel(t, srv.URL+"/"), testPayload())
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempt)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSlackHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"2"}`))
	}))
	defer srv.Close()

	result := NewSlack().Send(context.Background(), slackChannel(t, srv.URL+"/"), testPayload())
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Attempt)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSlackRejectsIncompleteConfig(t *testing.T) {
	channel := &models.NotificationChannel{
		ID:     "ch-slack",
		Type:   models.ChannelSlack,
		Config: mustConfig(t, SlackConfig{Token: "xoxb-test"}),
	}
	result := NewSlack().Send(context.Background(), channel, testPayload())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "token and channel")
}

func TestPagerDutySend(t *testing.T) {
	var got pdEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	provider := NewPagerDuty()
	provider.endpoint = srv.URL

	channel := &models.NotificationChannel{
		ID:     "ch-pd",
		Type:   models.ChannelPagerDuty,
		Config: mustConfig(t, PagerDutyConfig{RoutingKey: "rk-1"}),
	}
	result := provider.Send(context.Background(), channel, testPayload())
	assert.True(t, result.Success)
	assert.Equal(t, http.StatusAccepted, result.HTTPStatus)
	assert.Equal(t, "rk-1", got.RoutingKey)
	assert.Equal(t, "trigger", got.EventAction)
	assert.Equal(t, "Error rate exceeded", got.Payload.Summary)
	assert.Equal(t, "warning", got.Payload.Severity)
}

func TestPagerDutyReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	provider := NewPagerDuty()
	provider.endpoint = srv.URL

	channel := &models.NotificationChannel{
		ID:     "ch-pd",
		Type:   models.ChannelPagerDuty,
		Config: mustConfig(t, PagerDutyConfig{RoutingKey: "rk-1"}),
	}
	result := provider.Send(context.Background(), channel, testPayload())
	assert.False(t, result.Success)
	assert.Equal(t, http.StatusBadRequest, result.HTTPStatus)
}

func TestEmailSend(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	provider := NewEmail()
	provider.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	channel := &models.NotificationChannel{
		ID:   "ch-mail",
		Type: models.ChannelEmail,
		Config: mustConfig(t, EmailConfig{
			Host: "smtp.example.com",
			Port: 2525,
			From: "alerts@example.com",
			To:   []string{"oncall@example.com"},
		}),
	}
	result := provider.Send(context.Background(), channel, testPayload())
	assert.True(t, result.Success)
	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Equal(t, "alerts@example.com", gotFrom)
	assert.Equal(t, []string{"oncall@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [WARNING] Error rate exceeded")
	assert.Contains(t, string(gotMsg), "error rate 0.42")
}

func TestEmailReportsSendFailure(t *testing.T) {
	provider := NewEmail()
	provider.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return errors.New("connection refused")
	}

	channel := &models.NotificationChannel{
		ID:   "ch-mail",
		Type: models.ChannelEmail,
		Config: mustConfig(t, EmailConfig{
			Host: "smtp.example.com",
			From: "alerts@example.com",
			To:   []string{"oncall@example.com"},
		}),
	}
	result := provider.Send(context.Background(), channel, testPayload())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "connection refused")
}
