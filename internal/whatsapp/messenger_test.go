package whatsapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMessenger(automate func(ctx context.Context, phone, text string) error) *Messenger {
	m := New(Config{RatePerMinute: 6000, SendTimeout: time.Second}, nil)
	m.automate = automate
	return m
}

func TestSendMessageSuccess(t *testing.T) {
	t.Parallel()

	var gotPhone, gotText string
	m := newTestMessenger(func(_ context.Context, phone, text string) error {
		gotPhone, gotText = phone, text
		return nil
	})

	result, err := m.SendMessage(context.Background(), "+91 12345-67890", "Shipment update")
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Equal(t, "911234567890", gotPhone)
	require.Equal(t, "Shipment update", gotText)
}

func TestSendMessageInvalidPhoneIsRejection(t *testing.T) {
	t.Parallel()

	called := false
	m := newTestMessenger(func(context.Context, string, string) error {
		called = true
		return nil
	})

	result, err := m.SendMessage(context.Background(), "12345", "hi")
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Contains(t, result.Reason, "invalid phone number")
	require.False(t, called)
}

func TestSendMessageUnauthenticatedIsRejection(t *testing.T) {
	t.Parallel()

	m := newTestMessenger(func(context.Context, string, string) error {
		return errNotAuthenticated
	})

	result, err := m.SendMessage(context.Background(), "+911234567890", "hi")
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Equal(t, "whatsapp session not authenticated", result.Reason)
}

func TestSendMessageTransportErrorPropagates(t *testing.T) {
	t.Parallel()

	m := newTestMessenger(func(context.Context, string, string) error {
		return errors.New("tab crashed")
	})

	_, err := m.SendMessage(context.Background(), "+911234567890", "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "whatsapp send")
	require.Contains(t, err.Error(), "tab crashed")
}

func TestSendMessageRateLimited(t *testing.T) {
	t.Parallel()

	// one message per minute with no burst headroom left after the first
	// send; the second must block until the context gives up.
	m := New(Config{RatePerMinute: 1, SendTimeout: time.Second}, nil)
	m.automate = func(context.Context, string, string) error { return nil }

	_, err := m.SendMessage(context.Background(), "+911234567890", "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.SendMessage(ctx, "+911234567890", "second")
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limit")
}

func TestSanitizePhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"+91 12345-67890", "911234567890"},
		{"(0044) 7700 900123", "00447700900123"},
		{"no digits", ""},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, sanitizePhone(tc.in))
	}
}
