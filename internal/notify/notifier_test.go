package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/steward/internal/config"
)

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (s *fakeSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *fakeSender) Name() string { return s.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyEventFilter(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := New([]Sender{sender}, []string{"manual_exit"}, discard())

	require.NoError(t, n.Notify(context.Background(), "manual_exit", "allowed", "m"))
	require.NoError(t, n.Notify(context.Background(), "archive_complete", "filtered", "m"))
	require.Equal(t, []string{"allowed"}, sender.titles)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := New([]Sender{sender}, nil, discard())

	require.NoError(t, n.Notify(context.Background(), "anything", "title", "m"))
	require.Len(t, sender.titles, 1)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := New([]Sender{sender}, []string{"manual_exit"}, discard())

	require.NoError(t, n.NotifyAll(context.Background(), "urgent", "m"))
	require.Equal(t, []string{"urgent"}, sender.titles)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	broken := &fakeSender{name: "broken", err: errors.New("webhook dead")}
	working := &fakeSender{name: "working"}
	n := New([]Sender{broken, working}, nil, discard())

	err := n.Notify(context.Background(), "manual_exit", "title", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
	require.Len(t, working.titles, 1, "second sender still receives the message")
}

func TestFromConfigNoChannelsIsNoop(t *testing.T) {
	n := FromConfig(config.NotifyConfig{}, discard())
	require.NoError(t, n.Notify(context.Background(), "manual_exit", "title", "m"))
}

func TestTruncateRespectsLimitAndRuneBoundaries(t *testing.T) {
	short := "reconcile ok"
	require.Equal(t, short, truncate(short, telegramMaxLen))

	long := strings.Repeat("zombie BTC/USD: open in store, absent from broker\n", 200)
	out := truncate(long, telegramMaxLen)
	require.LessOrEqual(t, len(out), telegramMaxLen)
	require.True(t, strings.HasSuffix(out, "..."))

	// Cutting inside a multi-byte rune would produce invalid UTF-8, which
	// the Telegram API rejects.
	multibyte := strings.Repeat("æøå", 2000)
	out = truncate(multibyte, telegramMaxLen)
	require.LessOrEqual(t, len(out), telegramMaxLen)
	require.True(t, utf8.ValidString(out))
}
