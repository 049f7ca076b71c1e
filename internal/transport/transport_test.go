package transport

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct {
	Text string `json:"text"`
}

func echoHandler(ctx context.Context, s Session) error {
	for {
		var in ping
		if err := s.Receive(ctx, &in); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		if in.Text == "fail" {
			return errors.New("refusing to echo fail")
		}
		if err := s.Send(ctx, ping{Text: strings.ToUpper(in.Text)}); err != nil {
			return err
		}
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// runConversation checks what every Transport must do once a is able to
// reach b's "echo" protocol.
func runConversation(t *testing.T, a Transport) {
	t.Run("round trip", func(t *testing.T) {
		ctx := testCtx(t)
		s, err := a.Open(ctx, "B", "echo")
		require.NoError(t, err)
		defer s.Close()

		for _, word := range []string{"one", "two"} {
			require.NoError(t, s.Send(ctx, ping{Text: word}))
			var out ping
			require.NoError(t, s.Receive(ctx, &out))
			assert.Equal(t, strings.ToUpper(word), out.Text)
		}
		assert.Equal(t, "B", string(s.Counterparty()))
	})

	t.Run("responder error closes with reason", func(t *testing.T) {
		ctx := testCtx(t)
		s, err := a.Open(ctx, "B", "echo")
		require.NoError(t, err)
		require.NoError(t, s.Send(ctx, ping{Text: "fail"}))

		var out ping
		err = s.Receive(ctx, &out)
		var closed *ClosedError
		require.ErrorAs(t, err, &closed)
		assert.Contains(t, closed.Reason, "refusing to echo fail")
		assert.ErrorIs(t, s.Receive(ctx, &out), ErrClosed, "closed stays closed")
	})

	t.Run("receive honours context", func(t *testing.T) {
		ctx := testCtx(t)
		s, err := a.Open(ctx, "B", "echo")
		require.NoError(t, err)
		defer s.Close()

		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		var out ping
		assert.ErrorIs(t, s.Receive(short, &out), context.DeadlineExceeded)
	})
}

func TestNetwork(t *testing.T) {
	net := NewNetwork()
	t.Cleanup(net.Close)
	a := net.Join("A")
	net.Join("B").Handle("echo", echoHandler)

	runConversation(t, a)

	_, err := a.Open(context.Background(), "Nobody", "echo")
	assert.ErrorIs(t, err, ErrUnknownParty)
	_, err = a.Open(context.Background(), "B", "missing")
	assert.ErrorIs(t, err, ErrNoHandler)
	assert.Same(t, a, net.Join("A"))
}
