package stream

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, e *Emitter, ctx context.Context, text string) ([]string, error) {
	t.Helper()
	var toks []string
	for tok, err := range e.Stream(ctx, text) {
		if err != nil {
			return toks, err
		}
		toks = append(toks, tok)
	}
	return toks, nil
}

func TestTokensPreserveSpacing(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"fix ", "AI-5 "}, Tokens("fix AI-5"))
	assert.Equal(t, []string{"a ", " ", "b "}, Tokens("a  b"))
	assert.Equal(t, []string{" "}, Tokens(""))
	assert.Equal(t, "line one\nline two ", strings.Join(Tokens("line one\nline two"), ""))
}

func TestStreamIsRestartable(t *testing.T) {
	t.Parallel()

	e := New(Pacing{})
	first, err := collect(t, e, context.Background(), "one two three")
	require.NoError(t, err)
	second, err := collect(t, e, context.Background(), "one two three")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 3)
}

func TestDelaysNeverBelowFloor(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var delays []time.Duration
	e := New(DefaultPacing(),
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return ctx.Err()
		}),
	)

	text := strings.Repeat("word ", 2000)
	_, err := collect(t, e, context.Background(), text)
	require.NoError(t, err)

	require.NotEmpty(t, delays)
	sawFloor := false
	for _, d := range delays {
		require.GreaterOrEqual(t, d, 20*time.Millisecond)
		if d == 20*time.Millisecond {
			sawFloor = true
		}
	}
	assert.True(t, sawFloor, "expected some samples to be clamped to the floor")
}

func TestStreamStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	e := New(Pacing{}, WithSleep(func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return ctx.Err()
	}))

	toks, err := collect(t, e, ctx, "a b c d e")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a ", "b "}, toks)
}

func TestStreamCancelDuringRealWait(t *testing.T) {
	t.Parallel()

	e := New(Pacing{Mean: time.Hour, Floor: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	toks, err := collect(t, e, ctx, "never emitted")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, toks)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStreamEarlyBreak(t *testing.T) {
	t.Parallel()

	e := New(Pacing{})
	n := 0
	for range e.Stream(context.Background(), "a b c d") {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}
