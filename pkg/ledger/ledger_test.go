package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/plugin-telemetry/pkg/settings"
)

type unreadable struct {
	settings.Store
}

func (unreadable) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("locked")
}

func TestNew_ValidatesRules(t *testing.T) {
	t.Parallel()

	store := settings.NewMemory()

	_, err := New(store, []Rule{{Name: "", Threshold: 1}})
	require.ErrorIs(t, err, ErrEmptyRuleName)

	_, err = New(store, []Rule{{Name: "lessons", Threshold: 0}})
	require.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = New(store, []Rule{{Name: "lessons", Threshold: 1}, {Name: "lessons", Threshold: 2}})
	require.ErrorIs(t, err, ErrDuplicateRule)

	l, err := New(store, nil)
	require.NoError(t, err)
	assert.Empty(t, l.Rules())
}

func TestOneShot(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := settings.NewMemory()
	l, err := New(store, nil)
	require.NoError(t, err)

	assert.False(t, l.HasFired(ctx, "setup"))
	claimed, err := l.Claim(ctx, "setup")
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = l.Claim(ctx, "setup")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.True(t, l.HasFired(ctx, "setup"))
	assert.False(t, l.HasFired(ctx, "first_strike"))

	v, ok, err := store.Get(ctx, "event_sent_setup")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, settings.Yes, v)
}

func TestOneShot_SurvivesNewLedger(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := settings.NewMemory()

	l1, err := New(store, nil)
	require.NoError(t, err)
	_, err = l1.Claim(ctx, "setup")
	require.NoError(t, err)

	l2, err := New(store, nil)
	require.NoError(t, err)
	assert.True(t, l2.HasFired(ctx, "setup"))
}

func TestOneShot_UnreadableCountsAsFired(t *testing.T) {
	t.Parallel()

	l, err := New(unreadable{settings.NewMemory()}, nil)
	require.NoError(t, err)
	assert.True(t, l.HasFired(t.Context(), "setup"))
}

func TestClaim_ExactlyOneWinner(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := settings.NewMemory()

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 50 {
		wg.Go(func() {
			l, err := New(store, nil)
			assert.NoError(t, err)
			claimed, err := l.Claim(ctx, "setup")
			assert.NoError(t, err)
			if claimed {
				wins.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestKUI_Counting(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	l, err := New(settings.NewMemory(), []Rule{{Name: "lessons", Threshold: 3}})
	require.NoError(t, err)

	for want := int64(1); want <= 4; want++ {
		n, err := l.Increment(ctx, "lessons")
		require.NoError(t, err)
		assert.Equal(t, want, n)
		assert.Equal(t, want >= 3, l.ThresholdReached(ctx, "lessons"))
	}

	require.NoError(t, l.Reset(ctx, "lessons"))
	assert.Equal(t, int64(0), l.Count(ctx, "lessons"))
	assert.False(t, l.ThresholdReached(ctx, "lessons"))

	_, err = l.Increment(ctx, "unknown")
	require.ErrorIs(t, err, ErrUnknownKUI)
	assert.False(t, l.ThresholdReached(ctx, "unknown"))
}

func TestRuleLookup(t *testing.T) {
	t.Parallel()

	l, err := New(settings.NewMemory(), []Rule{
		{Name: "lessons", Threshold: 3},
		{Name: "quizzes", Threshold: 1, Event: "first_quiz"},
	})
	require.NoError(t, err)

	r, ok := l.Rule("lessons")
	require.True(t, ok)
	assert.Equal(t, "kui_lessons_reached", r.BoundEvent())

	r, ok = l.RuleForEvent("first_quiz")
	require.True(t, ok)
	assert.Equal(t, "quizzes", r.Name)

	_, ok = l.RuleForEvent("kui_quizzes_reached")
	assert.False(t, ok)
	_, ok = l.Rule("missing")
	assert.False(t, ok)
}
