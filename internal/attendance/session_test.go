package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

func TestStartSession_QR(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.svc.StartSession(ctx, StartRequest{SessionID: "S1", Mode: SessionQR, ExpiryMinutes: 2, DurationMinutes: 45})
	require.NoError(t, err)

	assert.Equal(t, SessionLive, sess.Status)
	assert.Equal(t, f.clock.Now(), sess.StartTime)
	assert.Equal(t, f.clock.Now().Add(45*time.Minute), sess.EndTime)
	require.NotNil(t, sess.Token)
	assert.Equal(t, f.clock.Now().Add(2*time.Minute), sess.Token.ExpiresAt)
	assert.False(t, f.svc.IsLocked())
}

func TestStartSession_ManualHasNoToken(t *testing.T) {
	f := newFixture(t, nil)

	sess, err := f.svc.StartSession(context.Background(), StartRequest{SessionID: "S1", Mode: SessionManual})
	require.NoError(t, err)
	assert.Nil(t, sess.Token)

	_, issued := f.svc.RefreshToken(context.Background())
	assert.False(t, issued)
	assert.Nil(t, f.svc.Snapshot().Session.Token)
}

func TestStartSession_Defaults(t *testing.T) {
	f := newFixture(t, nil)

	sess, err := f.svc.StartSession(context.Background(), StartRequest{SessionID: "S1", Mode: SessionQR})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Settings.ExpiryMinutes)
	assert.Equal(t, f.clock.Now().Add(60*time.Minute), sess.EndTime)
}

func TestStartSession_Invalid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, req := range []StartRequest{
		{SessionID: "", Mode: SessionQR},
		{SessionID: "S1", Mode: "BLUETOOTH"},
		{SessionID: "S1", Mode: SessionQR, DurationMinutes: -1},
	} {
		_, err := f.svc.StartSession(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidSession)
	}
	assert.Equal(t, SessionIdle, f.svc.Snapshot().Session.Status)
}

func TestStartSession_ResetsRecords(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, StartRequest{SessionID: "S1", Mode: SessionQR})
	require.NoError(t, err)
	_, err = f.svc.Mark(ctx, MarkRequest{StudentID: "a", Status: StatusPresent, Source: SourceQR})
	require.NoError(t, err)
	require.Len(t, f.svc.Records(), 1)

	f.svc.StopSession(ctx)
	_, err = f.svc.StartSession(ctx, StartRequest{SessionID: "S2", Mode: SessionManual})
	require.NoError(t, err)

	assert.Empty(t, f.svc.Records())
	assert.Equal(t, "S2", f.svc.Snapshot().Session.ID)
}

func TestStopSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// stopping before any start is a no-op
	assert.Equal(t, SessionIdle, f.svc.StopSession(ctx).Status)

	started, err := f.svc.StartSession(ctx, StartRequest{SessionID: "S1", Mode: SessionQR, DurationMinutes: 30})
	require.NoError(t, err)

	stopped := f.svc.StopSession(ctx)
	assert.Equal(t, SessionEnded, stopped.Status)
	assert.Nil(t, stopped.Token)
	assert.Equal(t, started.EndTime, stopped.EndTime, "end time is never moved")
	assert.True(t, f.svc.IsLocked())

	again := f.svc.StopSession(ctx)
	assert.Equal(t, stopped, again)

	_, issued := f.svc.RefreshToken(ctx)
	assert.False(t, issued, "no token once ended")
}

func TestRefreshToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, issued := f.svc.RefreshToken(ctx)
	assert.False(t, issued, "no session id yet")

	sess, err := f.svc.StartSession(ctx, StartRequest{SessionID: "S1", Mode: SessionQR, ExpiryMinutes: 3})
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	tok, issued := f.svc.RefreshToken(ctx)
	require.True(t, issued)
	assert.NotEqual(t, sess.Token.Value, tok.Value)
	assert.Equal(t, f.clock.Now().Add(3*time.Minute), tok.ExpiresAt)
	assert.Equal(t, tok, *f.svc.Snapshot().Session.Token)
}

func TestIsLocked(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.True(t, f.svc.IsLocked(), "no end time yet")

	_, err := f.svc.StartSession(ctx, StartRequest{SessionID: "S1", Mode: SessionManual, DurationMinutes: 10})
	require.NoError(t, err)
	assert.False(t, f.svc.IsLocked())

	f.clock.Advance(10 * time.Minute)
	assert.False(t, f.svc.IsLocked(), "still open exactly at the end time")

	f.clock.Advance(time.Millisecond)
	assert.True(t, f.svc.IsLocked())
	assert.Equal(t, SessionLive, f.svc.Snapshot().Session.Status, "locking does not change status")
}

func TestSnapshot_TimeRemaining(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.StartSession(context.Background(), StartRequest{SessionID: "S1", Mode: SessionQR, ExpiryMinutes: 1})
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	assert.Equal(t, 40*time.Second, f.svc.Snapshot().TimeRemaining)

	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, time.Duration(0), f.svc.Snapshot().TimeRemaining)
}

func TestSnapshot_IsACopy(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.StartSession(context.Background(), StartRequest{SessionID: "S1", Mode: SessionQR})
	require.NoError(t, err)

	snap := f.svc.Snapshot()
	snap.Session.Token.Value = "tampered"
	assert.NotEqual(t, "tampered", f.svc.Snapshot().Session.Token.Value)
}

func TestAutoRotation_RotatesExpiredToken(t *testing.T) {
	f := newFixture(t, nil)
	sess, err := f.svc.StartSession(context.Background(), StartRequest{SessionID: "S1", Mode: SessionQR, ExpiryMinutes: 1, AutoRefresh: true})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		tok := f.svc.Snapshot().Session.Token
		return tok != nil && tok.Value != sess.Token.Value
	}, time.Second, 5*time.Millisecond)

	tok := f.svc.Snapshot().Session.Token
	assert.Equal(t, f.clock.Now().Add(time.Minute), tok.ExpiresAt)
}

func TestAutoRotation_WaitsForExpiry(t *testing.T) {
	f := newFixture(t, nil)
	sess, err := f.svc.StartSession(context.Background(), StartRequest{SessionID: "S1", Mode: SessionQR, ExpiryMinutes: 1, AutoRefresh: true})
	require.NoError(t, err)

	f.clock.Advance(59 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sess.Token.Value, f.svc.Snapshot().Session.Token.Value)
}

func TestAutoRotation_Disabled(t *testing.T) {
	f := newFixture(t, nil)
	sess, err := f.svc.StartSession(context.Background(), StartRequest{SessionID: "S1", Mode: SessionQR, ExpiryMinutes: 1})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sess.Token.Value, f.svc.Snapshot().Session.Token.Value)
}

func TestAutoRotation_StopsWithSession(t *testing.T) {
	clock := newFakeClock()
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(queue.NewOffline(store.NewMemoryKV(), "", nil), nil, Options{Clock: clock.Now, Tick: 5 * time.Millisecond, Metrics: m})
	t.Cleanup(svc.Close)
	ctx := context.Background()

	_, err := svc.StartSession(ctx, StartRequest{SessionID: "S1", Mode: SessionQR, ExpiryMinutes: 1, AutoRefresh: true})
	require.NoError(t, err)
	svc.StopSession(ctx)

	clock.Advance(5 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TokenRotations))
	assert.Nil(t, svc.Snapshot().Session.Token)
}

func TestAutoRotation_StopsOnClose(t *testing.T) {
	f := newFixture(t, nil)
	sess, err := f.svc.StartSession(context.Background(), StartRequest{SessionID: "S1", Mode: SessionQR, ExpiryMinutes: 1, AutoRefresh: true})
	require.NoError(t, err)

	f.svc.Close()
	f.clock.Advance(5 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sess.Token.Value, f.svc.Snapshot().Session.Token.Value)
}

func TestCountdown(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.StartSession(context.Background(), StartRequest{SessionID: "S1", Mode: SessionQR, ExpiryMinutes: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := f.svc.Countdown(ctx, 5*time.Millisecond)

	first := <-ch
	assert.Equal(t, time.Minute, first)

	f.clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool {
		return <-ch == 45*time.Second
	}, time.Second, time.Millisecond)

	f.svc.RefreshToken(context.Background())
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, time.Millisecond, "countdown closes when the token changes")
}

func TestCountdown_ContextCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch := f.svc.Countdown(ctx, 5*time.Millisecond)

	assert.Equal(t, time.Duration(0), <-ch, "no token means nothing left")
	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, time.Millisecond)
}
