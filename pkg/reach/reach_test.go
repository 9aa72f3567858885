package reach

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	// Move away from the zero value so "never pinged" stays distinguishable.
	mock.Add(24 * time.Hour)
	tr := NewTracker(Options{Clock: mock})
	return tr, mock
}

func TestShouldReportAsUnknownPeer(t *testing.T) {
	tr, _ := newTestTracker(t)

	assert.False(t, tr.ShouldReportAs("peer1", ReportGood))
	assert.False(t, tr.ShouldReportAs("peer1", ReportBad))
}

func TestRecordReachableCreatesRecordOnFailure(t *testing.T) {
	tr, mock := newTestTracker(t)

	// A healthy probe of an untracked peer must not start tracking it.
	tr.RecordReachable("peer1", ChannelHTTP, true)
	_, exists := tr.Status("peer1")
	assert.False(t, exists)

	t0 := mock.Now()
	tr.RecordReachable("peer1", ChannelHTTP, false)

	rec, exists := tr.Status("peer1")
	require.True(t, exists)
	assert.False(t, rec.HTTPOK)
	assert.True(t, rec.MessagingOK)
	assert.Equal(t, t0, rec.FirstFailure)
	assert.Equal(t, t0, rec.LastFailure)
}

func TestBadReportRequiresGracePeriod(t *testing.T) {
	tr, mock := newTestTracker(t)

	tr.RecordReachable("peer1", ChannelHTTP, false)
	tr.RecordReachable("peer1", ChannelMessaging, false)

	// Streak shorter than the grace period: not reportable yet.
	mock.Add(119 * time.Minute)
	tr.RecordReachable("peer1", ChannelHTTP, false)
	assert.False(t, tr.ShouldReportAs("peer1", ReportBad))

	// Keep failing past the grace period.
	mock.Add(2 * time.Minute)
	tr.RecordReachable("peer1", ChannelHTTP, false)
	assert.True(t, tr.ShouldReportAs("peer1", ReportBad))

	// Once reported, never again until the record expires.
	tr.SetReported("peer1")
	mock.Add(time.Hour)
	tr.RecordReachable("peer1", ChannelHTTP, false)
	assert.False(t, tr.ShouldReportAs("peer1", ReportBad))
}

func TestGoodReportWhileRecordExists(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.RecordReachable("peer1", ChannelHTTP, false)
	assert.False(t, tr.ShouldReportAs("peer1", ReportGood))
	assert.False(t, tr.ShouldReportAs("peer1", ReportBad), "partial failure inside grace period")

	// Recovery on the failing channel: record stays, peer reports as good.
	tr.RecordReachable("peer1", ChannelHTTP, true)
	rec, exists := tr.Status("peer1")
	require.True(t, exists)
	assert.True(t, rec.Reachable())
	assert.True(t, tr.ShouldReportAs("peer1", ReportGood))
	assert.False(t, tr.ShouldReportAs("peer1", ReportBad))
}

func TestFullRecoveryRestartsStreak(t *testing.T) {
	tr, mock := newTestTracker(t)

	tr.RecordReachable("peer1", ChannelHTTP, false)
	mock.Add(3 * time.Hour)
	tr.RecordReachable("peer1", ChannelHTTP, false)
	assert.True(t, tr.ShouldReportAs("peer1", ReportBad))

	// Full recovery, then a fresh failure: the grace-period clock restarts.
	tr.RecordReachable("peer1", ChannelHTTP, true)
	mock.Add(time.Minute)
	t1 := mock.Now()
	tr.RecordReachable("peer1", ChannelMessaging, false)

	rec, exists := tr.Status("peer1")
	require.True(t, exists)
	assert.Equal(t, t1, rec.FirstFailure)
	assert.Equal(t, t1, rec.LastFailure)
	assert.False(t, tr.ShouldReportAs("peer1", ReportBad))
}

func TestSuccessNeverTouchesTimestamps(t *testing.T) {
	tr, mock := newTestTracker(t)

	tr.RecordReachable("peer1", ChannelHTTP, false)
	tr.RecordReachable("peer1", ChannelMessaging, false)
	before, _ := tr.Status("peer1")

	mock.Add(30 * time.Minute)
	tr.RecordReachable("peer1", ChannelHTTP, true)

	after, exists := tr.Status("peer1")
	require.True(t, exists)
	assert.Equal(t, before.FirstFailure, after.FirstFailure)
	assert.Equal(t, before.LastFailure, after.LastFailure)
}

func TestCheckIncomingTests(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(24 * time.Hour)
	interval := 10 * time.Second
	tr := NewTracker(Options{Clock: mock, PingInterval: interval, StalenessMultiple: 18})
	start := mock.Now()

	// Within the allowed silence everything stays healthy.
	mock.Add(170 * time.Second)
	tr.CheckIncomingTests(start)
	httpOK, mqOK := tr.SelfStatus()
	assert.True(t, httpOK)
	assert.True(t, mqOK)

	// One ping on messaging only, then silence past 18 * interval since the
	// reset: http goes down (never pinged), messaging goes down later.
	tr.TouchIncoming(ChannelMessaging)
	mock.Add(11 * time.Second)
	tr.CheckIncomingTests(start)
	httpOK, mqOK = tr.SelfStatus()
	assert.False(t, httpOK)
	assert.True(t, mqOK)

	mock.Add(181 * time.Second)
	tr.CheckIncomingTests(start)
	httpOK, mqOK = tr.SelfStatus()
	assert.False(t, httpOK)
	assert.False(t, mqOK)

	// A fresh ping flips the channel back on the next check.
	tr.TouchIncoming(ChannelHTTP)
	tr.CheckIncomingTests(start)
	httpOK, mqOK = tr.SelfStatus()
	assert.True(t, httpOK)
	assert.False(t, mqOK)
}

func TestCheckIncomingTestsResetTime(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(24 * time.Hour)
	tr := NewTracker(Options{Clock: mock, PingInterval: 10 * time.Second})

	// Far past any ping, but a recent reset suppresses the alarm.
	mock.Add(time.Hour)
	reset := mock.Now()
	mock.Add(time.Minute)
	tr.CheckIncomingTests(reset)
	httpOK, mqOK := tr.SelfStatus()
	assert.True(t, httpOK)
	assert.True(t, mqOK)
}

func TestNextToTestOrdering(t *testing.T) {
	tr, mock := newTestTracker(t)

	_, ok := tr.NextToTest()
	assert.False(t, ok)

	tr.RecordReachable("peer1", ChannelHTTP, false)
	mock.Add(time.Minute)
	tr.RecordReachable("peer2", ChannelHTTP, false)
	mock.Add(time.Minute)
	tr.RecordReachable("peer3", ChannelMessaging, false)

	peer, ok := tr.NextToTest()
	require.True(t, ok)
	assert.Equal(t, PeerID("peer1"), peer)

	// A fresh failure observation moves peer1 to the back of the queue.
	tr.RecordReachable("peer1", ChannelHTTP, false)
	peer, ok = tr.NextToTest()
	require.True(t, ok)
	assert.Equal(t, PeerID("peer2"), peer)
}

func TestExpire(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.RecordReachable("peer1", ChannelHTTP, false)
	assert.Equal(t, 1, tr.Len())

	assert.True(t, tr.Expire("peer1"))
	assert.False(t, tr.Expire("peer1"))
	assert.Equal(t, 0, tr.Len())
	assert.False(t, tr.ShouldReportAs("peer1", ReportBad))
}
