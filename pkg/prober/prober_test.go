package prober

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peersentry/pkg/node"
	"peersentry/pkg/reach"
	"peersentry/pkg/registry"
)

func newTestProber(tracker *reach.Tracker) *Prober {
	return New(Options{
		SelfID:       "self",
		Tracker:      tracker,
		PingInterval: time.Second,
		ProbeTimeout: 500 * time.Millisecond,
		Log:          zap.NewNop(),
	})
}

// startPeer runs a real peer surface (HTTP + messaging on one listener) and
// returns its host:port.
func startPeer(t *testing.T) string {
	t.Helper()
	tracker := reach.NewTracker(reach.Options{})
	srv := node.NewServer("peer1", tracker, zap.NewNop())

	mux := srv.HTTPRoutes()
	mux.HandleFunc("/swarm/mq", srv.Messaging)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestProbePeerBothChannelsUp(t *testing.T) {
	tracker := reach.NewTracker(reach.Options{})
	p := newTestProber(tracker)
	addr := startPeer(t)

	p.ProbePeer(context.Background(), registry.Peer{ID: "peer1", HTTPAddr: addr, MQAddr: addr})

	// Healthy outcomes for an untracked peer leave nothing behind.
	_, exists := tracker.Status("peer1")
	assert.False(t, exists)
}

func TestProbePeerUnreachable(t *testing.T) {
	tracker := reach.NewTracker(reach.Options{})
	p := newTestProber(tracker)

	// Nothing listens here; both probes must fail fast.
	p.ProbePeer(context.Background(), registry.Peer{
		ID:       "peer1",
		HTTPAddr: "127.0.0.1:1",
		MQAddr:   "127.0.0.1:1",
	})

	rec, exists := tracker.Status("peer1")
	require.True(t, exists)
	assert.False(t, rec.HTTPOK)
	assert.False(t, rec.MessagingOK)
}

func TestProbePeerPartialFailure(t *testing.T) {
	tracker := reach.NewTracker(reach.Options{})
	p := newTestProber(tracker)
	addr := startPeer(t)

	p.ProbePeer(context.Background(), registry.Peer{
		ID:       "peer1",
		HTTPAddr: addr,
		MQAddr:   "127.0.0.1:1",
	})

	rec, exists := tracker.Status("peer1")
	require.True(t, exists)
	assert.True(t, rec.HTTPOK)
	assert.False(t, rec.MessagingOK)

	// Recovery of the failing channel makes the peer reportable as good.
	p.ProbePeer(context.Background(), registry.Peer{ID: "peer1", HTTPAddr: addr, MQAddr: addr})
	assert.True(t, tracker.ShouldReportAs("peer1", reach.ReportGood))
}

func TestSetPeersSkipsSelf(t *testing.T) {
	p := newTestProber(reach.NewTracker(reach.Options{}))

	p.SetPeers(map[string]registry.Peer{
		"self":  {ID: "self", HTTPAddr: "a:1", MQAddr: "a:2"},
		"peer1": {ID: "peer1", HTTPAddr: "b:1", MQAddr: "b:2"},
	})

	_, ok := p.lookup("self")
	assert.False(t, ok)
	_, ok = p.lookup("peer1")
	assert.True(t, ok)
}
