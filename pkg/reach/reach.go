package reach

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// PeerID identifies a service node in the network, usually its hex public key.
type PeerID string

// Channel is one of the two independently probed listening ports of a node.
type Channel uint8

const (
	ChannelHTTP Channel = iota
	ChannelMessaging
)

func (c Channel) String() string {
	switch c {
	case ChannelHTTP:
		return "http"
	case ChannelMessaging:
		return "messaging"
	default:
		return "unknown"
	}
}

// ReportType selects which status the caller wants to report to the authority.
type ReportType uint8

const (
	ReportGood ReportType = iota
	ReportBad
)

const (
	// DefaultGracePeriod is how long a peer must stay in a continuous
	// unreachable streak before we report it.
	DefaultGracePeriod = 120 * time.Minute

	// DefaultPingInterval is the expected cadence of peer probes.
	DefaultPingInterval = 10 * time.Second

	// DefaultStalenessMultiple scales the ping interval into the maximum
	// tolerated silence on our own incoming channels.
	DefaultStalenessMultiple = 18
)

// FailureRecord tracks the dual-channel health of one peer that has shown at
// least one failing channel since we last stopped tracking it.
type FailureRecord struct {
	HTTPOK      bool
	MessagingOK bool

	// FirstFailure marks the start of the current unreachable streak. It is
	// moved forward when the peer fully recovers and then fails again.
	FirstFailure time.Time

	// LastFailure is the most recent observed failure on any channel.
	LastFailure time.Time

	// Reported suppresses duplicate unreachable reports until Expire.
	Reported bool
}

// Reachable reports whether both channels are currently healthy.
func (r FailureRecord) Reachable() bool {
	return r.HTTPOK && r.MessagingOK
}

func (r *FailureRecord) set(ch Channel, ok bool) {
	if ch == ChannelHTTP {
		r.HTTPOK = ok
	} else {
		r.MessagingOK = ok
	}
}

// Options configures a Tracker. Zero values fall back to defaults.
type Options struct {
	GracePeriod       time.Duration
	PingInterval      time.Duration
	StalenessMultiple int
	Clock             clock.Clock
	Log               *zap.Logger
}

// Tracker decides, per peer, whether to report it good or unreachable, and
// derives the health of our own two listening channels from incoming pings.
// All methods are safe for concurrent use; probing and reporting run on
// independent schedules.
type Tracker struct {
	mu      sync.Mutex
	offline map[PeerID]*FailureRecord

	selfHTTPOK      bool
	selfMessagingOK bool
	latestHTTP      time.Time
	latestMessaging time.Time

	grace     time.Duration
	maxNoPing time.Duration
	clk       clock.Clock
	log       *zap.Logger
}

// NewTracker builds a Tracker with both self channels assumed healthy and no
// peers tracked. State is in-memory only and rebuilt from scratch on restart.
func NewTracker(opts Options) *Tracker {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.StalenessMultiple <= 0 {
		opts.StalenessMultiple = DefaultStalenessMultiple
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Tracker{
		offline:         make(map[PeerID]*FailureRecord),
		selfHTTPOK:      true,
		selfMessagingOK: true,
		grace:           opts.GracePeriod,
		maxNoPing:       opts.PingInterval * time.Duration(opts.StalenessMultiple),
		clk:             opts.Clock,
		log:             opts.Log,
	}
}

// RecordReachable records the outcome of an outbound probe of one peer
// channel. A healthy outcome for an untracked peer is a no-op; a failing one
// starts tracking it. Successful outcomes never touch the failure timestamps
// and never remove the record, so the Reported flag survives a transient
// recovery blip. Records are removed only via Expire.
func (t *Tracker) RecordReachable(peer PeerID, ch Channel, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.offline[peer]
	if !exists {
		if ok {
			return
		}
		now := t.clk.Now()
		rec = &FailureRecord{HTTPOK: true, MessagingOK: true, FirstFailure: now, LastFailure: now}
		rec.set(ch, false)
		t.offline[peer] = rec
		t.log.Debug("tracking unreachable peer",
			zap.String("peer", string(peer)), zap.Stringer("channel", ch))
		return
	}

	reachableBefore := rec.Reachable()
	rec.set(ch, ok)

	if ok {
		return
	}

	now := t.clk.Now()
	if reachableBefore {
		// Fresh failure after a full recovery restarts the streak.
		rec.FirstFailure = now
	}
	rec.LastFailure = now
	t.log.Debug("peer still unreachable",
		zap.String("peer", string(peer)),
		zap.Stringer("channel", ch),
		zap.Bool("http_ok", rec.HTTPOK),
		zap.Bool("messaging_ok", rec.MessagingOK))
}

// ShouldReportAs decides whether the caller should send the given report for
// the peer. With no record the peer is already known good and neither report
// applies. A BAD report requires a continuous unreachable streak longer than
// the grace period and is suppressed once Reported is set.
func (t *Tracker) ShouldReportAs(peer PeerID, typ ReportType) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.offline[peer]
	if !exists {
		return false
	}

	reachable := rec.Reachable()

	if typ == ReportGood {
		return reachable
	}

	if reachable {
		// Contradicting state, likely a racing recovery. Not reportable.
		return false
	}
	if rec.Reported {
		// TODO: may want to re-report after the authority restarts and loses
		// its own deregistration memory; for now a report is sent only once
		// per record lifetime.
		return false
	}
	elapsed := rec.LastFailure.Sub(rec.FirstFailure)
	if elapsed > t.grace {
		t.log.Debug("peer past grace period",
			zap.String("peer", string(peer)), zap.Duration("unreachable_for", elapsed))
		return true
	}
	return false
}

// TouchIncoming stamps the arrival of an incoming ping on one of our own
// listening channels.
func (t *Tracker) TouchIncoming(ch Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	if ch == ChannelHTTP {
		t.latestHTTP = now
	} else {
		t.latestMessaging = now
	}
}

// LastIncoming returns the time of the most recent incoming ping on the
// channel; the zero time means none was ever observed.
func (t *Tracker) LastIncoming(ch Channel) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch == ChannelHTTP {
		return t.latestHTTP
	}
	return t.latestMessaging
}

// CheckIncomingTests re-derives the health of our own two channels from the
// freshness of incoming peer pings. A channel with no ping for longer than
// PingInterval * StalenessMultiple is marked down; a later ping brings it
// back on the next call. resetTime suppresses staleness alarms for a grace
// window after events like process start, by pretending the last ping was no
// earlier than resetTime.
func (t *Tracker) CheckIncomingTests(resetTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	t.selfHTTPOK = t.checkChannel(ChannelHTTP, t.latestHTTP, t.selfHTTPOK, resetTime, now)
	t.selfMessagingOK = t.checkChannel(ChannelMessaging, t.latestMessaging, t.selfMessagingOK, resetTime, now)
}

func (t *Tracker) checkChannel(ch Channel, latest time.Time, wasOK bool, resetTime, now time.Time) bool {
	last := latest
	if resetTime.After(last) {
		last = resetTime
	}
	elapsed := now.Sub(last)

	if elapsed > t.maxNoPing {
		if latest.IsZero() {
			t.log.Warn("never received a single incoming ping; check the port, "+
				"being unreachable may get this node deregistered",
				zap.Stringer("channel", ch))
		} else {
			t.log.Warn("incoming pings have stopped; check the port, "+
				"being unreachable may get this node deregistered",
				zap.Stringer("channel", ch),
				zap.Duration("since_last", now.Sub(latest)))
		}
		return false
	}

	if !wasOK {
		t.log.Info("channel is receiving pings again", zap.Stringer("channel", ch))
	}
	return true
}

// SelfStatus returns the last derived health of our own HTTP and messaging
// channels.
func (t *Tracker) SelfStatus() (httpOK, messagingOK bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selfHTTPOK, t.selfMessagingOK
}

// NextToTest picks the tracked peer whose last observed failure is oldest,
// the best candidate for an out-of-band re-probe. ok is false when nothing
// is tracked.
func (t *Tracker) NextToTest() (peer PeerID, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var oldest time.Time
	for id, rec := range t.offline {
		if !ok || rec.LastFailure.Before(oldest) {
			peer, oldest, ok = id, rec.LastFailure, true
		}
	}
	return peer, ok
}

// Expire stops tracking the peer, e.g. once it is confirmed deregistered.
// It reports whether a record was removed.
func (t *Tracker) Expire(peer PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.offline[peer]; !exists {
		return false
	}
	delete(t.offline, peer)
	t.log.Debug("expired reachability record", zap.String("peer", string(peer)))
	return true
}

// SetReported marks the peer as already reported unreachable, suppressing
// duplicates. No-op for untracked peers.
func (t *Tracker) SetReported(peer PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, exists := t.offline[peer]; exists {
		rec.Reported = true
	}
}

// Tracked returns a snapshot of the peers currently holding a failure record.
func (t *Tracker) Tracked() []PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()

	peers := make([]PeerID, 0, len(t.offline))
	for id := range t.offline {
		peers = append(peers, id)
	}
	return peers
}

// Status returns a copy of the peer's failure record, if any.
func (t *Tracker) Status(peer PeerID) (FailureRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.offline[peer]
	if !exists {
		return FailureRecord{}, false
	}
	return *rec, true
}

// Len returns the number of tracked peers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.offline)
}
