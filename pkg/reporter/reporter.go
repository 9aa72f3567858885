package reporter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"peersentry/internal/telemetry"
	"peersentry/pkg/reach"
)

// Reporter periodically re-derives our own channel health from incoming
// pings and pushes good/unreachable verdicts about tracked peers to the
// authority. A peer reported good is expired from the tracker; a peer
// reported unreachable is marked so it is not reported again.
type Reporter struct {
	tracker   *reach.Tracker
	authority Authority
	interval  time.Duration
	resetTime time.Time
	log       *zap.Logger
}

// New builds a Reporter. resetTime, usually the process start, suppresses
// self-health staleness alarms for one staleness window after boot.
func New(tracker *reach.Tracker, authority Authority, interval time.Duration, resetTime time.Time, log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{
		tracker:   tracker,
		authority: authority,
		interval:  interval,
		resetTime: resetTime,
		log:       log,
	}
}

// Loop runs reporting rounds until ctx is cancelled.
func (r *Reporter) Loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reporting round.
func (r *Reporter) RunOnce(ctx context.Context) {
	r.tracker.CheckIncomingTests(r.resetTime)
	httpOK, mqOK := r.tracker.SelfStatus()
	telemetry.SetChannelUp(reach.ChannelHTTP.String(), httpOK)
	telemetry.SetChannelUp(reach.ChannelMessaging.String(), mqOK)

	for _, peer := range r.tracker.Tracked() {
		if r.tracker.ShouldReportAs(peer, reach.ReportGood) {
			r.report(ctx, peer, true)
			continue
		}
		if r.tracker.ShouldReportAs(peer, reach.ReportBad) {
			r.report(ctx, peer, false)
		}
	}
}

func (r *Reporter) report(ctx context.Context, peer reach.PeerID, reachable bool) {
	typ := "bad"
	if reachable {
		typ = "good"
	}

	if err := r.authority.ReportPeerStatus(ctx, peer, reachable); err != nil {
		telemetry.ReportsTotal.WithLabelValues(typ, "error").Inc()
		r.log.Warn("failed to report peer status",
			zap.String("peer", string(peer)), zap.Bool("reachable", reachable), zap.Error(err))
		return
	}
	telemetry.ReportsTotal.WithLabelValues(typ, "ok").Inc()

	if reachable {
		// Recovered and reported; nothing left to track.
		r.tracker.Expire(peer)
		r.log.Info("reported peer as reachable again", zap.String("peer", string(peer)))
		return
	}
	r.tracker.SetReported(peer)
	r.log.Info("reported peer as unreachable", zap.String("peer", string(peer)))
}
