package prober

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peersentry/internal/telemetry"
	"peersentry/pkg/node"
	"peersentry/pkg/reach"
	"peersentry/pkg/registry"
)

// Prober periodically probes every registered peer on both of its channels
// and feeds the outcomes into the reachability tracker. A second, slower loop
// re-probes the tracked peer that has gone longest without a fresh
// observation.
type Prober struct {
	selfID   string
	tracker  *reach.Tracker
	client   *http.Client
	dialer   *websocket.Dialer
	interval time.Duration
	retest   time.Duration
	timeout  time.Duration
	log      *zap.Logger

	mu    sync.RWMutex
	peers map[string]registry.Peer
}

// Options configures a Prober.
type Options struct {
	SelfID         string
	Tracker        *reach.Tracker
	PingInterval   time.Duration
	RetestInterval time.Duration
	ProbeTimeout   time.Duration
	Log            *zap.Logger
}

func New(opts Options) *Prober {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Prober{
		selfID:   opts.SelfID,
		tracker:  opts.Tracker,
		client:   &http.Client{Timeout: opts.ProbeTimeout},
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.ProbeTimeout},
		interval: opts.PingInterval,
		retest:   opts.RetestInterval,
		timeout:  opts.ProbeTimeout,
		log:      opts.Log,
		peers:    make(map[string]registry.Peer),
	}
}

// SetPeers replaces the probed peer set, e.g. from a registry watch. Our own
// entry is ignored.
func (p *Prober) SetPeers(peers map[string]registry.Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.peers = make(map[string]registry.Peer, len(peers))
	for id, peer := range peers {
		if id == p.selfID {
			continue
		}
		p.peers[id] = peer
	}
	p.log.Debug("peer set updated", zap.Int("peers", len(p.peers)))
}

// Loop sweeps all peers every ping interval until ctx is cancelled.
func (p *Prober) Loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// RetestLoop periodically re-probes the most overdue tracked peer. Tracked
// peers that have left the registry are expired instead of probed.
func (p *Prober) RetestLoop(ctx context.Context) {
	ticker := time.NewTicker(p.retest)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id, ok := p.tracker.NextToTest()
			if !ok {
				continue
			}
			peer, known := p.lookup(string(id))
			if !known {
				p.tracker.Expire(id)
				p.log.Info("expired record of deregistered peer", zap.String("peer", string(id)))
				continue
			}
			p.log.Debug("re-testing peer", zap.String("peer", peer.ID))
			p.ProbePeer(ctx, peer)
		}
	}
}

const maxConcurrentProbes = 16

func (p *Prober) sweep(ctx context.Context) {
	p.mu.RLock()
	peers := make([]registry.Peer, 0, len(p.peers))
	for _, peer := range p.peers {
		peers = append(peers, peer)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentProbes)
	for _, peer := range peers {
		wg.Add(1)
		sem <- struct{}{}
		go func(peer registry.Peer) {
			defer wg.Done()
			p.ProbePeer(ctx, peer)
			<-sem
		}(peer)
	}
	wg.Wait()

	telemetry.OfflinePeers.Set(float64(p.tracker.Len()))
}

// ProbePeer probes both channels of one peer and records the outcomes.
func (p *Prober) ProbePeer(ctx context.Context, peer registry.Peer) {
	id := reach.PeerID(peer.ID)

	ok := p.probeHTTP(ctx, peer.HTTPAddr)
	p.record(id, reach.ChannelHTTP, ok)

	ok = p.probeMQ(ctx, peer.MQAddr)
	p.record(id, reach.ChannelMessaging, ok)
}

func (p *Prober) record(id reach.PeerID, ch reach.Channel, ok bool) {
	p.tracker.RecordReachable(id, ch, ok)
	result := "ok"
	if !ok {
		result = "fail"
	}
	telemetry.ProbesTotal.WithLabelValues(ch.String(), result).Inc()
	if !ok {
		p.log.Debug("probe failed", zap.String("peer", string(id)), zap.Stringer("channel", ch))
	}
}

func (p *Prober) probeHTTP(ctx context.Context, addr string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, _ := json.Marshal(node.PingRequest{ID: p.selfID})
	url := fmt.Sprintf("http://%s/swarm/ping", hostPort(addr))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func (p *Prober) probeMQ(ctx context.Context, addr string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := fmt.Sprintf("ws://%s/swarm/mq", hostPort(addr))
	conn, resp, err := p.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false
	}
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	deadline := time.Now().Add(p.timeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(node.MQMessage{Type: "ping", ID: p.selfID}); err != nil {
		return false
	}

	_ = conn.SetReadDeadline(deadline)
	var reply node.MQMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return false
	}
	return reply.Type == "pong"
}

func (p *Prober) lookup(id string) (registry.Peer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	peer, ok := p.peers[id]
	return peer, ok
}

// hostPort strips an http:// or https:// prefix left over from older
// registry entries, leaving a plain host:port.
func hostPort(addr string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		return rest
	}
	return addr
}
