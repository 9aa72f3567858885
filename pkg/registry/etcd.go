package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const nodePrefix = "/peersentry/nodes/"

// Peer is one registered service node and the two addresses peers probe it on.
type Peer struct {
	ID       string `json:"id"`
	HTTPAddr string `json:"http"`
	MQAddr   string `json:"mq"`
}

// NewClient connects to the etcd cluster backing the peer registry.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// Register publishes this node under a TTL lease and keeps the lease alive
// until the returned cancel func is called. The entry disappears on its own
// once the process dies and the lease expires.
func Register(ctx context.Context, cli *clientv3.Client, self Peer, ttlSeconds int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttlSeconds)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}

	val, err := json.Marshal(self)
	if err != nil {
		return 0, nil, fmt.Errorf("encode peer: %w", err)
	}

	if _, err := cli.Put(ctx, nodePrefix+self.ID, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("register node: %w", err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
			// Drain keepalive responses until the context is cancelled.
		}
	}()

	return lease.ID, cancel, nil
}

// GetPeers lists all currently registered nodes.
func GetPeers(ctx context.Context, cli *clientv3.Client) (map[string]Peer, error) {
	resp, err := cli.Get(ctx, nodePrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	peers := make(map[string]Peer, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		p, err := decodePeer(kv.Key, kv.Value)
		if err != nil {
			continue
		}
		peers[p.ID] = p
	}
	return peers, nil
}

// WatchPeers invokes fn with the full peer set after every registry change,
// starting from the current state. It blocks until ctx is cancelled, so run
// it in its own goroutine.
func WatchPeers(ctx context.Context, cli *clientv3.Client, log *zap.Logger, fn func(map[string]Peer)) error {
	peers, err := GetPeers(ctx, cli)
	if err != nil {
		return err
	}
	fn(snapshot(peers))

	for resp := range cli.Watch(ctx, nodePrefix, clientv3.WithPrefix()) {
		if err := resp.Err(); err != nil {
			return fmt.Errorf("watch nodes: %w", err)
		}
		changed := false
		for _, ev := range resp.Events {
			switch ev.Type {
			case mvccpb.PUT:
				p, err := decodePeer(ev.Kv.Key, ev.Kv.Value)
				if err != nil {
					log.Warn("ignoring malformed registry entry",
						zap.ByteString("key", ev.Kv.Key), zap.Error(err))
					continue
				}
				peers[p.ID] = p
				changed = true
			case mvccpb.DELETE:
				delete(peers, idFromKey(ev.Kv.Key))
				changed = true
			}
		}
		if changed {
			fn(snapshot(peers))
		}
	}
	return ctx.Err()
}

func snapshot(peers map[string]Peer) map[string]Peer {
	out := make(map[string]Peer, len(peers))
	for id, p := range peers {
		out[id] = p
	}
	return out
}

func decodePeer(key, value []byte) (Peer, error) {
	var p Peer
	if err := json.Unmarshal(value, &p); err != nil {
		return Peer{}, err
	}
	if p.ID == "" {
		p.ID = idFromKey(key)
	}
	if p.HTTPAddr == "" || p.MQAddr == "" {
		return Peer{}, fmt.Errorf("peer %s missing probe addresses", p.ID)
	}
	return p, nil
}

func idFromKey(key []byte) string {
	return strings.TrimPrefix(string(key), nodePrefix)
}
