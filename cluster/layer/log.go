package layer

import (
	"github.com/hashicorp/memberlist"
	"github.com/vx-labs/statemesh/cluster/peers"
	"go.uber.org/zap"
)

// NotifyJoin is called if a peer joins the cluster.
func (b *GossipLayer) NotifyJoin(n *memberlist.Node) {
	b.logger.Debug("node joined", zap.String("remote_node_id", n.Name), zap.String("remote_address", n.Address()))
	b.learn(n)
	if b.onNodeJoin != nil {
		b.onNodeJoin(n.Name)
	}
}

// NotifyLeave is called if a peer leaves the cluster.
func (b *GossipLayer) NotifyLeave(n *memberlist.Node) {
	b.logger.Debug("node left", zap.String("remote_node_id", n.Name))
	b.forget(n.Name)
	if err := b.peers.Delete(n.Name); err != nil && err != peers.ErrPeerNotFound {
		b.logger.Warn("failed to forget peer", zap.String("remote_node_id", n.Name), zap.Error(err))
	}
	if b.onNodeLeave != nil {
		b.onNodeLeave(n.Name)
	}
}

// NotifyUpdate is called if a cluster peer gets updated.
func (b *GossipLayer) NotifyUpdate(n *memberlist.Node) {
	b.learn(n)
}
