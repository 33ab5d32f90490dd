package layer

import (
	"context"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
	"github.com/pkg/errors"
	"github.com/vx-labs/statemesh/cluster"
	"github.com/vx-labs/statemesh/cluster/config"
	"github.com/vx-labs/statemesh/cluster/pb"
	"github.com/vx-labs/statemesh/cluster/peers"
	"go.uber.org/zap"
)

// Updates larger than this are sent over reliable unicast instead of the
// gossip queue, which rides on UDP packets.
const maxBroadcastSize = 1024

// GossipLayer binds states to categories over a memberlist cluster. Pushes
// ride the gossip broadcast queue, pulls are reliable request/response
// exchanges with the members advertising the category in their metadata.
type GossipLayer struct {
	id          string
	name        string
	mlist       *memberlist.Memberlist
	logger      *zap.Logger
	mtx         sync.RWMutex
	states      map[string]*gossipChannel
	peers       *peers.Directory
	bcastQueue  *memberlist.TransmitLimitedQueue
	seq         uint64
	seenMtx     sync.Mutex
	seen        map[string]map[string]uint64
	pendingMtx  sync.Mutex
	pending     map[string]chan []byte
	onNodeJoin  func(id string)
	onNodeLeave func(id string)
}

var _ cluster.Layer = &GossipLayer{}

func (m *GossipLayer) ID() string {
	return m.id
}

func (m *GossipLayer) Members() []*memberlist.Node {
	return m.mlist.Members()
}

func (m *GossipLayer) AddState(category string, state cluster.State) (cluster.Channel, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.states[category]; ok {
		return nil, cluster.ErrStateKeyAlreadySet
	}
	ch := &gossipChannel{
		layer:    m,
		category: category,
		state:    state,
	}
	m.states[category] = ch
	m.logger.Debug("registered state", zap.String("category", category))
	return ch, nil
}

func (m *GossipLayer) listening(category string) *gossipChannel {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	ch, ok := m.states[category]
	if !ok || atomic.LoadInt32(&ch.listening) == 0 {
		return nil
	}
	return ch
}

// fresh reports whether p is newer than anything already applied from the
// same origin on the same category, and records it if so.
func (m *GossipLayer) fresh(p *pb.Part) bool {
	m.seenMtx.Lock()
	defer m.seenMtx.Unlock()
	byCategory, ok := m.seen[p.Origin]
	if !ok {
		byCategory = map[string]uint64{}
		m.seen[p.Origin] = byCategory
	}
	if p.Seq <= byCategory[p.Category] {
		return false
	}
	byCategory[p.Category] = p.Seq
	return true
}

func (m *GossipLayer) forget(origin string) {
	m.seenMtx.Lock()
	defer m.seenMtx.Unlock()
	delete(m.seen, origin)
}

func (m *GossipLayer) NotifyMsg(b []byte) {
	p, err := pb.Decode(b)
	if err != nil {
		m.logger.Error("failed to decode remote message", zap.Error(err))
		return
	}
	metrics.IncrCounter([]string{"statemesh", "gossip", "received"}, 1)
	if p.Origin == m.id {
		return
	}
	switch p.Kind {
	case pb.KindUpdate:
		m.onUpdate(p)
	case pb.KindGetState:
		m.onGetState(p)
	case pb.KindState:
		m.onState(p)
	default:
		m.logger.Warn("ignoring message of unknown kind", zap.Int32("kind", int32(p.Kind)))
	}
}

func (m *GossipLayer) onUpdate(p *pb.Part) {
	ch := m.listening(p.Category)
	if ch == nil {
		return
	}
	if !m.fresh(p) {
		metrics.IncrCounter([]string{"statemesh", "gossip", "stale"}, 1)
		return
	}
	if err := ch.state.Merge(p.Data); err != nil {
		m.logger.Warn("failed to merge remote state",
			zap.String("category", p.Category), zap.String("remote_node_id", p.Origin), zap.Error(err))
	}
}

func (m *GossipLayer) onGetState(p *pb.Part) {
	ch := m.listening(p.Category)
	if ch == nil {
		return
	}
	// NotifyMsg must not block: answer from another goroutine.
	go func() {
		data, err := ch.state.MarshalBinary()
		if err != nil {
			m.logger.Debug("not answering state request", zap.String("category", p.Category), zap.Error(err))
			return
		}
		node := m.member(p.Origin)
		if node == nil {
			m.logger.Warn("state requester is not a cluster member", zap.String("remote_node_id", p.Origin))
			return
		}
		buf, err := pb.Encode(&pb.Part{
			Category:  p.Category,
			Kind:      pb.KindState,
			Origin:    m.id,
			RequestID: p.RequestID,
			Data:      data,
		})
		if err != nil {
			m.logger.Error("failed to encode state response", zap.Error(err))
			return
		}
		if err := m.mlist.SendReliable(node, buf); err != nil {
			m.logger.Warn("failed to answer state request", zap.String("remote_node_id", p.Origin), zap.Error(err))
		}
	}()
}

func (m *GossipLayer) onState(p *pb.Part) {
	m.pendingMtx.Lock()
	defer m.pendingMtx.Unlock()
	ch, ok := m.pending[p.RequestID]
	if !ok {
		return
	}
	select {
	case ch <- p.Data:
	default:
	}
}

func (m *GossipLayer) member(id string) *memberlist.Node {
	for _, node := range m.mlist.Members() {
		if node.Name == id {
			return node
		}
	}
	return nil
}

func (m *GossipLayer) others() []*memberlist.Node {
	out := []*memberlist.Node{}
	for _, node := range m.mlist.Members() {
		if node.Name != m.id {
			out = append(out, node)
		}
	}
	return out
}

func (s *GossipLayer) Health() string {
	if s.numMembers() == 1 {
		return "warning"
	}
	return "ok"
}
func (s *GossipLayer) GetBroadcasts(overhead, limit int) [][]byte {
	return s.bcastQueue.GetBroadcasts(overhead, limit)
}

// NodeMeta advertises the categories this node answers pulls for.
func (s *GossipLayer) NodeMeta(limit int) []byte {
	buf, err := pb.EncodeMeta(&pb.NodeMeta{Categories: s.categories()})
	if err == nil && len(buf) <= limit {
		return buf
	}
	s.logger.Warn("category list does not fit in node metadata, advertising a wildcard")
	buf, _ = pb.EncodeMeta(&pb.NodeMeta{Truncated: true})
	return buf
}

func (s *GossipLayer) categories() []string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	out := make([]string, 0, len(s.states))
	for category, ch := range s.states {
		if atomic.LoadInt32(&ch.listening) == 1 {
			out = append(out, category)
		}
	}
	sort.Strings(out)
	return out
}

// advertise pushes fresh node metadata to the cluster.
func (s *GossipLayer) advertise() {
	if s.mlist == nil {
		return
	}
	go func() {
		if err := s.mlist.UpdateNode(time.Second); err != nil {
			s.logger.Warn("failed to advertise categories", zap.Error(err))
		}
	}()
}

// learn records the categories advertised by n.
func (s *GossipLayer) learn(n *memberlist.Node) {
	if n.Name == s.id {
		return
	}
	peer := peers.Peer{ID: n.Name}
	meta, err := pb.DecodeMeta(n.Meta)
	if err != nil {
		s.logger.Warn("failed to decode node metadata", zap.String("remote_node_id", n.Name), zap.Error(err))
		peer.Wildcard = true
	} else {
		peer.Categories = meta.GetCategories()
		peer.Wildcard = meta.GetTruncated()
	}
	if err := s.peers.Upsert(peer); err != nil {
		s.logger.Error("failed to record peer", zap.String("remote_node_id", n.Name), zap.Error(err))
	}
}

// LocalState and MergeRemoteState are left empty: full states travel only
// through explicit pulls, never through memberlist's anti-entropy.
func (m *GossipLayer) LocalState(join bool) []byte {
	return nil
}
func (m *GossipLayer) MergeRemoteState(buf []byte, join bool) {}

func (m *GossipLayer) Join(newHosts []string) error {
	if len(newHosts) == 0 {
		return nil
	}
	hosts := []string{}
	curHosts := m.mlist.Members()
	for idx := range newHosts {
		host := newHosts[idx]
		found := false
		for idx := range curHosts {
			if curHosts[idx].Address() == host {
				found = true
				break
			}
		}
		if !found {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		return nil
	}
	m.logger.Debug("joining cluster", zap.Strings("nodes", hosts), zap.Strings("provided_nodes", newHosts))
	count, err := m.mlist.Join(hosts)
	if err != nil {
		if count == 0 {
			m.logger.Warn("failed to join cluster", zap.Error(err))
			return err
		}
		m.logger.Warn("failed to join some member of cluster", zap.Error(err))
	}
	return nil
}

func (self *GossipLayer) Leave() error {
	if err := self.mlist.Leave(5 * time.Second); err != nil {
		self.logger.Warn("failed to leave cluster", zap.Error(err))
	}
	return self.mlist.Shutdown()
}

func (self *GossipLayer) numMembers() int {
	if self.mlist == nil {
		return 1
	}
	return self.mlist.NumMembers()
}

type gossipChannel struct {
	layer     *GossipLayer
	category  string
	state     cluster.State
	listening int32
	closed    int32
}

func (c *gossipChannel) Listen() {
	if atomic.CompareAndSwapInt32(&c.listening, 0, 1) {
		c.layer.advertise()
	}
}

func (c *gossipChannel) Broadcast(payload []byte) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return
	}
	l := c.layer
	buf, err := pb.Encode(&pb.Part{
		Category: c.category,
		Kind:     pb.KindUpdate,
		Origin:   l.id,
		Seq:      atomic.AddUint64(&l.seq, 1),
		Data:     payload,
	})
	if err != nil {
		l.logger.Error("failed to encode update", zap.String("category", c.category), zap.Error(err))
		return
	}
	metrics.IncrCounter([]string{"statemesh", "gossip", "sent"}, 1)
	if len(buf) <= maxBroadcastSize {
		l.bcastQueue.QueueBroadcast(&categoryBroadcast{category: c.category, msg: buf})
		return
	}
	go func() {
		for _, node := range l.others() {
			if err := l.mlist.SendReliable(node, buf); err != nil {
				l.logger.Warn("failed to send update", zap.String("remote_node_id", node.Name), zap.Error(err))
			}
		}
	}()
}

func (c *gossipChannel) Pull(ctx context.Context) ([]byte, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, cluster.ErrChannelClosed
	}
	l := c.layer
	id := uuid.New().String()
	resp := make(chan []byte, 1)
	l.pendingMtx.Lock()
	l.pending[id] = resp
	l.pendingMtx.Unlock()
	defer func() {
		l.pendingMtx.Lock()
		delete(l.pending, id)
		l.pendingMtx.Unlock()
	}()

	buf, err := pb.Encode(&pb.Part{
		Category:  c.category,
		Kind:      pb.KindGetState,
		Origin:    l.id,
		RequestID: id,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode state request")
	}
	candidates, err := l.peers.ByCategory(c.category)
	if err != nil {
		return nil, err
	}
	asked := 0
	for _, peer := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		node := l.member(peer.ID)
		if node == nil {
			continue
		}
		if err := l.mlist.SendReliable(node, buf); err != nil {
			l.logger.Warn("failed to send state request", zap.String("remote_node_id", node.Name), zap.Error(err))
			continue
		}
		asked++
	}
	if asked == 0 {
		return nil, cluster.ErrNoResponder
	}
	select {
	case data := <-resp:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *gossipChannel) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	atomic.StoreInt32(&c.listening, 0)
	c.layer.mtx.Lock()
	if c.layer.states[c.category] == c {
		delete(c.layer.states, c.category)
	}
	c.layer.mtx.Unlock()
	c.layer.advertise()
	return nil
}

func newLayer(name string, logger *zap.Logger, userConfig config.Config) *GossipLayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	self := &GossipLayer{
		id:          userConfig.ID,
		name:        name,
		states:      map[string]*gossipChannel{},
		peers:       peers.NewDirectory(),
		seen:        map[string]map[string]uint64{},
		pending:     map[string]chan []byte{},
		onNodeJoin:  userConfig.OnNodeJoin,
		onNodeLeave: userConfig.OnNodeLeave,
		logger:      logger,
		// Sequences start from the clock so that a restarted node is never
		// mistaken for a replay of its previous run.
		seq: uint64(time.Now().UnixNano()),
	}
	self.bcastQueue = &memberlist.TransmitLimitedQueue{
		NumNodes:       self.numMembers,
		RetransmitMult: 3,
	}
	return self
}

func NewGossipLayer(name string, logger *zap.Logger, userConfig config.Config) (*GossipLayer, error) {
	if userConfig.ID == "" {
		userConfig.ID = uuid.New().String()
	}
	self := newLayer(name, logger, userConfig)

	config := memberlist.DefaultLANConfig()
	if userConfig.BindAddr != "" {
		config.BindAddr = userConfig.BindAddr
	}
	config.BindPort = userConfig.BindPort
	config.AdvertiseAddr = userConfig.AdvertiseAddr
	config.AdvertisePort = userConfig.AdvertisePort
	config.Name = userConfig.ID
	config.Delegate = self
	config.Events = self
	if os.Getenv("ENABLE_MEMBERLIST_LOG") != "true" {
		config.LogOutput = io.Discard
	}
	list, err := memberlist.Create(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memberlist")
	}
	self.mlist = list
	self.logger.Debug("created new layer", zap.String("layer_name", name))
	return self, nil
}
