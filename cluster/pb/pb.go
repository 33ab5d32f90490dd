// Package pb holds the envelope exchanged between gossip layers.
package pb

import (
	proto "github.com/golang/protobuf/proto"
)

type Kind int32

const (
	// KindUpdate carries a full state pushed after a local mutation.
	KindUpdate Kind = 0
	// KindGetState asks peers for their current state.
	KindGetState Kind = 1
	// KindState answers a KindGetState request.
	KindState Kind = 2
)

var kindNames = map[Kind]string{
	KindUpdate:   "UPDATE",
	KindGetState: "GET_STATE",
	KindState:    "STATE",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Part is one message scoped to a category.
type Part struct {
	Category  string `protobuf:"bytes,1,opt,name=category,proto3" json:"category,omitempty"`
	Kind      Kind   `protobuf:"varint,2,opt,name=kind,proto3" json:"kind,omitempty"`
	Origin    string `protobuf:"bytes,3,opt,name=origin,proto3" json:"origin,omitempty"`
	Seq       uint64 `protobuf:"varint,4,opt,name=seq,proto3" json:"seq,omitempty"`
	RequestID string `protobuf:"bytes,5,opt,name=request_id,json=requestId,proto3" json:"request_id,omitempty"`
	Data      []byte `protobuf:"bytes,6,opt,name=data,proto3" json:"data,omitempty"`
}

func (m *Part) Reset()         { *m = Part{} }
func (m *Part) String() string { return proto.CompactTextString(m) }
func (*Part) ProtoMessage()    {}

func (m *Part) GetCategory() string {
	if m != nil {
		return m.Category
	}
	return ""
}
func (m *Part) GetKind() Kind {
	if m != nil {
		return m.Kind
	}
	return KindUpdate
}
func (m *Part) GetOrigin() string {
	if m != nil {
		return m.Origin
	}
	return ""
}
func (m *Part) GetSeq() uint64 {
	if m != nil {
		return m.Seq
	}
	return 0
}
func (m *Part) GetRequestID() string {
	if m != nil {
		return m.RequestID
	}
	return ""
}
func (m *Part) GetData() []byte {
	if m != nil {
		return m.Data
	}
	return nil
}

func Encode(p *Part) ([]byte, error) {
	return proto.Marshal(p)
}

func Decode(b []byte) (*Part, error) {
	p := &Part{}
	if err := proto.Unmarshal(b, p); err != nil {
		return nil, err
	}
	return p, nil
}

// NodeMeta is published as memberlist node metadata: the categories a node
// answers pulls for.
type NodeMeta struct {
	Categories []string `protobuf:"bytes,1,rep,name=categories,proto3" json:"categories,omitempty"`
	// Truncated is set when the category list did not fit in the metadata
	// size limit.
	Truncated bool `protobuf:"varint,2,opt,name=truncated,proto3" json:"truncated,omitempty"`
}

func (m *NodeMeta) Reset()         { *m = NodeMeta{} }
func (m *NodeMeta) String() string { return proto.CompactTextString(m) }
func (*NodeMeta) ProtoMessage()    {}

func (m *NodeMeta) GetCategories() []string {
	if m != nil {
		return m.Categories
	}
	return nil
}
func (m *NodeMeta) GetTruncated() bool {
	if m != nil {
		return m.Truncated
	}
	return false
}

func EncodeMeta(m *NodeMeta) ([]byte, error) {
	return proto.Marshal(m)
}

func DecodeMeta(b []byte) (*NodeMeta, error) {
	m := &NodeMeta{}
	if err := proto.Unmarshal(b, m); err != nil {
		return nil, err
	}
	return m, nil
}
