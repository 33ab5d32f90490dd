package layer

import (
	"github.com/hashicorp/memberlist"
)

// categoryBroadcast carries a full state: a newer one for the same category
// makes any queued older one pointless.
type categoryBroadcast struct {
	category string
	msg      []byte
}

func (b *categoryBroadcast) Message() []byte { return b.msg }
func (b *categoryBroadcast) Invalidates(other memberlist.Broadcast) bool {
	o, ok := other.(*categoryBroadcast)
	return ok && o.category == b.category
}
func (b *categoryBroadcast) Finished() {}
