package rf24network

// fragmentCache holds at most one partially reassembled message per
// source node, keyed by the packed (from, id) pair. The topology keeps
// the number of concurrent senders small, so a map with linear eviction
// is plenty.
type fragmentCache struct {
	pending map[uint32]*Frame
}

func cacheKey(fromNode, id uint16) uint32 {
	return uint32(fromNode)<<16 | uint32(id)
}

func (c *fragmentCache) get(fromNode, id uint16) *Frame {
	return c.pending[cacheKey(fromNode, id)]
}

// start begins reassembly of a new message, evicting any other in-flight
// message from the same source first.
func (c *fragmentCache) start(fragment Frame) {
	if c.pending == nil {
		c.pending = make(map[uint32]*Frame)
	}
	from := fragment.Header.FromNode
	for key := range c.pending {
		if uint16(key>>16) == from {
			delete(c.pending, key)
			break
		}
	}
	f := newFrame(fragment.Header, fragment.Payload)
	c.pending[cacheKey(from, fragment.Header.ID)] = &f
}

// append adds a fragment's payload to the in-flight message it belongs
// to. A message growing past MaxPayloadSize is corrupt and is dropped;
// the sender times out waiting for the network ack. The stored header
// tracks the last fragment seen so the completed frame carries the final
// fragment's header.
func (c *fragmentCache) append(fragment Frame) {
	entry := c.get(fragment.Header.FromNode, fragment.Header.ID)
	if entry == nil {
		c.start(fragment)
		return
	}
	if len(entry.Payload)+len(fragment.Payload) > MaxPayloadSize {
		c.erase(fragment.Header.FromNode, fragment.Header.ID)
		globalLogger.Warn("cleared corrupt frame")
		return
	}
	entry.Payload = append(entry.Payload, fragment.Payload...)
	entry.Header = fragment.Header
}

func (c *fragmentCache) erase(fromNode, id uint16) {
	delete(c.pending, cacheKey(fromNode, id))
}
