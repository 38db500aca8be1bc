package rf24network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// nodeAt builds a network positioned at the given address with its
// helper cache filled, without touching any radio.
func nodeAt(address uint16) *Network {
	n := &Network{nodeAddress: address}
	n.setupAddress()
	return n
}

// validAddress draws a random tree address of depth 0..5.
func validAddress(t *rapid.T, label string) uint16 {
	depth := rapid.IntRange(0, 5).Draw(t, label+"-depth")
	var addr uint16
	for i := 0; i < depth; i++ {
		digit := rapid.Uint16Range(1, 5).Draw(t, label+"-digit")
		addr = addr<<3 | digit
	}
	return addr
}

func TestSetupAddressRoot(t *testing.T) {
	n := nodeAt(0)
	if n.nodeMask != 0 {
		t.Errorf("root node mask = 0%o, want 0", n.nodeMask)
	}
	if n.parentNode != 0 {
		t.Errorf("root parent = 0%o, want 0", n.parentNode)
	}
	if n.parentPipe != 0 {
		t.Errorf("root parent pipe = %d, want 0", n.parentPipe)
	}
}

func TestSetupAddress(t *testing.T) {
	cases := []struct {
		address    uint16
		mask       uint16
		parent     uint16
		parentPipe uint8
	}{
		{0o5, 0o7, 0, 5},
		{0o12, 0o77, 0o2, 1},
		{0o124, 0o777, 0o24, 1},
		{0o555, 0o777, 0o55, 5},
	}
	for _, c := range cases {
		n := nodeAt(c.address)
		if n.nodeMask != c.mask {
			t.Errorf("node 0%o mask = 0%o, want 0%o", c.address, n.nodeMask, c.mask)
		}
		if n.parentNode != c.parent {
			t.Errorf("node 0%o parent = 0%o, want 0%o", c.address, n.parentNode, c.parent)
		}
		if n.parentPipe != c.parentPipe {
			t.Errorf("node 0%o parent pipe = %d, want %d", c.address, n.parentPipe, c.parentPipe)
		}
	}
}

func TestDirectChildren(t *testing.T) {
	root := nodeAt(0)
	if !root.isDirectChild(0o5) {
		t.Error("0o5 should be a direct child of the root")
	}
	if root.isDirectChild(0o15) {
		t.Error("0o15 is not a direct child of the root")
	}
	if !root.isDescendant(0o15) {
		t.Error("0o15 is a descendant of the root")
	}
	if got := root.directChildRouteTo(0o15); got != 0o5 {
		t.Errorf("route to 0o15 from root = 0%o, want 0o5", got)
	}
}

func TestPipeToDescendant(t *testing.T) {
	n := nodeAt(0o5)
	if got := n.pipeToDescendant(0o15); got != 1 {
		t.Errorf("pipe to 0o15 from 0o5 = %d, want 1", got)
	}
	if got := n.pipeToDescendant(0o345); got != 4 {
		t.Errorf("pipe to 0o345 from 0o5 = %d, want 4", got)
	}
}

func TestIsValidAddress(t *testing.T) {
	for _, addr := range []uint16{0, 0o1, 0o5, 0o15, 0o555, MulticastNode} {
		if !IsValidAddress(addr) {
			t.Errorf("0%o should be valid", addr)
		}
	}
	for _, addr := range []uint16{0o6, 0o7, 0o16, 0o67, 0o747} {
		if IsValidAddress(addr) {
			t.Errorf("0%o should be invalid", addr)
		}
	}
}

func TestLevelToAddress(t *testing.T) {
	if got := levelToAddress(1); got != 0o1 {
		t.Errorf("level 1 = 0%o, want 0o1", got)
	}
	if got := levelToAddress(2); got != 0o10 {
		t.Errorf("level 2 = 0%o, want 0o10", got)
	}
	if got := levelToAddress(3); got != 0o100 {
		t.Errorf("level 3 = 0%o, want 0o100", got)
	}
}

func TestPipeAddressVectors(t *testing.T) {
	cases := []struct {
		node uint16
		pipe uint8
		want Address
	}{
		{0, 0, Address{0xc3, 0xcc, 0xcc, 0xcc, 0xcc}},
		{0, 1, Address{0x3c, 0xcc, 0xcc, 0xcc, 0xcc}},
		{0o5, 1, Address{0x3c, 0xe3, 0xcc, 0xcc, 0xcc}},
		{0o12, 5, Address{0xe3, 0x33, 0x3c, 0xcc, 0xcc}},
		// Pipe 0 on a non-root node is the depth-keyed multicast address:
		// only byte 1 is set, to the translation of the node's depth.
		{0o1, 0, Address{0xcc, 0x3c, 0xcc, 0xcc, 0xcc}},
		{0o3, 0, Address{0xcc, 0x3c, 0xcc, 0xcc, 0xcc}},
		{0o11, 0, Address{0xcc, 0x33, 0xcc, 0xcc, 0xcc}},
	}
	for _, c := range cases {
		if got := PipeAddress(c.node, c.pipe); got != c.want {
			t.Errorf("PipeAddress(0%o, %d) = %s, want %s", c.node, c.pipe, got, c.want)
		}
	}
}

func TestPipeAddressInjective(t *testing.T) {
	// All nodes of depth <= 2 and pipes 1..5 must map to distinct
	// physical addresses.
	var nodes []uint16
	nodes = append(nodes, 0)
	for d1 := uint16(1); d1 <= 5; d1++ {
		nodes = append(nodes, d1)
		for d2 := uint16(1); d2 <= 5; d2++ {
			nodes = append(nodes, d2<<3|d1)
		}
	}

	seen := make(map[Address]string)
	for _, node := range nodes {
		for pipe := uint8(1); pipe <= 5; pipe++ {
			addr := PipeAddress(node, pipe)
			if prev, dup := seen[addr]; dup {
				t.Fatalf("PipeAddress(0%o, %d) collides with %s", node, pipe, prev)
			}
			seen[addr] = octal(node) + "/" + string('0'+pipe)
		}
	}
}

func TestDescendantProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := validAddress(t, "a")
		x := validAddress(t, "x")
		if a == x {
			return
		}
		n := nodeAt(a)

		if n.isDirectChild(x) {
			assert.True(t, n.isDescendant(x), "direct child 0%o of 0%o must be a descendant", x, a)
		}
		if n.isDescendant(x) {
			child := n.directChildRouteTo(x)
			assert.True(t, n.isDirectChild(child), "route 0%o from 0%o must be a direct child", child, a)
			if child != x {
				assert.True(t, nodeAt(child).isDescendant(x), "0%o must lie below route 0%o", x, child)
			}
		}
	})
}

func TestRoutingReachesDestination(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := validAddress(t, "a")
		d := validAddress(t, "d")
		if a == d {
			return
		}

		maxHops := int(nodeDepth(a) + nodeDepth(d))
		cur := a
		for hops := 0; cur != d; hops++ {
			if hops > maxHops {
				t.Fatalf("route 0%o -> 0%o did not converge", a, d)
			}
			next, pipe, noAck := nodeAt(cur).routeTo(d, 0)
			assert.True(t, IsValidAddress(next), "next hop 0%o must be valid", next)
			assert.False(t, noAck, "tree routing always requests a MAC ack")
			assert.LessOrEqual(t, pipe, uint8(5))
			cur = next
		}
	})
}
