package rf24network

// Logical addresses are up to five octal digits, least significant digit
// first hop from the root. The root is 0, every other digit is 1..5.
// 0o100 is the multicast indicator and must stay valid so multicast
// frames survive the receive-side address check.

// Address is the 5-byte physical address programmed into a radio pipe.
type Address [5]byte

// MulticastNode is the logical destination carried by multicast frames.
const MulticastNode uint16 = 0o100

// addressTranslation maps one octal digit (or pipe index) to the radio
// address byte chosen for it. The values and the 0xCC filler are part of
// the on-air format and must not change.
var addressTranslation = [7]byte{0xc3, 0x3c, 0x33, 0xce, 0x3e, 0xe3, 0xec}

const addressFiller byte = 0xCC

// IsValidAddress reports whether node is a usable logical address.
// Digits 6 and 7 never occur in the tree; digit 0 is allowed so the
// multicast indicator and level addresses pass.
func IsValidAddress(node uint16) bool {
	for n := node; n != 0; n >>= 3 {
		if n&0o7 > 5 {
			globalLogger.Warn("invalid node address 0" + octal(node))
			return false
		}
	}
	return true
}

// levelToAddress returns the logical address multicast frames are sent
// to for a given tree level: 1 shifted into the level's digit position.
func levelToAddress(level uint8) uint16 {
	if level == 0 {
		return 0
	}
	return 1 << ((level - 1) * 3)
}

// nodeDepth counts the octal digits of node; the root has depth 0.
func nodeDepth(node uint16) uint8 {
	var count uint8
	for ; node != 0; node /= 8 {
		count++
	}
	return count
}

// PipeAddress derives the physical address of one pipe on one node.
// Byte 0 is the pipe's translation byte, bytes 1.. are the node's octal
// digits translated least significant first, the rest stays filler.
// Pipe 0 on a non-root node is the multicast listening pipe: only byte 1
// is set, keyed by the node's depth, so every node on a tree level shares
// the same pipe 0 address.
func PipeAddress(node uint16, pipe uint8) Address {
	result := Address{addressFiller, addressFiller, addressFiller, addressFiller, addressFiller}

	if pipe != 0 || node == 0 {
		count := 1
		for dec := node; dec != 0; dec /= 8 {
			result[count] = addressTranslation[dec%8]
			count++
		}
		result[0] = addressTranslation[pipe]
	} else {
		result[1] = addressTranslation[nodeDepth(node)]
	}

	return result
}

// octal formats node as octal digits without allocating through fmt,
// so it is safe to call from TinyGo log paths.
func octal(node uint16) string {
	if node == 0 {
		return "0"
	}
	var buf [6]byte
	i := len(buf)
	for n := node; n != 0; n >>= 3 {
		i--
		buf[i] = byte('0' + n&0o7)
	}
	return string(buf[i:])
}

// setupAddress caches the mask, parent and parent pipe of the node
// address. Called once from Begin.
func (n *Network) setupAddress() {
	maskCheck := uint16(0xFFFF)
	for n.nodeAddress&maskCheck != 0 {
		maskCheck <<= 3
	}
	n.nodeMask = ^maskCheck

	parentMask := n.nodeMask >> 3
	n.parentNode = n.nodeAddress & parentMask

	i := n.nodeAddress
	for m := parentMask; m != 0; m >>= 3 {
		i >>= 3
	}
	n.parentPipe = uint8(i)
}

// isDescendant reports whether node sits anywhere below us in the tree.
func (n *Network) isDescendant(node uint16) bool {
	return node != n.nodeAddress && node&n.nodeMask == n.nodeAddress
}

// isDirectChild reports whether node is exactly one level below us.
func (n *Network) isDirectChild(node uint16) bool {
	if !n.isDescendant(node) {
		return false
	}
	childNodeMask := ^n.nodeMask << 3
	return node&childNodeMask == 0
}

// directChildRouteTo returns the direct child through which node is
// reached. Presumes node is a descendant.
func (n *Network) directChildRouteTo(node uint16) uint16 {
	childMask := n.nodeMask<<3 | 0o7
	return node & childMask
}

// pipeToDescendant returns the pipe index a descendant talks to us on:
// the first octal digit of node past our own prefix.
func (n *Network) pipeToDescendant(node uint16) uint8 {
	i := node
	for m := n.nodeMask; m != 0; m >>= 3 {
		i >>= 3
	}
	return uint8(i & 0o7)
}
