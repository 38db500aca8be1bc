package rf24network

import "fmt"

// Network is the mesh layer over one radio. Nodes are arranged in a
// static octal tree: every node talks to its parent and up to five
// children, and frames for anyone else are relayed hop by hop.
//
// The model is single-threaded and cooperative. All state changes happen
// on the caller's goroutine inside Begin, Update, Read and the write
// methods; the instance owns its radio exclusively and must not be used
// reentrantly from inside the Radio implementation.
type Network struct {
	radio Radio
	clock Clock

	nodeAddress uint16

	// Address helper cache, filled by setupAddress.
	nodeMask   uint16
	parentNode uint16
	parentPipe uint8

	// Staging buffer for the frame currently on the air. Routing and ack
	// synthesis patch it in place, so it always holds the last frame
	// written or received.
	frameBuffer [MaxFrameSize]byte
	frameSize   int

	queue frameQueue
	cache fragmentCache

	txTimeout    uint32
	routeTimeout uint32

	multicastLevel     uint8
	multicastRelay     bool
	lastMultiMessageID uint16

	nOK    uint32
	nFails uint32
}

// New wraps a radio in a network layer. The radio is not touched until
// Begin.
func New(radio Radio) *Network {
	return &Network{
		radio:     radio,
		clock:     newSysClock(),
		frameSize: MaxFrameSize,
	}
}

// SetClock replaces the time base. Must be called before Begin.
func (n *Network) SetClock(clock Clock) {
	n.clock = clock
}

// Begin configures the radio and joins the tree at the given logical
// address. All six reading pipes are opened; non-root nodes implicitly
// listen for multicasts of their own tree level on pipe 0.
func (n *Network) Begin(channel uint8, nodeAddress uint16) error {
	if !IsValidAddress(nodeAddress) {
		return fmt.Errorf("%w: %w", ErrPkg, ErrBadAddress)
	}
	n.nodeAddress = nodeAddress

	if err := n.radio.SetChannel(channel); err != nil {
		return err
	}
	if err := n.radio.SetDataRate(DataRate1mbps); err != nil {
		return err
	}
	if err := n.radio.SetCRCLength(CRCLength16); err != nil {
		return err
	}
	n.radio.EnableDynamicAck()
	n.radio.EnableDynamicPayloads()

	// Stagger the auto-retransmit delay by address so neighboring nodes
	// don't retry in lockstep and alias each other's collisions.
	retryVar := uint8((nodeAddress%6+1)*2) + 3
	n.radio.SetRetries(retryVar, 5)
	n.txTimeout = 25
	n.routeTimeout = n.txTimeout * 9

	n.setupAddress()

	for i := 6; i > 0; {
		i--
		if err := n.radio.OpenReadingPipe(uint8(i), PipeAddress(nodeAddress, uint8(i))); err != nil {
			return err
		}
	}
	n.multicastLevel = nodeDepth(nodeAddress)

	n.radio.StartListening()
	globalLogger.Info("network up at node 0" + octal(nodeAddress))
	return nil
}

// Update drains every frame the radio is holding and dispatches it:
// frames for us are queued (or fed to reassembly), multicasts are queued
// and optionally relayed one level down, anything else is forwarded
// toward its destination. It never blocks on the radio.
//
// The return value is NetworkAck when an end-to-end acknowledgement
// addressed to us was observed during the drain, else 0.
func (n *Network) Update() uint8 {
	var result uint8
	for {
		_, ok := n.radio.Available()
		if !ok {
			return result
		}

		length := int(n.radio.GetDynamicPayloadSize())
		if length == 0 {
			continue
		}
		n.radio.Read(n.frameBuffer[:length])
		n.frameSize = length

		header, err := decodeHeader(n.frameBuffer[:length])
		if err != nil {
			// Too short or impossible destination. Nothing useful can be
			// done with it.
			continue
		}

		frame := newFrame(header, n.frameBuffer[HeaderSize:length])

		if header.ToNode == n.nodeAddress {
			if header.Type == NetworkAck {
				result = NetworkAck
				continue
			}
			n.enqueue(frame)
		} else if header.ToNode == MulticastNode {
			if header.ID != n.lastMultiMessageID {
				if n.multicastRelay {
					n.writeRaw(levelToAddress(n.multicastLevel)<<3, 4)
				}
				n.enqueue(frame)
				n.lastMultiMessageID = header.ID
			}
		} else {
			// Pass it on, flagged as a routed payload so the last relay
			// answers with a network ack.
			n.writeRaw(header.ToNode, 1)
		}
	}
}

// enqueue files a received frame. Intermediate fragments go to the
// reassembly cache; the final fragment completes the message and moves
// it to the receive queue; everything else is queued directly.
func (n *Network) enqueue(frame Frame) bool {
	switch {
	case frame.Header.FragmentID > 1 && frame.Header.Type == NetworkMoreFragments:
		n.cache.append(frame)
		return true

	case frame.Header.FragmentID == 1 && frame.Header.Type == NetworkLastFragment:
		n.cache.append(frame)
		assembled := n.cache.get(frame.Header.FromNode, frame.Header.ID)
		if assembled == nil {
			// Reassembly overflowed and was discarded; nothing to deliver.
			return false
		}
		n.cache.erase(frame.Header.FromNode, frame.Header.ID)
		return n.queue.push(*assembled)

	default:
		return n.queue.push(frame)
	}
}

// Available reports whether a frame is waiting for the application.
func (n *Network) Available() bool {
	return !n.queue.empty()
}

// Parent returns the address of the node we route upward traffic to, or
// 0xFFFF at the root.
func (n *Network) Parent() uint16 {
	if n.nodeAddress == 0 {
		return 0xFFFF
	}
	return n.parentNode
}

// Peek copies the header of the head frame without dequeuing it.
func (n *Network) Peek(header *Header) {
	if f, ok := n.queue.front(); ok {
		*header = f.Header
	}
}

// Read dequeues the head frame, copying its header and up to len(buf)
// payload bytes. It returns the number of payload bytes copied.
func (n *Network) Read(header *Header, buf []byte) int {
	f, ok := n.queue.pop()
	if !ok {
		return 0
	}
	*header = f.Header
	copied := copy(buf, f.Payload)
	return copied
}

// Failures reports the running transmit counters: hop-level sends that
// failed and sends that succeeded.
func (n *Network) Failures() (fails, ok uint32) {
	return n.nFails, n.nOK
}

// SetMulticastRelay controls whether multicasts heard by this node are
// re-broadcast to the next tree level down.
func (n *Network) SetMulticastRelay(enable bool) {
	n.multicastRelay = enable
}

// MulticastLevel re-targets pipe 0 at the multicast address of an
// arbitrary tree level, overriding the level implied by our address.
func (n *Network) MulticastLevel(level uint8) {
	n.multicastLevel = level
	n.radio.StopListening()
	n.radio.OpenReadingPipe(0, PipeAddress(levelToAddress(level), 0))
	n.radio.StartListening()
}

// Write sends a message with normal tree routing. Messages larger than a
// single frame are fragmented; multi-hop unicasts additionally wait for
// the end-to-end network ack. It reports whether the message is known to
// have left this node successfully.
func (n *Network) Write(header *Header, message []byte) bool {
	return n.WriteDirect(header, message, 0o70)
}

// WriteDirect sends a message with an explicit next-hop override.
// writeDirect 0o70 means no override; otherwise the frame is handed
// straight to that node, with (3) or without (2) a network-ack wait
// depending on whether it is also the final destination.
func (n *Network) WriteDirect(header *Header, message []byte, writeDirect uint16) bool {
	if len(message) > MaxPayloadSize {
		globalLogger.Warn("write rejected: " + ErrPayloadTooLarge.Error())
		return false
	}

	if len(message) <= MaxFramePayload {
		return n.writeFrame(header, message, writeDirect)
	}

	// Fragment ordinals count down so ordinal 1 always marks the end of
	// the message, whatever its length.
	fragmentID := uint8(1 + (len(message)-1)/MaxFramePayload)
	msgCount := 0

	txSuccess := true
	for fragmentID > 0 {
		fragmentHeader := *header
		fragmentHeader.FragmentID = fragmentID
		if fragmentID == 1 {
			fragmentHeader.Type = NetworkLastFragment
		} else {
			fragmentHeader.Type = NetworkMoreFragments
		}

		offset := msgCount * MaxFramePayload
		end := offset + MaxFramePayload
		if end > len(message) {
			end = len(message)
		}

		if !n.writeFrame(&fragmentHeader, message[offset:end], writeDirect) {
			txSuccess = false
			break
		}

		fragmentID--
		msgCount++
	}

	// Give downstream relays a moment to drain before the caller piles on.
	fragDelay := uint32(len(message) / 16)
	if fragDelay > 15 {
		fragDelay = 15
	}
	n.clock.Delay(fragDelay)

	return txSuccess
}

// Multicast sends a message to every node listening at the given tree
// level. No ack of any kind is requested.
func (n *Network) Multicast(header *Header, message []byte, level uint8) bool {
	header.ToNode = MulticastNode
	header.FromNode = n.nodeAddress

	n.stageFrame(*header, message)
	return n.writeRaw(levelToAddress(level), 4)
}

// stageFrame serializes a header and payload into the transmit buffer.
func (n *Network) stageFrame(header Header, message []byte) {
	header.encode(n.frameBuffer[:])
	n.frameSize = HeaderSize
	if len(message) > 0 {
		length := len(message)
		if length > MaxFramePayload {
			length = MaxFramePayload
		}
		copy(n.frameBuffer[HeaderSize:], message[:length])
		n.frameSize += length
	}
}

// writeFrame stamps our address on a single-frame message and routes it.
func (n *Network) writeFrame(header *Header, message []byte, writeDirect uint16) bool {
	header.FromNode = n.nodeAddress
	n.stageFrame(*header, message)

	// A node writing to itself never touches the radio.
	if header.ToNode == n.nodeAddress {
		return n.enqueue(newFrame(*header, message))
	}

	if writeDirect != 0o70 {
		if header.ToNode == writeDirect {
			return n.writeRaw(writeDirect, 2)
		}
		return n.writeRaw(writeDirect, 3)
	}
	return n.writeRaw(header.ToNode, 0)
}

// routeTo picks the physical next hop for the frame in the buffer.
// directTo modes 2..4 bypass tree routing and talk straight to toNode;
// mode 4 is multicast on pipe 0. Otherwise downward traffic goes to the
// child subtree that owns toNode, and everything else goes up to the
// parent.
func (n *Network) routeTo(toNode uint16, directTo uint8) (sendNode uint16, sendPipe uint8, noAck bool) {
	sendNode = n.parentNode
	sendPipe = n.parentPipe % 5

	switch {
	case directTo > 1:
		sendNode = toNode
		noAck = true
		if directTo == 4 {
			sendPipe = 0
		}
	case n.isDirectChild(toNode):
		sendNode = toNode
		sendPipe = 5
	case n.isDescendant(toNode):
		sendNode = n.directChildRouteTo(toNode)
		sendPipe = 5
	}
	return sendNode, sendPipe, noAck
}

// writeRaw transmits the staged frame toward toNode and handles the two
// acknowledgement duties of a relay: synthesizing the network ack when we
// are the last hop of someone else's routed payload, and waiting for one
// when our own multi-hop send needs it.
func (n *Network) writeRaw(toNode uint16, directTo uint8) bool {
	fromAddress := uint16(n.frameBuffer[0]) | uint16(n.frameBuffer[1])<<8
	logicalAddress := uint16(n.frameBuffer[2]) | uint16(n.frameBuffer[3])<<8

	if !IsValidAddress(toNode) {
		return false
	}

	sendNode, sendPipe, noAck := n.routeTo(toNode, directTo)

	ok := n.writeToPipe(sendNode, sendPipe, noAck)
	if !ok {
		globalLogger.Debug("send to 0" + octal(logicalAddress) + " via 0" + octal(sendNode) + " failed")
	}

	// Last hop of a routed payload: the destination is our direct
	// neighbor, so acknowledge on its behalf back to the origin. The
	// destination's own MAC ack already covered the final hop.
	if directTo == 1 && ok && sendNode == toNode && n.frameBuffer[6] != NetworkAck && fromAddress != n.nodeAddress {
		n.frameBuffer[6] = NetworkAck
		n.frameBuffer[2] = n.frameBuffer[0]
		n.frameBuffer[3] = n.frameBuffer[1]
		n.writeRaw(fromAddress, 1)
	}

	n.radio.StartListening()

	// A send that still has hops to travel is only done when the far end
	// acknowledges. Direct neighbors are covered by the MAC ack alone.
	if ok && sendNode != logicalAddress && (directTo == 0 || directTo == 3) {
		replyTime := n.clock.Millis()
		for n.Update() != NetworkAck {
			if n.clock.Millis()-replyTime > n.routeTimeout {
				ok = false
				break
			}
		}
	}

	if ok {
		n.nOK++
	} else {
		n.nFails++
	}
	return ok
}

// writeToPipe pushes the staged frame at one physical pipe and waits for
// the radio to finish its hardware retries.
func (n *Network) writeToPipe(node uint16, pipe uint8, noAck bool) bool {
	out := PipeAddress(node, pipe)

	n.radio.StopListening()
	n.radio.OpenWritingPipe(out)
	n.radio.WriteFast(n.frameBuffer[:n.frameSize], noAck)
	return n.radio.TxStandBy(n.txTimeout)
}
