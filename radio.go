package rf24network

import "time"

// Radio is the capability the network layer drives. The in-repo
// nRF24L01+ driver satisfies it; tests substitute their own.
// All operations are synchronous.
type Radio interface {
	SetChannel(channel uint8) error
	SetDataRate(rate DataRate) error
	SetCRCLength(length CRCLength) error
	// EnableDynamicPayloads turns on per-frame payload lengths on every pipe.
	EnableDynamicPayloads()
	// EnableDynamicAck allows individual frames to opt out of the MAC ack.
	EnableDynamicAck()
	// SetRetries programs the auto-retransmit delay (250us units) and count.
	SetRetries(delay, count uint8)
	OpenReadingPipe(pipe uint8, address Address) error
	OpenWritingPipe(address Address)
	StartListening()
	StopListening()
	// Available reports the pipe number of the next received frame, if any.
	// It must not block.
	Available() (pipe uint8, ok bool)
	// GetDynamicPayloadSize returns the length of the frame at the head of
	// the receive FIFO, or 0 when it is corrupt.
	GetDynamicPayloadSize() uint8
	// Read copies the head frame into buf and advances the FIFO.
	Read(buf []byte)
	// WriteFast queues buf for transmission without waiting for the result.
	WriteFast(buf []byte, noAck bool)
	// TxStandBy blocks until the queued frame is sent or timeoutMillis
	// elapses, reporting whether the MAC-level send succeeded.
	TxStandBy(timeoutMillis uint32) bool
}

// Clock supplies the millisecond time base the send path needs. It is a
// separate capability so tests can run the timeout logic without real
// delays.
type Clock interface {
	// Millis is a monotonic millisecond counter.
	Millis() uint32
	// Delay blocks for the given number of milliseconds.
	Delay(millis uint32)
}

type sysClock struct {
	start time.Time
}

func newSysClock() *sysClock {
	return &sysClock{start: time.Now()}
}

func (c *sysClock) Millis() uint32 {
	return uint32(time.Since(c.start) / time.Millisecond)
}

func (c *sysClock) Delay(millis uint32) {
	time.Sleep(time.Duration(millis) * time.Millisecond)
}
