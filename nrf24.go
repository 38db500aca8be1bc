package rf24network

import (
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrMaxRetries = errors.New("max retransmissions reached")
	ErrTimeout    = errors.New("timeout waiting for device")
)

type (
	DataRate  byte
	PALevel   byte
	CRCLength byte
)

const (
	// DataRate250kbps represents a data rate of 250kbps
	DataRate250kbps DataRate = iota
	// DataRate1mbps represents a data rate of 1mbps
	DataRate1mbps
	// DataRate2mbps represents a data rate of 2mbps
	DataRate2mbps
)

func (d DataRate) String() string {
	switch d {
	case DataRate250kbps:
		return "250kbps"
	case DataRate1mbps:
		return "1mbps"
	case DataRate2mbps:
		return "2mbps"
	default:
		return "unknown"
	}
}

const (
	// PALevelMin represents a power amplifier level of -18dBm
	PALevelMin PALevel = iota
	// PALevelLow represents a power amplifier level of -12dBm
	PALevelLow
	// PALevelHigh represents a power amplifier level of -6dBm
	PALevelHigh
	// PALevelMax represents a power amplifier level of 0dBm
	PALevelMax
)

func (p PALevel) String() string {
	switch p {
	case PALevelMin:
		return "-18dBm"
	case PALevelLow:
		return "-12dBm"
	case PALevelHigh:
		return "-6dBm"
	case PALevelMax:
		return "0dBm"
	default:
		return "unknown"
	}
}

const (
	// CRCLengthDisabled disables CRC
	CRCLengthDisabled CRCLength = iota
	// CRCLength8 enables 8-bit CRC
	CRCLength8
	// CRCLength16 enables 16-bit CRC
	CRCLength16
)

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4])
}

// --- NRF24L01 Registers/Commands/Bits ---

// NRF24 Register Addresses
const (
	_CONFIG     = 0x00
	_EN_AA      = 0x01
	_EN_RXADDR  = 0x02
	_SETUP_AW   = 0x03
	_SETUP_RETR = 0x04
	_RF_CH      = 0x05
	_RF_SETUP   = 0x06
	_STATUS     = 0x07
	_OBSERVE_TX = 0x08
	_RPD        = 0x09
	_RX_ADDR_P0 = 0x0A // P1..P5 follow at 0x0B..0x0F
	_TX_ADDR    = 0x10
	_RX_PW_P0   = 0x11 // Receive Payload Width for Data Pipe 0

	_DYNPD   = 0x1C // Dynamic Payload Register
	_FEATURE = 0x1D // Feature Register

	_W_REGISTER         = 0x20
	_R_RX_PL_WID        = 0x60
	_R_RX_PAYLOAD       = 0x61
	_W_TX_PAYLOAD       = 0xA0
	_W_TX_PAYLOAD_NOACK = 0xB0
	_FLUSH_TX           = 0xE1
	_FLUSH_RX           = 0xE2
	_NOP                = 0xFF
)

// NRF24 Register Bit Definitions
const (
	_PRIM_RX = 1 << 0
	_PWR_UP  = 1 << 1
	_CRCO    = 1 << 2
	_EN_CRC  = 1 << 3
	_MAX_RT  = 1 << 4
	_TX_DS   = 1 << 5
	_RX_DR   = 1 << 6

	_EN_DYN_ACK = 1 << 0 // Enable Payload with No ACK
	_EN_ACK_PAY = 1 << 1 // Enable ACK Payload
	_EN_DPL     = 1 << 2 // Enable Dynamic Payload Length

	_ALL_PIPES = 0x3F
)

// RadioConfig carries the power-on defaults of the chip. The network
// layer reprograms channel, data rate and CRC in Begin, so only the
// amplifier level usually matters here.
type RadioConfig struct {
	// ChannelNumber is the RF channel used until the network layer picks
	// its own. Range 0 to 125. Defaults to 76 if not provided.
	ChannelNumber byte
	// PALevel sets the power amplifier level.
	// Defaults to PALevelMax if not provided.
	PALevel PALevel
	// DataRate sets the initial data rate.
	// Defaults to DataRate1mbps if not provided.
	DataRate DataRate
}

// HardwareConfig combines the chip defaults with the hardware interfaces
// the driver runs on.
type HardwareConfig struct {
	RadioConfig
	// CE is the Chip Enable pin interface.
	CE Pin
}

// Device drives one nRF24L01+ over SPI. It implements Radio.
//
// The driver follows the network layer's cooperative model: one
// goroutine owns the device, so no locking is done here.
type Device struct {
	config  HardwareConfig
	conn    SPI
	ce      Pin
	nrfPort io.Closer
	scratch [33]byte // Max payload (32) + 1 status byte

	// Pipe 0 doubles as the MAC-ack receive pipe, so OpenWritingPipe
	// clobbers its address. The reading address is kept here and restored
	// every time listening resumes.
	pipe0Address    Address
	pipe0AddressSet bool
}

// NewWithHardware creates and initializes an nRF24L01+ driver with the
// provided hardware interfaces. The radio is left powered up in standby;
// call StartListening (or let Network.Begin do it) to go on air.
func NewWithHardware(c HardwareConfig, conn SPI) (*Device, error) {
	if c.CE == nil {
		return nil, fmt.Errorf("CE pin not configured")
	}
	if c.ChannelNumber == 0 {
		c.ChannelNumber = 76
	}
	if c.ChannelNumber > 125 {
		return nil, fmt.Errorf("channel number must be between 0 and 125")
	}
	if c.PALevel == 0 {
		c.PALevel = PALevelMax
	}
	if c.DataRate == 0 {
		c.DataRate = DataRate1mbps
	}

	dev := &Device{
		config: c,
		conn:   conn,
		ce:     c.CE,
	}

	globalLogger.Info("Initializing NRF24L01 SPI communication...")

	// Hold the chip in standby while configuring.
	dev.setCE(false)
	dev.writeRegister(_CONFIG, 0)
	dev.clearStatus()
	dev.flushTX()
	dev.flushRX()

	// Power up as primary receiver with 16-bit CRC until told otherwise.
	dev.writeRegister(_CONFIG, _PWR_UP|_PRIM_RX|_EN_CRC|_CRCO)
	time.Sleep(5 * time.Millisecond)

	dev.writeRegister(_RF_CH, c.ChannelNumber)
	dev.writeRegister(_SETUP_AW, 3) // 5-byte addresses
	dev.writeRegister(_EN_AA, _ALL_PIPES)
	dev.updateRFSetup()

	// Verify the SPI link by reading back the channel.
	if dev.readRegister(_RF_CH) != c.ChannelNumber {
		dev.Close()
		return nil, fmt.Errorf("failed to verify NRF24L01 connection: check wiring/power")
	}

	globalLogger.Info("NRF24L01 initialized and powered up. Ready to operate.")
	return dev, nil
}

func (d *Device) String() string {
	return fmt.Sprintf("NRF24L01(Channel=%d, DataRate=%s, PALevel=%s)",
		d.config.ChannelNumber,
		d.config.DataRate,
		d.config.PALevel,
	)
}

// Close powers the radio down and releases the SPI port.
func (d *Device) Close() error {
	d.writeRegister(_CONFIG, d.readRegister(_CONFIG)&^byte(_PWR_UP))
	globalLogger.Info("NRF24L01 powered down.")

	if d.nrfPort != nil {
		if err := d.nrfPort.Close(); err != nil {
			globalLogger.Warn("Failed to close SPI port")
		}
		globalLogger.Info("SPI bus closed.")
	}
	return nil
}

// --- NRF24L01 Core Functions (SPI interaction) ---

func (d *Device) spiTransfer(n int) (status byte, response []byte) {
	// Full-duplex transaction on the scratch buffer; the same slice is
	// used for read and write.
	slice := d.scratch[:n]
	if err := d.conn.Tx(slice, slice); err != nil {
		globalLogger.Error("SPI Transfer Error")
		return 0, nil
	}

	if n > 0 {
		return d.scratch[0], d.scratch[1:n]
	}
	return 0, nil
}

func (d *Device) writeRegister(reg, val byte) {
	d.scratch[0] = _W_REGISTER | reg
	d.scratch[1] = val
	d.spiTransfer(2)
}

func (d *Device) readRegister(reg byte) byte {
	d.scratch[0] = reg
	d.scratch[1] = _NOP
	_, data := d.spiTransfer(2)
	if len(data) > 0 {
		return data[0]
	}
	return 0
}

func (d *Device) writeRegisterN(reg byte, data []byte) {
	d.scratch[0] = _W_REGISTER | reg
	copy(d.scratch[1:], data)
	d.spiTransfer(1 + len(data))
}

func (d *Device) flushTX() {
	d.scratch[0] = _FLUSH_TX
	d.spiTransfer(1)
}

func (d *Device) flushRX() {
	d.scratch[0] = _FLUSH_RX
	d.spiTransfer(1)
}

func (d *Device) clearStatus() {
	d.writeRegister(_STATUS, _RX_DR|_TX_DS|_MAX_RT)
}

func (d *Device) setCE(level bool) {
	if level {
		d.ce.Out(High)
	} else {
		d.ce.Out(Low)
	}
}

func (d *Device) updateRFSetup() {
	var rfSetup byte
	switch d.config.DataRate {
	case DataRate1mbps:
		// RF_DR_HIGH = 0, RF_DR_LOW = 0
	case DataRate2mbps:
		rfSetup |= 1 << 3 // RF_DR_HIGH
	case DataRate250kbps:
		rfSetup |= 1 << 5 // RF_DR_LOW
	}
	switch d.config.PALevel {
	case PALevelMin:
		// 0
	case PALevelLow:
		rfSetup |= 1 << 1
	case PALevelHigh:
		rfSetup |= 2 << 1
	case PALevelMax:
		rfSetup |= 3 << 1
	}
	d.writeRegister(_RF_SETUP, rfSetup)
}

// --- Radio capability ---

// SetChannel changes the radio channel (frequency).
func (d *Device) SetChannel(channel uint8) error {
	if channel > 125 {
		return fmt.Errorf("channel number must be between 0 and 125")
	}
	d.writeRegister(_RF_CH, channel)
	d.config.ChannelNumber = channel
	return nil
}

// SetDataRate changes the air data rate.
func (d *Device) SetDataRate(rate DataRate) error {
	if rate > DataRate2mbps {
		return fmt.Errorf("unknown data rate")
	}
	d.config.DataRate = rate
	d.updateRFSetup()
	return nil
}

// SetPALevel changes the power amplifier level.
func (d *Device) SetPALevel(level PALevel) error {
	if level > PALevelMax {
		return fmt.Errorf("unknown PA level")
	}
	d.config.PALevel = level
	d.updateRFSetup()
	return nil
}

// SetCRCLength configures the hardware CRC appended to every frame.
func (d *Device) SetCRCLength(length CRCLength) error {
	config := d.readRegister(_CONFIG) &^ byte(_EN_CRC|_CRCO)
	switch length {
	case CRCLengthDisabled:
	case CRCLength8:
		config |= _EN_CRC
	case CRCLength16:
		config |= _EN_CRC | _CRCO
	default:
		return fmt.Errorf("unknown CRC length")
	}
	d.writeRegister(_CONFIG, config)
	return nil
}

// EnableDynamicPayloads turns on per-frame payload lengths on all pipes.
func (d *Device) EnableDynamicPayloads() {
	d.writeRegister(_FEATURE, d.readRegister(_FEATURE)|_EN_DPL)
	d.writeRegister(_DYNPD, _ALL_PIPES)
}

// EnableDynamicAck allows frames to be flagged no-ack individually.
func (d *Device) EnableDynamicAck() {
	d.writeRegister(_FEATURE, d.readRegister(_FEATURE)|_EN_DYN_ACK)
}

// SetRetries programs the auto-retransmit delay (in 250us units) and the
// retransmit count.
func (d *Device) SetRetries(delay, count uint8) {
	d.writeRegister(_SETUP_RETR, (delay&0x0F)<<4|count&0x0F)
}

// OpenReadingPipe enables a data pipe (0-5) with the given address.
// Pipes 2-5 share the high bytes of pipe 1, so only their low byte is
// written.
func (d *Device) OpenReadingPipe(pipe uint8, address Address) error {
	if pipe > 5 {
		return fmt.Errorf("pipe must be between 0 and 5")
	}

	if pipe == 0 {
		d.pipe0Address = address
		d.pipe0AddressSet = true
	}

	if pipe <= 1 {
		d.writeRegisterN(_RX_ADDR_P0+pipe, address[:])
	} else {
		d.writeRegister(_RX_ADDR_P0+pipe, address[0])
	}

	d.writeRegister(_EN_RXADDR, d.readRegister(_EN_RXADDR)|1<<pipe)
	d.writeRegister(_EN_AA, d.readRegister(_EN_AA)|1<<pipe)
	return nil
}

// OpenWritingPipe targets transmissions at the given address. The same
// address lands in RX_ADDR_P0 so the MAC ack finds its way back.
func (d *Device) OpenWritingPipe(address Address) {
	d.writeRegisterN(_TX_ADDR, address[:])
	d.writeRegisterN(_RX_ADDR_P0, address[:])
}

// StartListening puts the radio in receive mode, restoring the pipe 0
// reading address OpenWritingPipe may have clobbered.
func (d *Device) StartListening() {
	d.writeRegister(_CONFIG, d.readRegister(_CONFIG)|_PRIM_RX)
	d.clearStatus()
	if d.pipe0AddressSet {
		d.writeRegisterN(_RX_ADDR_P0, d.pipe0Address[:])
	}
	d.setCE(true)
	time.Sleep(130 * time.Microsecond)
}

// StopListening drops the radio into standby so it can transmit.
func (d *Device) StopListening() {
	d.setCE(false)
	d.writeRegister(_CONFIG, d.readRegister(_CONFIG)&^byte(_PRIM_RX))
}

// Available reports the pipe number of the frame at the head of the
// receive FIFO, if any.
func (d *Device) Available() (uint8, bool) {
	pipe := (d.readRegister(_STATUS) >> 1) & 0x07
	if pipe > 5 {
		return 0, false
	}
	return pipe, true
}

// GetDynamicPayloadSize returns the length of the head frame in the
// receive FIFO. A length above 32 means the FIFO is corrupt; it is
// flushed and 0 returned.
func (d *Device) GetDynamicPayloadSize() uint8 {
	d.scratch[0] = _R_RX_PL_WID
	d.scratch[1] = _NOP
	_, data := d.spiTransfer(2)
	if len(data) == 0 {
		return 0
	}
	if data[0] > 32 {
		d.flushRX()
		d.clearStatus()
		return 0
	}
	return data[0]
}

// Read copies the head frame of the receive FIFO into buf and advances
// the FIFO.
func (d *Device) Read(buf []byte) {
	size := len(buf)
	if size > 32 {
		size = 32
	}

	d.scratch[0] = _R_RX_PAYLOAD
	for i := 1; i <= size; i++ {
		d.scratch[i] = _NOP
	}
	_, data := d.spiTransfer(size + 1)
	copy(buf, data)

	d.clearStatus()
}

// WriteFast uploads one frame and starts the transmitter. It returns
// without waiting; pair it with TxStandBy.
func (d *Device) WriteFast(buf []byte, noAck bool) {
	cmd := byte(_W_TX_PAYLOAD)
	if noAck {
		cmd = _W_TX_PAYLOAD_NOACK
	}

	size := len(buf)
	if size > 32 {
		size = 32
	}
	d.scratch[0] = cmd
	copy(d.scratch[1:], buf[:size])
	d.spiTransfer(1 + size)

	d.setCE(true)
}

// TxStandBy waits for the in-flight frame to finish, reporting whether
// the hardware (and its auto-retransmits) got it onto the air. The CE
// line is dropped back to standby either way.
func (d *Device) TxStandBy(timeoutMillis uint32) bool {
	deadline := time.Now().Add(time.Duration(timeoutMillis) * time.Millisecond)
	ok := false
	for {
		status := d.readRegister(_STATUS)
		if status&(_TX_DS|_MAX_RT) != 0 {
			d.clearStatus()
			if status&_MAX_RT != 0 {
				d.flushTX()
				globalLogger.Debug("TX failed: " + ErrMaxRetries.Error())
			} else {
				ok = true
			}
			break
		}
		if time.Now().After(deadline) {
			d.clearStatus()
			d.flushTX()
			globalLogger.Debug("TX failed: " + ErrTimeout.Error())
			break
		}
		time.Sleep(time.Millisecond)
	}
	d.setCE(false)
	return ok
}

// --- Diagnostics ---

// GetRetransmissionCounters returns the number of lost packets and the
// number of retransmissions for the last sent packet.
func (d *Device) GetRetransmissionCounters() (lostPackets, currentRetries byte) {
	val := d.readRegister(_OBSERVE_TX)
	return (val >> 4) & 0x0F, val & 0x0F
}

// IsCarrierDetected reports whether a carrier above -64dBm is present on
// the current channel.
func (d *Device) IsCarrierDetected() bool {
	return d.readRegister(_RPD)&0x01 != 0
}

// GetStatus reads the current value of the STATUS register.
func (d *Device) GetStatus() byte {
	return d.readRegister(_STATUS)
}
