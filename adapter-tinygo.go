//go:build tinygo

package rf24network

import (
	"machine"
)

// tinygoPin wraps a machine.Pin to satisfy the Pin interface.
type tinygoPin struct {
	pin machine.Pin
}

func (p *tinygoPin) Out(l Level) error {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(bool(l))
	return nil
}

// tinygoSPI wraps a machine.SPI to satisfy the SPI interface.
type tinygoSPI struct {
	spi *machine.SPI
	cs  machine.Pin
}

func (s *tinygoSPI) Tx(w, r []byte) error {
	s.cs.Low()
	err := s.spi.Tx(w, r)
	s.cs.High()
	return err
}

// TinyGoConfig holds the configuration for the TinyGo driver.
type TinyGoConfig struct {
	RadioConfig
	// SPI is the SPI bus to use.
	SPI *machine.SPI
	// CSPin is the Chip Select (CS) pin.
	CSPin machine.Pin
	// CEPin is the Chip Enable (CE) pin.
	CEPin machine.Pin
}

// NewRadioTinyGo creates a new nRF24L01+ driver for TinyGo systems.
func NewRadioTinyGo(c TinyGoConfig) (*Device, error) {
	// Configure CS pin as output and set high (inactive)
	c.CSPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	c.CSPin.High()

	hwConfig := HardwareConfig{
		RadioConfig: c.RadioConfig,
		CE:          &tinygoPin{pin: c.CEPin},
	}

	return NewWithHardware(hwConfig, &tinygoSPI{spi: c.SPI, cs: c.CSPin})
}
