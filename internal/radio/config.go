package radio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lpwan-node/pkg/region"
)

// ErrConfig is wrapped by every parameter validation failure.
var ErrConfig = errors.New("invalid radio configuration")

// Params is the full parameter set of the radio front-end.
//
// In LoRaWAN mode only ADR, PublicSync, TXRetries and DeviceClass have a
// radio effect; the MAC layer owns the PHY fields. In raw-LoRa mode the PHY
// fields are honored and only PublicSync among the LoRaWAN group matters.
// Setters for unhonored fields are still accepted and recorded, matching
// the firmware contract.
type Params struct {
	Mode            Mode
	Frequency       uint32 // Hz
	TXPower         int    // dBm
	Bandwidth       Bandwidth
	SpreadingFactor int
	CodingRate      CodingRate
	PreambleSymbols int
	PowerMode       PowerMode
	TXIQ            bool
	RXIQ            bool
	ADR             bool
	PublicSync      bool
	TXRetries       int
	DeviceClass     DeviceClass
	DataRate        uint8

	SigfoxMode SigfoxMode
	Zone       Zone
}

// Config is the validated configuration store. Exactly one exists per
// radio handle; all mutation goes through it so a rejected change can
// never leave partial state behind.
type Config struct {
	mu   sync.RWMutex
	band *region.Parameters
	p    Params
}

// New validates defaults against the band and returns the committed store.
func New(band region.Band, defaults Params) (*Config, error) {
	params, err := region.Get(band)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	c := &Config{band: params}
	if err := c.validate(defaults); err != nil {
		return nil, err
	}
	c.p = defaults

	log.Debug().
		Str("band", string(band)).
		Uint32("frequency", defaults.Frequency).
		Int("tx_power", defaults.TXPower).
		Msg("radio configuration committed")

	return c, nil
}

// Band returns the regional parameters the store validates against.
func (c *Config) Band() *region.Parameters {
	return c.band
}

// Apply validates every field of p and commits all of them, or none.
func (c *Config) Apply(p Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validate(p); err != nil {
		return err
	}
	c.p = p
	return nil
}

// Snapshot returns a copy of the committed parameters.
func (c *Config) Snapshot() Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p
}

func (c *Config) validate(p Params) error {
	if !c.band.ValidFrequency(p.Frequency) {
		return fmt.Errorf("%w: frequency %d Hz outside %d-%d",
			ErrConfig, p.Frequency, c.band.MinFrequency, c.band.MaxFrequency)
	}
	if !c.band.ValidTXPower(p.TXPower) {
		return fmt.Errorf("%w: tx power %d dBm outside %d-%d",
			ErrConfig, p.TXPower, c.band.MinTXPower, c.band.MaxTXPower)
	}
	if p.Bandwidth < BW125KHz || p.Bandwidth > BW500KHz {
		return fmt.Errorf("%w: bandwidth %d", ErrConfig, p.Bandwidth)
	}
	if p.SpreadingFactor < MinSpreadingFactor || p.SpreadingFactor > MaxSpreadingFactor {
		return fmt.Errorf("%w: spreading factor %d", ErrConfig, p.SpreadingFactor)
	}
	if p.CodingRate < Coding4_5 || p.CodingRate > Coding4_8 {
		return fmt.Errorf("%w: coding rate %d", ErrConfig, p.CodingRate)
	}
	if p.PreambleSymbols < 1 {
		return fmt.Errorf("%w: preamble %d symbols", ErrConfig, p.PreambleSymbols)
	}
	if p.PowerMode < AlwaysOn || p.PowerMode > Sleep {
		return fmt.Errorf("%w: power mode %d", ErrConfig, p.PowerMode)
	}
	if p.TXRetries < 0 {
		return fmt.Errorf("%w: negative tx retries", ErrConfig)
	}
	if p.DeviceClass != ClassA && p.DeviceClass != ClassC {
		return fmt.Errorf("%w: device class %d", ErrConfig, p.DeviceClass)
	}
	if !c.band.ValidDataRate(p.DataRate) {
		return fmt.Errorf("%w: data rate %d", ErrConfig, p.DataRate)
	}
	if p.Zone < RCZ1 || p.Zone > RCZ4 {
		return fmt.Errorf("%w: zone %d", ErrConfig, p.Zone)
	}
	return nil
}

// Mode returns the configured radio mode.
func (c *Config) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.Mode
}

// Frequency returns the configured frequency in Hz.
func (c *Config) Frequency() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.Frequency
}

// SetFrequency validates f against the band and commits it.
func (c *Config) SetFrequency(f uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.band.ValidFrequency(f) {
		return fmt.Errorf("%w: frequency %d Hz outside %d-%d",
			ErrConfig, f, c.band.MinFrequency, c.band.MaxFrequency)
	}
	c.p.Frequency = f
	return nil
}

// TXPower returns the configured transmit power in dBm.
func (c *Config) TXPower() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.TXPower
}

// SetTXPower validates pw against the band and commits it.
func (c *Config) SetTXPower(pw int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.band.ValidTXPower(pw) {
		return fmt.Errorf("%w: tx power %d dBm outside %d-%d",
			ErrConfig, pw, c.band.MinTXPower, c.band.MaxTXPower)
	}
	c.p.TXPower = pw
	return nil
}

// Bandwidth returns the configured raw-LoRa bandwidth.
func (c *Config) Bandwidth() Bandwidth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.Bandwidth
}

// SetBandwidth commits bw. Meaningful only in raw-LoRa mode.
func (c *Config) SetBandwidth(bw Bandwidth) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bw < BW125KHz || bw > BW500KHz {
		return fmt.Errorf("%w: bandwidth %d", ErrConfig, bw)
	}
	c.p.Bandwidth = bw
	return nil
}

// SpreadingFactor returns the configured raw-LoRa spreading factor.
func (c *Config) SpreadingFactor() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.SpreadingFactor
}

// SetSpreadingFactor commits sf. Meaningful only in raw-LoRa mode.
func (c *Config) SetSpreadingFactor(sf int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sf < MinSpreadingFactor || sf > MaxSpreadingFactor {
		return fmt.Errorf("%w: spreading factor %d", ErrConfig, sf)
	}
	c.p.SpreadingFactor = sf
	return nil
}

// CodingRate returns the configured raw-LoRa coding rate.
func (c *Config) CodingRate() CodingRate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.CodingRate
}

// SetCodingRate commits cr. Meaningful only in raw-LoRa mode.
func (c *Config) SetCodingRate(cr CodingRate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cr < Coding4_5 || cr > Coding4_8 {
		return fmt.Errorf("%w: coding rate %d", ErrConfig, cr)
	}
	c.p.CodingRate = cr
	return nil
}

// Preamble returns the configured preamble length in symbols.
func (c *Config) Preamble() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.PreambleSymbols
}

// SetPreamble commits n preamble symbols. Meaningful only in raw-LoRa mode.
func (c *Config) SetPreamble(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 {
		return fmt.Errorf("%w: preamble %d symbols", ErrConfig, n)
	}
	c.p.PreambleSymbols = n
	return nil
}

// PowerMode returns the configured power mode.
func (c *Config) PowerMode() PowerMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.PowerMode
}

// SetPowerMode commits pm.
func (c *Config) SetPowerMode(pm PowerMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pm < AlwaysOn || pm > Sleep {
		return fmt.Errorf("%w: power mode %d", ErrConfig, pm)
	}
	c.p.PowerMode = pm
	return nil
}

// ADR reports whether adaptive data rate is enabled.
func (c *Config) ADR() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.ADR
}

// SetADR commits the ADR flag.
func (c *Config) SetADR(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.p.ADR = on
}

// PublicSync reports whether the public sync word is selected.
func (c *Config) PublicSync() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.PublicSync
}

// SetPublicSync commits the sync word selection.
func (c *Config) SetPublicSync(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.p.PublicSync = on
}

// TXRetries returns the confirmed-uplink retry count.
func (c *Config) TXRetries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.TXRetries
}

// SetTXRetries commits the confirmed-uplink retry count.
func (c *Config) SetTXRetries(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 {
		return fmt.Errorf("%w: negative tx retries", ErrConfig)
	}
	c.p.TXRetries = n
	return nil
}

// DeviceClass returns the configured LoRaWAN device class.
func (c *Config) DeviceClass() DeviceClass {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.DeviceClass
}

// SetDeviceClass commits the device class.
func (c *Config) SetDeviceClass(dc DeviceClass) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dc != ClassA && dc != ClassC {
		return fmt.Errorf("%w: device class %d", ErrConfig, dc)
	}
	c.p.DeviceClass = dc
	return nil
}

// DataRate returns the configured uplink data rate.
func (c *Config) DataRate() uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.DataRate
}

// SetDataRate commits the uplink data rate.
func (c *Config) SetDataRate(dr uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.band.ValidDataRate(dr) {
		return fmt.Errorf("%w: data rate %d", ErrConfig, dr)
	}
	c.p.DataRate = dr
	return nil
}

// SigfoxMode returns the configured Sigfox personality.
func (c *Config) SigfoxMode() SigfoxMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.SigfoxMode
}

// Zone returns the configured Sigfox regulatory zone.
func (c *Config) Zone() Zone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p.Zone
}
