// Package hal is the boundary to the physical radio front-end. Register
// access, SPI wiring and interrupt plumbing live behind the Transceiver
// interface; everything above it is hardware-independent.
package hal

import (
	"context"
	"errors"
	"time"

	"github.com/lorawan-server/lpwan-node/pkg/lorawan"
)

// ErrRxTimeout reports that a receive window closed with no frame.
var ErrRxTimeout = errors.New("rx window expired")

// PHYConfig carries the modulation parameters pushed to the front-end
// before a transmit or receive cycle.
type PHYConfig struct {
	Frequency       uint32 // Hz
	SpreadingFactor int
	BandwidthKHz    int
	CodingRate      int
	PreambleSymbols int
	TXPower         int // dBm
	TXIQInverted    bool
	RXIQInverted    bool
	PublicSync      bool
}

// RxMetadata describes the reception quality of a received frame.
type RxMetadata struct {
	RSSI      int     // dBm
	SNR       float64 // dB
	DataRate  uint8
	Timestamp time.Time
}

// Transceiver is the raw transmit/receive primitive of the single
// physical front-end. Implementations must be safe for use from one
// goroutine at a time; serialization is the caller's job.
type Transceiver interface {
	// Configure pushes modulation parameters to the front-end.
	Configure(cfg PHYConfig) error

	// Transmit sends one frame and returns when the air time is over.
	Transmit(ctx context.Context, payload []byte) error

	// Receive opens a receive window of the given length and returns the
	// first frame that arrives, or ErrRxTimeout when the window closes
	// empty. A zero window means listen until ctx is done.
	Receive(ctx context.Context, window time.Duration) ([]byte, RxMetadata, error)

	// DevEUI returns the factory-programmed 8-byte hardware identifier.
	DevEUI() lorawan.EUI64

	// SigfoxID returns the 4-byte Sigfox device ID.
	SigfoxID() [4]byte

	// SigfoxPAC returns the 8-byte Sigfox porting authorization code.
	SigfoxPAC() [8]byte

	Close() error
}
