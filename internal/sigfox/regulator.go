package sigfox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lpwan-node/internal/event"
	"github.com/lorawan-server/lpwan-node/internal/hal"
	"github.com/lorawan-server/lpwan-node/internal/radio"
	"github.com/lorawan-server/lpwan-node/internal/telemetry"
)

// DefaultCooldown is the minimum spacing after a burst of two
// default-channel transmissions in rotation zones.
const DefaultCooldown = 20 * time.Second

// ErrCooldownPending signals a non-blocking caller that the regulator
// would have to delay the transmission.
var ErrCooldownPending = errors.New("duty-cycle cooldown pending")

// Clock abstracts time so duty-cycle tests run without real waits.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// SendOptions selects the frame kind for one uplink.
type SendOptions struct {
	OOB             bool
	SingleBit       bool
	BitValue        bool
	RequestDownlink bool
	// Block controls whether a pending cooldown delays the call or
	// fails it with ErrCooldownPending.
	Block bool
}

// Regulator owns the Sigfox send path and enforces the regional
// macro-channel duty cycle. A violated cooldown is never an error for a
// blocking caller: the call is transparently delayed instead.
type Regulator struct {
	cfg    *radio.Config
	trx    hal.Transceiver
	events *event.Registry
	stats  *telemetry.Store
	clock  Clock

	// radioMu serializes the TX/RX cycle on the single front-end.
	radioMu sync.Mutex

	mu            sync.Mutex
	txSinceWindow int // default-channel transmissions in current burst, 0 or 1 before reset
	lastDefaultTx time.Time
	cooldownUntil time.Time
	seq           uint16
	rxQueue       [][]byte

	rxWindow time.Duration
}

// NewRegulator returns a regulator using clock for all timing.
func NewRegulator(cfg *radio.Config, trx hal.Transceiver, events *event.Registry, stats *telemetry.Store, clock Clock) *Regulator {
	if clock == nil {
		clock = RealClock()
	}
	return &Regulator{
		cfg:      cfg,
		trx:      trx,
		events:   events,
		stats:    stats,
		clock:    clock,
		rxWindow: time.Second,
	}
}

// SetRXWindow adjusts the downlink listen window length.
func (r *Regulator) SetRXWindow(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rxWindow = d
}

// regulated reports whether the duty-cycle rules apply at all: only the
// Sigfox personality in rotation zones is constrained, FSK never is.
func (r *Regulator) regulated() bool {
	if r.cfg.SigfoxMode() != radio.SigfoxModeSigfox {
		return false
	}
	return zoneFor(r.cfg.Zone()).Rotation
}

// Frequencies returns the currently computed (uplink, downlink) pair.
// In rotation zones the uplink walks the micro-channels of the default
// macro-channel as the burst counter advances.
func (r *Regulator) Frequencies() (uplink, downlink uint32) {
	z := zoneFor(r.cfg.Zone())
	r.mu.Lock()
	defer r.mu.Unlock()

	uplink = z.UplinkHz
	if z.Rotation {
		uplink += uint32(r.txSinceWindow) * z.MicroStepHz
	}
	return uplink, z.DownlinkHz
}

// Send transmits one Sigfox uplink, delaying first if the duty cycle
// requires it, and opens a downlink window afterwards when requested.
func (r *Regulator) Send(payload []byte, opts SendOptions) error {
	if err := r.awaitSlot(opts.Block); err != nil {
		return err
	}

	r.mu.Lock()
	seq := r.seq
	r.seq++
	r.mu.Unlock()

	f := Frame{
		ID:        r.stats.SigfoxID(),
		Seq:       seq,
		OOB:       opts.OOB,
		SingleBit: opts.SingleBit,
		BitValue:  opts.BitValue,
		Downlink:  opts.RequestDownlink,
		Payload:   payload,
	}
	raw, err := f.Marshal()
	if err != nil {
		return err
	}

	uplinkHz, downlinkHz := r.Frequencies()

	r.radioMu.Lock()
	defer r.radioMu.Unlock()

	if err := r.trx.Configure(hal.PHYConfig{
		Frequency: uplinkHz,
		TXPower:   r.cfg.TXPower(),
	}); err != nil {
		return err
	}
	if err := r.trx.Transmit(context.Background(), raw); err != nil {
		return fmt.Errorf("transmit sigfox frame: %w", err)
	}

	r.recordTransmission()
	r.stats.RecordTx(0, 1)
	r.events.Post(event.TxPacket)

	log.Debug().
		Uint16("seq", seq).
		Uint32("uplink_hz", uplinkHz).
		Bool("oob", opts.OOB).
		Msg("sigfox uplink sent")

	if opts.RequestDownlink {
		r.receiveDownlink(downlinkHz)
	}
	return nil
}

// awaitSlot blocks (or fails, for non-blocking callers) until the
// regulator may transmit on the default macro-channel again.
func (r *Regulator) awaitSlot(block bool) error {
	if !r.regulated() {
		return nil
	}

	r.mu.Lock()
	if r.txSinceWindow < 2 {
		r.mu.Unlock()
		return nil
	}
	wait := r.cooldownUntil.Sub(r.clock.Now())
	r.mu.Unlock()

	if wait > 0 {
		if !block {
			return ErrCooldownPending
		}
		log.Info().
			Dur("wait", wait).
			Msg("duty-cycle cooldown, delaying transmission")
		r.clock.Sleep(wait)
	}

	r.mu.Lock()
	r.txSinceWindow = 0
	r.mu.Unlock()
	return nil
}

// recordTransmission updates the burst counter and cooldown deadline.
func (r *Regulator) recordTransmission() {
	if !r.regulated() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.txSinceWindow++
	r.lastDefaultTx = now
	r.cooldownUntil = now.Add(DefaultCooldown)
}

// receiveDownlink listens on the downlink frequency and queues whatever
// arrives for socket readers.
func (r *Regulator) receiveDownlink(downlinkHz uint32) {
	if err := r.trx.Configure(hal.PHYConfig{Frequency: downlinkHz}); err != nil {
		log.Warn().Err(err).Msg("sigfox downlink configure failed")
		return
	}

	raw, meta, err := r.trx.Receive(context.Background(), r.rxWindow)
	if err != nil {
		if !errors.Is(err, hal.ErrRxTimeout) {
			log.Warn().Err(err).Msg("sigfox downlink receive failed")
		}
		return
	}

	r.stats.RecordRx(meta)
	r.mu.Lock()
	r.rxQueue = append(r.rxQueue, raw)
	r.mu.Unlock()
	r.events.Post(event.RxPacket)
}

// PopDownlink removes and returns the oldest received downlink.
func (r *Regulator) PopDownlink() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rxQueue) == 0 {
		return nil, false
	}
	d := r.rxQueue[0]
	r.rxQueue = r.rxQueue[1:]
	return d, true
}
