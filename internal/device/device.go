// Package device assembles the radio subsystem around one owned
// transceiver handle: configuration store, channel plan, event
// registry, telemetry and the per-family data-path engines.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lpwan-node/internal/chanplan"
	"github.com/lorawan-server/lpwan-node/internal/event"
	"github.com/lorawan-server/lpwan-node/internal/hal"
	"github.com/lorawan-server/lpwan-node/internal/radio"
	"github.com/lorawan-server/lpwan-node/internal/session"
	"github.com/lorawan-server/lpwan-node/internal/sigfox"
	"github.com/lorawan-server/lpwan-node/internal/socket"
	"github.com/lorawan-server/lpwan-node/internal/telemetry"
	"github.com/lorawan-server/lpwan-node/pkg/region"
)

// Options configures a new Device.
type Options struct {
	Band     region.Band
	Defaults radio.Params
	Family   socket.Family
	Timings  *session.Timings // nil derives the class-A schedule from the band
	Clock    sigfox.Clock     // nil means the wall clock
}

// Device owns one transceiver and everything built on top of it. Two
// devices never share a transceiver handle.
type Device struct {
	trx    hal.Transceiver
	cfg    *radio.Config
	plan   *chanplan.Plan
	events *event.Registry
	stats  *telemetry.Store
	family socket.Family

	engine    *session.Engine
	regulator *sigfox.Regulator

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New initialises the subsystem on trx. The transceiver is configured
// lazily on first transmit, so New does not touch the air.
func New(trx hal.Transceiver, opts Options) (*Device, error) {
	cfg, err := radio.New(opts.Band, opts.Defaults)
	if err != nil {
		return nil, fmt.Errorf("radio config: %w", err)
	}

	d := &Device{
		trx:    trx,
		cfg:    cfg,
		plan:   chanplan.New(cfg.Band()),
		events: event.NewRegistry(),
		stats:  telemetry.NewStore(trx),
		family: opts.Family,
	}

	timings := session.BandTimings(cfg.Band())
	if opts.Timings != nil {
		timings = *opts.Timings
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	switch opts.Family {
	case socket.FamilySigfox:
		d.regulator = sigfox.NewRegulator(cfg, trx, d.events, d.stats, opts.Clock)
		log.Info().
			Hex("sigfox_id", idBytes(d.stats.SigfoxID())).
			Int("zone", int(cfg.Zone())).
			Msg("sigfox device ready")
	default:
		d.engine = session.NewEngine(cfg, d.plan, trx, d.events, d.stats, timings)
		go d.engine.RunRawListener(ctx)
		log.Info().
			Str("dev_eui", d.stats.MAC().String()).
			Int("mode", int(cfg.Mode())).
			Msg("lora device ready")
	}

	return d, nil
}

func idBytes(id [4]byte) []byte { return id[:] }

// Family reports which radio family the device speaks.
func (d *Device) Family() socket.Family { return d.family }

// Config returns the shared configuration store.
func (d *Device) Config() *radio.Config { return d.cfg }

// Plan returns the channel plan. Nil for Sigfox devices.
func (d *Device) Plan() *chanplan.Plan {
	if d.family == socket.FamilySigfox {
		return nil
	}
	return d.plan
}

// Stats returns the telemetry store.
func (d *Device) Stats() *telemetry.Store { return d.stats }

// Registry returns the event registry for subscriptions.
func (d *Device) Registry() *event.Registry { return d.events }

// Events reads and clears the pending event bits.
func (d *Device) Events() event.Mask { return d.events.Events() }

// SetCallback registers handler for the events in trigger. The handler
// runs on the posting goroutine and must not block.
func (d *Device) SetCallback(trigger event.Mask, handler event.Handler) {
	d.events.SetHandler(trigger, handler)
}

// Session returns the LoRaWAN engine. Nil for Sigfox devices.
func (d *Device) Session() *session.Engine { return d.engine }

// Sigfox returns the duty-cycle regulator. Nil for LoRa devices.
func (d *Device) Sigfox() *sigfox.Regulator { return d.regulator }

// Join performs an over-the-air or personalised activation, blocking
// until the session is established or ctx expires.
func (d *Device) Join(ctx context.Context, p session.JoinParams) error {
	if d.engine == nil {
		return session.ErrWrongMode
	}
	return d.engine.Join(ctx, p)
}

// StartJoin begins activation without waiting; poll HasJoined or wait
// for the session through the registry.
func (d *Device) StartJoin(p session.JoinParams) error {
	if d.engine == nil {
		return session.ErrWrongMode
	}
	return d.engine.StartJoin(p)
}

// HasJoined reports whether a LoRaWAN session is established.
func (d *Device) HasJoined() bool {
	return d.engine != nil && d.engine.HasJoined()
}

// NewSocket opens a data-path endpoint matching the device family.
func (d *Device) NewSocket() *socket.Socket {
	if d.family == socket.FamilySigfox {
		return socket.NewSigfox(d.cfg, d.events, d.regulator)
	}
	return socket.NewLoRa(d.cfg, d.events, d.engine)
}

// Close stops background work and releases the transceiver.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		if d.engine != nil {
			d.engine.AbortJoin()
		}
		d.closeErr = d.trx.Close()
	})
	return d.closeErr
}
