// Package session implements the LoRaWAN network join state machine,
// frame counters, confirmed-uplink retry tracking and ADR handling for
// the node. It owns the radio during every LoRaWAN TX/RX cycle.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lpwan-node/internal/chanplan"
	"github.com/lorawan-server/lpwan-node/internal/event"
	"github.com/lorawan-server/lpwan-node/internal/hal"
	"github.com/lorawan-server/lpwan-node/internal/radio"
	"github.com/lorawan-server/lpwan-node/internal/telemetry"
	"github.com/lorawan-server/lpwan-node/pkg/lorawan"
	"github.com/lorawan-server/lpwan-node/pkg/region"
)

var (
	// ErrNotJoined is returned for data operations before network admission.
	ErrNotJoined = errors.New("not joined")

	// ErrJoinTimeout is returned when an OTAA join deadline expires.
	ErrJoinTimeout = errors.New("join timed out")

	// ErrJoinInProgress is returned when a join is started twice.
	ErrJoinInProgress = errors.New("join already in progress")

	// ErrSendTimeout is returned when a send deadline expires during the
	// confirmed-uplink retry schedule.
	ErrSendTimeout = errors.New("send timed out")
)

// State is the join state of the engine.
type State int

const (
	Idle State = iota
	Joining
	Joined
	JoinFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case JoinFailed:
		return "join_failed"
	default:
		return "unknown"
	}
}

// Timings groups the receive-window schedule. Tests shrink these to keep
// retry loops fast; production uses Defaults.
type Timings struct {
	RX1Delay     time.Duration // uplink end to RX1 open
	RXWindow     time.Duration // RX window length
	JoinRXWindow time.Duration // join accept wait per attempt
	JoinInterval time.Duration // pause between OTAA attempts
}

// DefaultTimings returns the LoRaWAN 1.0.x class-A schedule.
func DefaultTimings() Timings {
	return Timings{
		RX1Delay:     time.Second,
		RXWindow:     2 * time.Second,
		JoinRXWindow: 6 * time.Second,
		JoinInterval: 10 * time.Second,
	}
}

// BandTimings returns the class-A schedule with the band's RX1 delay.
func BandTimings(band *region.Parameters) Timings {
	t := DefaultTimings()
	if band.RX1DelaySeconds > 0 {
		t.RX1Delay = time.Duration(band.RX1DelaySeconds) * time.Second
	}
	return t
}

// JoinParams carries the activation material for Join/StartJoin.
type JoinParams struct {
	Activation radio.Activation

	// OTAA
	JoinEUI lorawan.EUI64
	AppKey  lorawan.AES128Key

	// ABP
	DevAddr lorawan.DevAddr
	NwkSKey lorawan.AES128Key
	AppSKey lorawan.AES128Key
}

// Downlink is a received application payload queued for socket readers.
type Downlink struct {
	FPort   uint8
	Payload []byte
}

// Engine is the LoRaWAN session engine.
type Engine struct {
	cfg     *radio.Config
	plan    *chanplan.Plan
	trx     hal.Transceiver
	events  *event.Registry
	stats   *telemetry.Store
	timings Timings

	// radioMu serializes every TX/RX cycle on the single front-end.
	radioMu sync.Mutex

	mu         sync.Mutex
	state      State
	activation radio.Activation
	devAddr    lorawan.DevAddr
	nwkSKey    lorawan.AES128Key
	appSKey    lorawan.AES128Key
	fcntUp     uint32
	fcntDown   uint32
	battery    uint8
	pendingMAC []lorawan.MACCommand
	rxQueue    []Downlink

	joinCancel context.CancelFunc
	joinDone   chan struct{}
}

// NewEngine returns an idle engine.
func NewEngine(cfg *radio.Config, plan *chanplan.Plan, trx hal.Transceiver, events *event.Registry, stats *telemetry.Store, timings Timings) *Engine {
	return &Engine{
		cfg:     cfg,
		plan:    plan,
		trx:     trx,
		events:  events,
		stats:   stats,
		timings: timings,
		state:   Idle,
		battery: 255, // unknown, per DevStatusAns convention
	}
}

// State returns the current join state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HasJoined reports whether the engine holds a live session.
func (e *Engine) HasJoined() bool {
	return e.State() == Joined
}

// StartJoin begins network activation and returns immediately. ABP
// installs the session synchronously; OTAA leaves the engine in Joining
// until an accept arrives, to be observed through HasJoined.
func (e *Engine) StartJoin(p JoinParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Joining:
		return ErrJoinInProgress
	case Idle, Joined, JoinFailed:
	}

	if p.Activation == radio.ABP {
		e.activation = radio.ABP
		e.devAddr = p.DevAddr
		e.nwkSKey = p.NwkSKey
		e.appSKey = p.AppSKey
		e.fcntUp = 0
		e.fcntDown = 0
		e.state = Joined

		log.Info().
			Str("dev_addr", p.DevAddr.String()).
			Msg("ABP session installed")
		return nil
	}

	e.activation = radio.OTAA
	e.state = Joining
	e.joinDone = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	e.joinCancel = cancel
	go e.joinLoop(ctx, p, e.joinDone)

	log.Info().
		Str("join_eui", p.JoinEUI.String()).
		Msg("OTAA join started")
	return nil
}

// Join blocks until activation completes or ctx is done. A ctx deadline
// is the join timeout: on expiry the engine transitions through
// JoinFailed back to an idle state and ErrJoinTimeout is returned.
func (e *Engine) Join(ctx context.Context, p JoinParams) error {
	if err := e.StartJoin(p); err != nil {
		return err
	}
	if p.Activation == radio.ABP {
		return nil
	}

	e.mu.Lock()
	done := e.joinDone
	e.mu.Unlock()

	select {
	case <-done:
		if e.HasJoined() {
			return nil
		}
		e.settleFailedJoin()
		return ErrJoinTimeout
	case <-ctx.Done():
		e.AbortJoin()
		<-done
		e.settleFailedJoin()
		return fmt.Errorf("%w: %v", ErrJoinTimeout, ctx.Err())
	}
}

// settleFailedJoin completes the Joining, JoinFailed, Idle walk once the
// failure has been observed by the caller.
func (e *Engine) settleFailedJoin() {
	e.mu.Lock()
	if e.state == JoinFailed {
		e.state = Idle
	}
	e.mu.Unlock()
}

// AbortJoin cancels an in-flight OTAA attempt and marks the join failed.
func (e *Engine) AbortJoin() {
	e.mu.Lock()
	cancel := e.joinCancel
	if e.state == Joining {
		e.state = JoinFailed
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// joinLoop is the asynchronous OTAA exchange. It retries join requests
// until an accept arrives or the context is cancelled.
func (e *Engine) joinLoop(ctx context.Context, p JoinParams, done chan struct{}) {
	defer close(done)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		accepted, err := e.joinAttempt(ctx, p)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("join attempt failed")
		}
		if accepted {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.timings.JoinInterval):
		}
	}
}

// joinAttempt transmits one join request and listens for the accept.
func (e *Engine) joinAttempt(ctx context.Context, p JoinParams) (bool, error) {
	var devNonce [2]byte
	if _, err := rand.Read(devNonce[:]); err != nil {
		return false, fmt.Errorf("dev nonce: %w", err)
	}

	frame, err := lorawan.BuildJoinRequest(p.JoinEUI, e.trx.DevEUI(), devNonce, p.AppKey)
	if err != nil {
		return false, fmt.Errorf("build join request: %w", err)
	}

	e.radioMu.Lock()
	defer e.radioMu.Unlock()

	if err := e.configurePHY(e.cfg.DataRate(), false); err != nil {
		return false, err
	}
	if err := e.trx.Transmit(ctx, frame); err != nil {
		return false, fmt.Errorf("transmit join request: %w", err)
	}

	if err := e.configurePHY(e.cfg.DataRate(), true); err != nil {
		return false, err
	}
	raw, meta, err := e.trx.Receive(ctx, e.timings.JoinRXWindow)
	if err != nil {
		if errors.Is(err, hal.ErrRxTimeout) {
			return false, nil
		}
		return false, err
	}

	ja, err := lorawan.DecodeJoinAccept(p.AppKey, raw)
	if err != nil {
		return false, fmt.Errorf("decode join accept: %w", err)
	}

	nwkSKey, appSKey, err := lorawan.DeriveSessionKeys10(p.AppKey, ja.JoinNonce, ja.NetID, devNonce)
	if err != nil {
		return false, fmt.Errorf("derive session keys: %w", err)
	}

	e.stats.RecordRx(meta)

	e.mu.Lock()
	e.devAddr = ja.DevAddr
	e.nwkSKey = nwkSKey
	e.appSKey = appSKey
	e.fcntUp = 0
	e.fcntDown = 0
	e.state = Joined
	e.mu.Unlock()

	log.Info().
		Str("dev_addr", ja.DevAddr.String()).
		Msg("join accept processed, session established")
	return true, nil
}

// Send transmits an application uplink on fport. Confirmed uplinks are
// attempted up to retries+1 times, each retry waiting out the previous
// attempt's receive windows; the TX outcome is reported through the
// event registry. A ctx deadline bounds the whole retry schedule: on
// expiry the remaining retries are dropped, TX_FAILED is posted and
// ErrSendTimeout returned.
func (e *Engine) Send(ctx context.Context, fport uint8, payload []byte, confirmed bool) error {
	e.mu.Lock()
	if e.state != Joined {
		e.mu.Unlock()
		return ErrNotJoined
	}
	fcnt := e.fcntUp
	devAddr := e.devAddr
	nwkSKey, appSKey := e.nwkSKey, e.appSKey
	fopts := lorawan.EncodeMACCommands(e.pendingMAC)
	e.pendingMAC = nil
	e.mu.Unlock()

	retries := 0
	if confirmed {
		retries = e.cfg.TXRetries()
	}
	dr := e.cfg.DataRate()

	port := fport
	frame, err := lorawan.BuildDataFrame(lorawan.DataFrame{
		Confirmed: confirmed,
		DevAddr:   devAddr,
		FCnt:      uint16(fcnt),
		FCtrl:     lorawan.FCtrl{ADR: e.cfg.ADR()},
		FOpts:     fopts,
		FPort:     &port,
		Payload:   payload,
	}, true, nwkSKey, appSKey)
	if err != nil {
		return fmt.Errorf("build uplink: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSendTimeout, err)
	}

	e.radioMu.Lock()
	defer e.radioMu.Unlock()

	acked := false
	timedOut := false
	trials := 0
	for attempt := 0; attempt <= retries; attempt++ {
		trials++
		if err := e.configurePHY(dr, false); err != nil {
			return err
		}
		if err := e.trx.Transmit(ctx, frame); err != nil {
			return fmt.Errorf("transmit uplink: %w", err)
		}

		gotAck, err := e.receiveWindows(ctx, dr)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				timedOut = true
				break
			}
			return err
		}
		if !confirmed {
			break
		}
		if gotAck {
			acked = true
			break
		}
		if ctx.Err() != nil {
			timedOut = true
			break
		}
	}

	e.mu.Lock()
	e.fcntUp++
	e.mu.Unlock()
	e.stats.RecordTx(dr, trials)

	if confirmed && !acked {
		log.Warn().
			Int("trials", trials).
			Uint32("fcnt", fcnt).
			Bool("deadline", timedOut).
			Msg("confirmed uplink not acknowledged")
		e.events.Post(event.TxFailed)
		if timedOut {
			return fmt.Errorf("%w: %d of %d trials used", ErrSendTimeout, trials, retries+1)
		}
		return nil
	}

	e.events.Post(event.TxPacket)
	return nil
}

// receiveWindows runs the class-A receive schedule after an uplink: RX1
// on the uplink parameters, then RX2 on the band's fixed downlink
// channel if RX1 closes empty. Reports whether an ACK was seen.
func (e *Engine) receiveWindows(ctx context.Context, dr uint8) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(e.timings.RX1Delay):
	}

	if err := e.configurePHY(dr, true); err != nil {
		return false, err
	}
	raw, meta, err := e.trx.Receive(ctx, e.timings.RXWindow)
	if err == nil {
		return e.handleDownlink(raw, meta), nil
	}
	if !errors.Is(err, hal.ErrRxTimeout) {
		return false, err
	}

	if err := e.configureRX2(); err != nil {
		return false, err
	}
	raw, meta, err = e.trx.Receive(ctx, e.timings.RXWindow)
	if err != nil {
		if errors.Is(err, hal.ErrRxTimeout) {
			return false, nil
		}
		return false, err
	}
	return e.handleDownlink(raw, meta), nil
}

// handleDownlink authenticates, decrypts and dispatches one downlink.
func (e *Engine) handleDownlink(raw []byte, meta hal.RxMetadata) bool {
	e.mu.Lock()
	devAddr := e.devAddr
	nwkSKey, appSKey := e.nwkSKey, e.appSKey
	e.mu.Unlock()

	f, err := lorawan.ParseDataFrame(raw, false, devAddr, nwkSKey, appSKey)
	if err != nil {
		log.Debug().Err(err).Msg("discarding downlink")
		return false
	}

	e.stats.RecordRx(meta)

	e.mu.Lock()
	e.fcntDown = uint32(f.FCnt)
	e.mu.Unlock()

	if len(f.FOpts) > 0 {
		e.handleMACCommands(f.FOpts)
	}

	if f.FPort != nil {
		if *f.FPort == 0 {
			e.handleMACCommands(f.Payload)
		} else if len(f.Payload) > 0 {
			e.mu.Lock()
			e.rxQueue = append(e.rxQueue, Downlink{FPort: *f.FPort, Payload: f.Payload})
			e.mu.Unlock()
			e.events.Post(event.RxPacket)
		}
	}

	return f.FCtrl.ACK
}

// handleMACCommands processes downlink MAC commands and queues answers
// for the next uplink.
func (e *Engine) handleMACCommands(data []byte) {
	cmds, err := lorawan.ParseMACCommands(false, data)
	if err != nil {
		log.Debug().Err(err).Msg("discarding MAC commands")
		return
	}

	for _, cmd := range cmds {
		switch cmd.CID {
		case lorawan.LinkADRReq:
			dr, err := lorawan.LinkADRReqDataRate(cmd)
			if err != nil {
				continue
			}
			status := byte(0x07) // accept everything
			if e.cfg.ADR() {
				if err := e.cfg.SetDataRate(dr); err != nil {
					status = 0x05 // data rate rejected
				} else {
					log.Info().Uint8("data_rate", dr).Msg("ADR data rate applied")
				}
			} else {
				// Network may not steer a device with ADR disabled.
				status = 0x05
			}
			e.queueMAC(lorawan.MACCommand{CID: lorawan.LinkADRAns, Payload: []byte{status}})

		case lorawan.DevStatusReq:
			e.mu.Lock()
			battery := e.battery
			e.mu.Unlock()
			margin := int8(e.stats.Stats().SNR)
			e.queueMAC(lorawan.NewDevStatusAns(battery, margin))
		}
	}
}

func (e *Engine) queueMAC(cmd lorawan.MACCommand) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingMAC = append(e.pendingMAC, cmd)
}

// SetBatteryLevel stores the level reported in DevStatusAns, clamped to
// [0,100]. No network traffic results from the call itself.
func (e *Engine) SetBatteryLevel(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	e.mu.Lock()
	e.battery = uint8(level)
	e.mu.Unlock()
}

// BatteryLevel returns the stored battery level.
func (e *Engine) BatteryLevel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.battery)
}

// PopDownlink removes and returns the oldest queued downlink.
func (e *Engine) PopDownlink() (Downlink, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rxQueue) == 0 {
		return Downlink{}, false
	}
	d := e.rxQueue[0]
	e.rxQueue = e.rxQueue[1:]
	return d, true
}

// FrameCounters returns the uplink and downlink frame counters.
func (e *Engine) FrameCounters() (up, down uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fcntUp, e.fcntDown
}

// DevAddr returns the session device address.
func (e *Engine) DevAddr() lorawan.DevAddr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.devAddr
}

// Reset drops the session and returns the engine to Idle, cancelling any
// in-flight join.
func (e *Engine) Reset() {
	e.mu.Lock()
	cancel := e.joinCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	e.mu.Lock()
	e.state = Idle
	e.devAddr = lorawan.DevAddr{}
	e.nwkSKey = lorawan.AES128Key{}
	e.appSKey = lorawan.AES128Key{}
	e.fcntUp = 0
	e.fcntDown = 0
	e.rxQueue = nil
	e.pendingMAC = nil
	e.mu.Unlock()
}

// configurePHY pushes the modulation parameters for data rate dr. The
// rx flag selects downlink IQ inversion the way the MAC owns it in
// LoRaWAN mode.
func (e *Engine) configurePHY(dr uint8, rx bool) error {
	band := e.cfg.Band()
	if int(dr) >= len(band.DataRates) {
		dr = band.MaxDataRate()
	}
	mod := band.DataRates[dr]

	e.mu.Lock()
	fcnt := e.fcntUp
	e.mu.Unlock()

	freq := e.cfg.Frequency()
	if chans := e.plan.ForDataRate(dr); len(chans) > 0 {
		freq = chans[int(fcnt)%len(chans)].Frequency
	}

	return e.trx.Configure(hal.PHYConfig{
		Frequency:       freq,
		SpreadingFactor: int(mod.SpreadFactor),
		BandwidthKHz:    mod.Bandwidth,
		CodingRate:      int(radio.Coding4_5),
		PreambleSymbols: 8,
		TXPower:         e.cfg.TXPower(),
		TXIQInverted:    false,
		RXIQInverted:    rx,
		PublicSync:      e.cfg.PublicSync(),
	})
}

// configureRX2 retunes to the band's fixed RX2 channel. US915 lists a
// downlink-only RX2 data rate, so the index is clamped to the uplink
// table the same way configurePHY clamps.
func (e *Engine) configureRX2() error {
	band := e.cfg.Band()
	dr := band.RX2DataRate
	if int(dr) >= len(band.DataRates) {
		dr = band.MaxDataRate()
	}
	mod := band.DataRates[dr]

	return e.trx.Configure(hal.PHYConfig{
		Frequency:       band.RX2Frequency,
		SpreadingFactor: int(mod.SpreadFactor),
		BandwidthKHz:    mod.Bandwidth,
		CodingRate:      int(radio.Coding4_5),
		PreambleSymbols: 8,
		TXPower:         e.cfg.TXPower(),
		RXIQInverted:    true,
		PublicSync:      e.cfg.PublicSync(),
	})
}
