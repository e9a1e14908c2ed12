// Package simradio is a simulated transceiver with a built-in network
// behavior model: it answers OTAA join requests, acknowledges confirmed
// uplinks and delivers queued downlinks. It backs the test suites and the
// demo daemon; no real hardware is involved.
package simradio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lpwan-node/internal/hal"
	"github.com/lorawan-server/lpwan-node/pkg/lorawan"
)

// Options configures the simulated radio and its network model.
type Options struct {
	DevEUI    lorawan.EUI64
	JoinEUI   lorawan.EUI64
	AppKey    lorawan.AES128Key
	SigfoxID  [4]byte
	SigfoxPAC [8]byte

	// AcceptJoinOnAttempt accepts the Nth join request (1 = first).
	// Zero never accepts.
	AcceptJoinOnAttempt int

	// AckConfirmed acknowledges every confirmed uplink in its RX window.
	AckConfirmed bool

	// DevAddr assigned on join accept.
	DevAddr lorawan.DevAddr
}

type queuedDownlink struct {
	fport   uint8
	payload []byte
}

// Radio is a simulated hal.Transceiver.
type Radio struct {
	opts Options

	mu           sync.Mutex
	phy          hal.PHYConfig
	closed       bool
	joinAttempts int
	joined       bool
	nwkSKey      lorawan.AES128Key
	appSKey      lorawan.AES128Key
	fcntDown     uint16
	pendingRx    [][]byte
	downlinks    []queuedDownlink
	uplinks      [][]byte
	rawRx        [][]byte
}

// New returns a simulated radio.
func New(opts Options) *Radio {
	return &Radio{opts: opts}
}

// Configure implements hal.Transceiver.
func (r *Radio) Configure(cfg hal.PHYConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("simradio: closed")
	}
	r.phy = cfg
	return nil
}

// Transmit records the uplink and runs the network model against it.
func (r *Radio) Transmit(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("simradio: closed")
	}

	frame := append([]byte(nil), payload...)
	r.uplinks = append(r.uplinks, frame)
	r.react(frame)
	return nil
}

// react inspects a transmitted frame and enqueues the network's answer.
func (r *Radio) react(frame []byte) {
	if len(frame) == 0 {
		return
	}

	mtype := lorawan.MType((frame[0] >> 5) & 0x07)
	switch mtype {
	case lorawan.JoinRequest:
		r.reactJoinRequest(frame)
	case lorawan.ConfirmedDataUp, lorawan.UnconfirmedDataUp:
		r.reactDataUplink(frame, mtype == lorawan.ConfirmedDataUp)
	default:
		// Raw LoRa or Sigfox frame; nothing to answer unless queued.
	}
}

func (r *Radio) reactJoinRequest(frame []byte) {
	jr, err := lorawan.ParseJoinRequest(frame, r.opts.AppKey)
	if err != nil {
		log.Warn().Err(err).Msg("simradio: bad join request")
		return
	}

	r.joinAttempts++
	if r.opts.AcceptJoinOnAttempt == 0 || r.joinAttempts < r.opts.AcceptJoinOnAttempt {
		return
	}

	ja := lorawan.JoinAcceptPayload{
		JoinNonce: [3]byte{0x01, byte(r.joinAttempts), 0x00},
		NetID:     [3]byte{0x00, 0x00, 0x13},
		DevAddr:   r.opts.DevAddr,
		RxDelay:   1,
	}

	accept, err := lorawan.BuildJoinAccept(r.opts.AppKey, ja)
	if err != nil {
		log.Error().Err(err).Msg("simradio: build join accept")
		return
	}

	nwkSKey, appSKey, err := lorawan.DeriveSessionKeys10(
		r.opts.AppKey, ja.JoinNonce, ja.NetID, jr.DevNonce)
	if err != nil {
		log.Error().Err(err).Msg("simradio: derive session keys")
		return
	}

	r.joined = true
	r.nwkSKey = nwkSKey
	r.appSKey = appSKey
	r.fcntDown = 0
	r.pendingRx = append(r.pendingRx, accept)
}

func (r *Radio) reactDataUplink(frame []byte, confirmed bool) {
	if !r.joined {
		return
	}

	if _, err := lorawan.ParseDataFrame(frame, true, r.opts.DevAddr, r.nwkSKey, r.appSKey); err != nil {
		log.Warn().Err(err).Msg("simradio: bad data uplink")
		return
	}

	wantAck := confirmed && r.opts.AckConfirmed
	if !wantAck && len(r.downlinks) == 0 {
		return
	}

	down := lorawan.DataFrame{
		DevAddr: r.opts.DevAddr,
		FCnt:    r.fcntDown,
		FCtrl:   lorawan.FCtrl{ACK: wantAck},
	}
	if len(r.downlinks) > 0 {
		q := r.downlinks[0]
		r.downlinks = r.downlinks[1:]
		fport := q.fport
		down.FPort = &fport
		down.Payload = q.payload
	}

	phy, err := lorawan.BuildDataFrame(down, false, r.nwkSKey, r.appSKey)
	if err != nil {
		log.Error().Err(err).Msg("simradio: build downlink")
		return
	}
	r.fcntDown++
	r.pendingRx = append(r.pendingRx, phy)
}

// Receive implements hal.Transceiver. Pending network answers are
// delivered immediately; otherwise the window runs down empty unless a
// raw frame was injected.
func (r *Radio) Receive(ctx context.Context, window time.Duration) ([]byte, hal.RxMetadata, error) {
	deadline := time.NewTimer(window)
	defer deadline.Stop()

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, hal.RxMetadata{}, fmt.Errorf("simradio: closed")
		}
		if len(r.pendingRx) > 0 {
			frame := r.pendingRx[0]
			r.pendingRx = r.pendingRx[1:]
			meta := hal.RxMetadata{
				RSSI:      -61,
				SNR:       7.75,
				DataRate:  5,
				Timestamp: time.Now(),
			}
			r.mu.Unlock()
			return frame, meta, nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, hal.RxMetadata{}, ctx.Err()
		case <-deadline.C:
			if window > 0 {
				return nil, hal.RxMetadata{}, hal.ErrRxTimeout
			}
		case <-time.After(time.Millisecond):
		}
	}
}

// DevEUI implements hal.Transceiver.
func (r *Radio) DevEUI() lorawan.EUI64 { return r.opts.DevEUI }

// SigfoxID implements hal.Transceiver.
func (r *Radio) SigfoxID() [4]byte { return r.opts.SigfoxID }

// SigfoxPAC implements hal.Transceiver.
func (r *Radio) SigfoxPAC() [8]byte { return r.opts.SigfoxPAC }

// Close implements hal.Transceiver.
func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// SetSession installs network-side ABP session state so the model can
// acknowledge uplinks of a personalized device.
func (r *Radio) SetSession(devAddr lorawan.DevAddr, nwkSKey, appSKey lorawan.AES128Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.DevAddr = devAddr
	r.nwkSKey = nwkSKey
	r.appSKey = appSKey
	r.joined = true
	r.fcntDown = 0
}

// QueueDownlink schedules an application downlink delivered in the RX
// window after the next uplink.
func (r *Radio) QueueDownlink(fport uint8, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downlinks = append(r.downlinks, queuedDownlink{fport: fport, payload: append([]byte(nil), payload...)})
}

// InjectFrame makes a raw frame available to the next Receive, bypassing
// the network model. Used for raw-LoRa and Sigfox downlink paths.
func (r *Radio) InjectFrame(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingRx = append(r.pendingRx, append([]byte(nil), frame...))
}

// Uplinks returns a copy of every transmitted frame.
func (r *Radio) Uplinks() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.uplinks))
	copy(out, r.uplinks)
	return out
}

// JoinAttempts returns the number of join requests seen.
func (r *Radio) JoinAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinAttempts
}

// LastPHYConfig returns the most recently pushed modulation parameters.
func (r *Radio) LastPHYConfig() hal.PHYConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phy
}
