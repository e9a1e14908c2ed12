package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lpwan-node/internal/event"
	"github.com/lorawan-server/lpwan-node/internal/hal"
	"github.com/lorawan-server/lpwan-node/internal/radio"
)

// ErrWrongMode is returned when an operation does not match the
// configured radio personality.
var ErrWrongMode = errors.New("operation invalid for radio mode")

// SendRaw transmits payload with the configured raw-LoRa modulation
// parameters. Valid only in raw-LoRa mode; the LoRaWAN MAC owns the PHY
// otherwise.
func (e *Engine) SendRaw(payload []byte) error {
	if e.cfg.Mode() != radio.ModeLoRa {
		return fmt.Errorf("%w: raw send in mode %d", ErrWrongMode, e.cfg.Mode())
	}

	e.radioMu.Lock()
	defer e.radioMu.Unlock()

	if err := e.trx.Configure(e.rawPHY(false)); err != nil {
		return err
	}
	if err := e.trx.Transmit(context.Background(), payload); err != nil {
		return fmt.Errorf("transmit raw frame: %w", err)
	}

	e.stats.RecordTx(uint8(e.cfg.SpreadingFactor()), 1)
	e.events.Post(event.TxPacket)
	return nil
}

// RunRawListener keeps a receive window open in raw-LoRa mode, queueing
// every heard frame and raising RX events, until ctx is done.
func (e *Engine) RunRawListener(ctx context.Context) {
	for ctx.Err() == nil {
		if e.cfg.Mode() != radio.ModeLoRa || e.cfg.PowerMode() != radio.AlwaysOn {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		e.radioMu.Lock()
		if err := e.trx.Configure(e.rawPHY(true)); err != nil {
			e.radioMu.Unlock()
			log.Warn().Err(err).Msg("raw listener configure failed")
			return
		}
		raw, meta, err := e.trx.Receive(ctx, 100*time.Millisecond)
		e.radioMu.Unlock()

		if err != nil {
			if errors.Is(err, hal.ErrRxTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("raw listener receive failed")
			continue
		}

		e.stats.RecordRx(meta)
		e.mu.Lock()
		e.rxQueue = append(e.rxQueue, Downlink{Payload: raw})
		e.mu.Unlock()
		e.events.Post(event.RxPacket)
	}
}

// rawPHY builds the PHY configuration from the raw-LoRa parameter set.
func (e *Engine) rawPHY(rx bool) hal.PHYConfig {
	p := e.cfg.Snapshot()

	bw := 125
	switch p.Bandwidth {
	case radio.BW250KHz:
		bw = 250
	case radio.BW500KHz:
		bw = 500
	}

	iq := p.TXIQ
	if rx {
		iq = p.RXIQ
	}

	return hal.PHYConfig{
		Frequency:       p.Frequency,
		SpreadingFactor: p.SpreadingFactor,
		BandwidthKHz:    bw,
		CodingRate:      int(p.CodingRate),
		PreambleSymbols: p.PreambleSymbols,
		TXPower:         p.TXPower,
		TXIQInverted:    p.TXIQ,
		RXIQInverted:    iq,
		PublicSync:      p.PublicSync,
	}
}
