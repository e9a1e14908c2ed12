// Package telemetry keeps the last-packet statistics and the fixed
// identity values of the radio.
package telemetry

import (
	"sync"

	"github.com/lorawan-server/lpwan-node/internal/hal"
	"github.com/lorawan-server/lpwan-node/pkg/lorawan"
)

// PacketStats is the snapshot captured after every completed RX or TX
// cycle. Readers always get a copy, never a live reference.
type PacketStats struct {
	RxTimestamp int64   `json:"rxTimestamp"` // monotonic microseconds
	RSSI        int     `json:"rssi"`        // dBm
	SNR         float64 `json:"snr"`         // dB
	SFTx        uint8   `json:"sftx"`
	SFRx        uint8   `json:"sfrx"`
	TxTrials    int     `json:"txTrials"`
}

// Store holds the mutable stats and the cached identity values.
type Store struct {
	mu    sync.RWMutex
	stats PacketStats

	mac       lorawan.EUI64
	sigfoxID  [4]byte
	sigfoxPAC [8]byte
}

// NewStore fetches the identity values from the transceiver once and
// caches them for the lifetime of the radio handle.
func NewStore(trx hal.Transceiver) *Store {
	return &Store{
		mac:       trx.DevEUI(),
		sigfoxID:  trx.SigfoxID(),
		sigfoxPAC: trx.SigfoxPAC(),
	}
}

// RecordRx overwrites the RX half of the stats.
func (s *Store) RecordRx(meta hal.RxMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.RxTimestamp = meta.Timestamp.UnixMicro()
	s.stats.RSSI = meta.RSSI
	s.stats.SNR = meta.SNR
	s.stats.SFRx = meta.DataRate
}

// RecordTx overwrites the TX half of the stats.
func (s *Store) RecordTx(dataRate uint8, trials int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.SFTx = dataRate
	s.stats.TxTrials = trials
}

// Stats returns an immutable snapshot copy.
func (s *Store) Stats() PacketStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// MAC returns the cached 8-byte hardware identifier.
func (s *Store) MAC() lorawan.EUI64 { return s.mac }

// SigfoxID returns the cached 4-byte Sigfox device ID.
func (s *Store) SigfoxID() [4]byte { return s.sigfoxID }

// SigfoxPAC returns the cached 8-byte Sigfox PAC.
func (s *Store) SigfoxPAC() [8]byte { return s.sigfoxPAC }
