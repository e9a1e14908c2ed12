package telemetry

import (
	"testing"
	"time"

	"github.com/lorawan-server/lpwan-node/internal/hal"
	"github.com/lorawan-server/lpwan-node/internal/hal/simradio"
	"github.com/lorawan-server/lpwan-node/pkg/lorawan"
)

func TestIdentityCaching(t *testing.T) {
	trx := simradio.New(simradio.Options{
		DevEUI:    lorawan.EUI64{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77},
		SigfoxID:  [4]byte{0x00, 0x1c, 0xab, 0x42},
		SigfoxPAC: [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
	})
	s := NewStore(trx)

	if s.MAC().String() != "0011223344556677" {
		t.Errorf("MAC = %s", s.MAC())
	}
	if s.SigfoxID() != [4]byte{0x00, 0x1c, 0xab, 0x42} {
		t.Errorf("SigfoxID = %x", s.SigfoxID())
	}
	if s.SigfoxPAC() != [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08} {
		t.Errorf("SigfoxPAC = %x", s.SigfoxPAC())
	}
}

func TestStatsSnapshot(t *testing.T) {
	s := NewStore(simradio.New(simradio.Options{}))

	ts := time.Unix(1700000000, 123000)
	s.RecordRx(hal.RxMetadata{RSSI: -61, SNR: 7.75, DataRate: 5, Timestamp: ts})
	s.RecordTx(3, 2)

	got := s.Stats()
	if got.RSSI != -61 || got.SNR != 7.75 || got.SFRx != 5 {
		t.Errorf("rx stats = %+v", got)
	}
	if got.SFTx != 3 || got.TxTrials != 2 {
		t.Errorf("tx stats = %+v", got)
	}
	if got.RxTimestamp != ts.UnixMicro() {
		t.Errorf("timestamp = %d", got.RxTimestamp)
	}

	// The snapshot is a copy: later records do not change it.
	s.RecordTx(1, 1)
	if got.SFTx != 3 {
		t.Error("snapshot mutated after a later record")
	}
}
