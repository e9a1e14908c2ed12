package device

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lorawan-server/lpwan-node/internal/event"
	"github.com/lorawan-server/lpwan-node/internal/hal/simradio"
	"github.com/lorawan-server/lpwan-node/internal/radio"
	"github.com/lorawan-server/lpwan-node/internal/session"
	"github.com/lorawan-server/lpwan-node/internal/socket"
	"github.com/lorawan-server/lpwan-node/pkg/region"
)

func testDefaults(mode radio.Mode) radio.Params {
	return radio.Params{
		Mode:            mode,
		Frequency:       868100000,
		TXPower:         14,
		Bandwidth:       radio.BW125KHz,
		SpreadingFactor: 7,
		CodingRate:      radio.Coding4_5,
		PreambleSymbols: 8,
		PowerMode:       radio.TXOnly,
		TXRetries:       2,
		DeviceClass:     radio.ClassA,
		DataRate:        5,
	}
}

func newDevice(t *testing.T, family socket.Family) *Device {
	t.Helper()

	timings := session.Timings{
		RX1Delay:     time.Millisecond,
		RXWindow:     20 * time.Millisecond,
		JoinRXWindow: 30 * time.Millisecond,
		JoinInterval: 5 * time.Millisecond,
	}
	dev, err := New(simradio.New(simradio.Options{}), Options{
		Band:     region.EU868,
		Defaults: testDefaults(radio.ModeLoRaWAN),
		Family:   family,
		Timings:  &timings,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestFamilyAccessors(t *testing.T) {
	lora := newDevice(t, socket.FamilyLoRa)
	if lora.Session() == nil || lora.Plan() == nil {
		t.Error("lora device missing engine or plan")
	}
	if lora.Sigfox() != nil {
		t.Error("lora device has a regulator")
	}

	sfx := newDevice(t, socket.FamilySigfox)
	if sfx.Sigfox() == nil {
		t.Error("sigfox device missing regulator")
	}
	if sfx.Session() != nil || sfx.Plan() != nil {
		t.Error("sigfox device exposes lora state")
	}
}

func TestJoinWrongFamily(t *testing.T) {
	dev := newDevice(t, socket.FamilySigfox)

	err := dev.StartJoin(session.JoinParams{Activation: radio.ABP})
	if !errors.Is(err, session.ErrWrongMode) {
		t.Errorf("StartJoin on sigfox device = %v, want ErrWrongMode", err)
	}
	if dev.HasJoined() {
		t.Error("sigfox device reports joined")
	}
}

func TestEventsReadAndClear(t *testing.T) {
	dev := newDevice(t, socket.FamilyLoRa)

	dev.Registry().Post(event.TxPacket)
	if got := dev.Events(); got != event.TxPacket {
		t.Fatalf("Events = %b", got)
	}
	if got := dev.Events(); got != 0 {
		t.Errorf("second read = %b, want cleared", got)
	}
}

func TestCallbackFires(t *testing.T) {
	dev := newDevice(t, socket.FamilyLoRa)

	var fired atomic.Int32
	dev.SetCallback(event.RxPacket, func(m event.Mask) {
		fired.Add(1)
	})

	dev.Registry().Post(event.TxPacket) // outside the trigger mask
	dev.Registry().Post(event.RxPacket)
	if got := fired.Load(); got != 1 {
		t.Errorf("callback fired %d times, want 1", got)
	}
}

func TestNewSocketMatchesFamily(t *testing.T) {
	lora := newDevice(t, socket.FamilyLoRa)
	s := lora.NewSocket()
	if err := s.Bind(2); err != nil {
		t.Errorf("lora socket Bind: %v", err)
	}

	sfx := newDevice(t, socket.FamilySigfox)
	if err := sfx.NewSocket().Bind(2); err == nil {
		t.Error("sigfox socket accepted Bind")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	dev := newDevice(t, socket.FamilyLoRa)

	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
