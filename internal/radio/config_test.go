package radio

import (
	"errors"
	"testing"

	"github.com/lorawan-server/lpwan-node/pkg/region"
)

func validParams() Params {
	return Params{
		Mode:            ModeLoRaWAN,
		Frequency:       868100000,
		TXPower:         14,
		Bandwidth:       BW125KHz,
		SpreadingFactor: 7,
		CodingRate:      Coding4_5,
		PreambleSymbols: 8,
		PowerMode:       AlwaysOn,
		TXRetries:       2,
		DeviceClass:     ClassA,
		DataRate:        5,
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(region.EU868, validParams()); err != nil {
		t.Fatalf("New rejected valid defaults: %v", err)
	}

	bad := validParams()
	bad.Frequency = 433000000
	if _, err := New(region.EU868, bad); !errors.Is(err, ErrConfig) {
		t.Errorf("New(433 MHz) err = %v, want ErrConfig", err)
	}

	if _, err := New(region.Band("XX"), validParams()); err == nil {
		t.Error("New accepted an unknown band")
	}
}

func TestSettersRejectAndKeepState(t *testing.T) {
	c, err := New(region.EU868, validParams())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"frequency below band", func() error { return c.SetFrequency(862000000) }},
		{"frequency above band", func() error { return c.SetFrequency(871000000) }},
		{"tx power too high", func() error { return c.SetTXPower(20) }},
		{"tx power too low", func() error { return c.SetTXPower(1) }},
		{"bandwidth out of range", func() error { return c.SetBandwidth(Bandwidth(3)) }},
		{"spreading factor low", func() error { return c.SetSpreadingFactor(6) }},
		{"spreading factor high", func() error { return c.SetSpreadingFactor(13) }},
		{"coding rate out of range", func() error { return c.SetCodingRate(CodingRate(4)) }},
		{"zero preamble", func() error { return c.SetPreamble(0) }},
		{"negative retries", func() error { return c.SetTXRetries(-1) }},
		{"class B unsupported", func() error { return c.SetDeviceClass(DeviceClass(1)) }},
		{"data rate out of band", func() error { return c.SetDataRate(7) }},
	}

	before := c.Snapshot()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrConfig) {
				t.Fatalf("err = %v, want ErrConfig", err)
			}
		})
	}
	if c.Snapshot() != before {
		t.Error("a rejected setter changed committed state")
	}
}

func TestSettersCommit(t *testing.T) {
	c, err := New(region.EU868, validParams())
	if err != nil {
		t.Fatal(err)
	}

	if err := c.SetFrequency(869525000); err != nil {
		t.Fatal(err)
	}
	if got := c.Frequency(); got != 869525000 {
		t.Errorf("Frequency = %d", got)
	}

	if err := c.SetSpreadingFactor(12); err != nil {
		t.Fatal(err)
	}
	if got := c.SpreadingFactor(); got != 12 {
		t.Errorf("SpreadingFactor = %d", got)
	}

	c.SetADR(true)
	if !c.ADR() {
		t.Error("ADR not committed")
	}

	if err := c.SetDataRate(3); err != nil {
		t.Fatal(err)
	}
	if got := c.DataRate(); got != 3 {
		t.Errorf("DataRate = %d", got)
	}
}

func TestApplyAllOrNothing(t *testing.T) {
	c, err := New(region.US915, Params{
		Mode:            ModeLoRaWAN,
		Frequency:       902300000,
		TXPower:         20,
		Bandwidth:       BW125KHz,
		SpreadingFactor: 10,
		CodingRate:      Coding4_5,
		PreambleSymbols: 8,
		PowerMode:       AlwaysOn,
		TXRetries:       1,
		DeviceClass:     ClassA,
		DataRate:        0,
	})
	if err != nil {
		t.Fatal(err)
	}

	before := c.Snapshot()

	// Every field of the batch is valid except the data rate, so the
	// whole batch must be rejected.
	next := before
	next.Frequency = 915000000
	next.TXPower = 10
	next.DataRate = 9
	if err := c.Apply(next); !errors.Is(err, ErrConfig) {
		t.Fatalf("Apply err = %v, want ErrConfig", err)
	}
	if c.Snapshot() != before {
		t.Error("rejected Apply leaked partial state")
	}

	next.DataRate = 4
	if err := c.Apply(next); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if c.Frequency() != 915000000 || c.TXPower() != 10 {
		t.Error("accepted Apply did not commit")
	}
}

func TestWireValues(t *testing.T) {
	if BW125KHz != 0 || BW250KHz != 1 || BW500KHz != 2 {
		t.Error("bandwidth values drifted")
	}
	if Coding4_5 != 0 || Coding4_8 != 3 {
		t.Error("coding rate values drifted")
	}
	if ModeLoRa != 0 || ModeLoRaWAN != 1 {
		t.Error("mode values drifted")
	}
	if AlwaysOn != 0 || TXOnly != 1 || Sleep != 2 {
		t.Error("power mode values drifted")
	}
	if ClassA != 0 || ClassC != 2 {
		t.Error("device class values drifted")
	}
	if RCZ1 != 0 || RCZ4 != 3 {
		t.Error("zone values drifted")
	}
	if OTAA != 0 || ABP != 1 {
		t.Error("activation values drifted")
	}
}
