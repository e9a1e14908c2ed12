package region

import "testing"

func TestGet(t *testing.T) {
	for _, band := range []Band{EU868, US915} {
		p, err := Get(band)
		if err != nil {
			t.Fatalf("Get(%s): %v", band, err)
		}
		if p.Name != band {
			t.Errorf("Name = %s, want %s", p.Name, band)
		}
	}

	if _, err := Get(Band("AS923")); err == nil {
		t.Error("Get accepted an unknown band")
	}
}

func TestEU868(t *testing.T) {
	p, _ := Get(EU868)

	freqs := []struct {
		f     uint32
		valid bool
	}{
		{863000000, true},
		{868100000, true},
		{870000000, true},
		{862999999, false},
		{870000001, false},
	}
	for _, tt := range freqs {
		if got := p.ValidFrequency(tt.f); got != tt.valid {
			t.Errorf("ValidFrequency(%d) = %v, want %v", tt.f, got, tt.valid)
		}
	}

	if !p.ValidTXPower(14) || p.ValidTXPower(15) || p.ValidTXPower(1) {
		t.Error("TX power bounds are wrong")
	}

	if p.MaxDataRate() != 6 {
		t.Errorf("MaxDataRate = %d, want 6", p.MaxDataRate())
	}
	if p.DataRates[0].SpreadFactor != 12 || p.DataRates[5].SpreadFactor != 7 {
		t.Error("data rate table is wrong")
	}
	if p.DataRates[6].Bandwidth != 250 {
		t.Errorf("DR6 bandwidth = %d, want 250", p.DataRates[6].Bandwidth)
	}

	for _, idx := range []int{0, 1, 2} {
		if !p.Protected(idx) {
			t.Errorf("channel %d not protected", idx)
		}
	}
	if p.Protected(3) {
		t.Error("channel 3 protected")
	}

	if len(p.DefaultChannels) != 3 || p.DefaultChannels[0].Frequency != 868100000 {
		t.Errorf("default channels = %+v", p.DefaultChannels)
	}
}

func TestUS915(t *testing.T) {
	p, _ := Get(US915)

	if len(p.DefaultChannels) != 72 {
		t.Fatalf("channel count = %d, want 72", len(p.DefaultChannels))
	}
	if p.DefaultChannels[0].Frequency != 902300000 {
		t.Errorf("channel 0 = %d Hz", p.DefaultChannels[0].Frequency)
	}
	if p.DefaultChannels[64].Frequency != 903000000 || p.DefaultChannels[64].MinDR != 4 {
		t.Errorf("channel 64 = %+v", p.DefaultChannels[64])
	}
	if p.Protected(0) {
		t.Error("US915 has no protected channels")
	}
	if p.MaxChannelIndex != 71 {
		t.Errorf("MaxChannelIndex = %d, want 71", p.MaxChannelIndex)
	}
}
