package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lorawan-server/lpwan-node/internal/radio"
	"github.com/lorawan-server/lpwan-node/pkg/lorawan"
	"github.com/lorawan-server/lpwan-node/pkg/region"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Node.Name != "lpwan-node" || cfg.Node.Family != "lora" {
		t.Errorf("node = %+v", cfg.Node)
	}
	if cfg.Radio.Band != "EU868" || cfg.Radio.Mode != "lorawan" {
		t.Errorf("radio = %+v", cfg.Radio)
	}
	if cfg.Radio.SpreadingFactor != 7 || cfg.Radio.BandwidthKHz != 125 || cfg.Radio.CodingRate != "4/5" {
		t.Errorf("phy defaults = %+v", cfg.Radio)
	}
	if cfg.Sigfox.Zone != "RCZ1" || cfg.Sigfox.Mode != "sigfox" {
		t.Errorf("sigfox = %+v", cfg.Sigfox)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("api port = %d", cfg.API.Port)
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" || cfg.NATS.PublishInterval != 30*time.Second {
		t.Errorf("nats = %+v", cfg.NATS)
	}
	if cfg.MQTT.TopicPattern != "lpwan/{node}/{kind}" {
		t.Errorf("mqtt topic = %q", cfg.MQTT.TopicPattern)
	}
	if cfg.JWT.AccessTokenTTL != time.Hour {
		t.Errorf("access ttl = %s", cfg.JWT.AccessTokenTTL)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yml")
	data := `
node:
  name: bench-1
  family: sigfox
radio:
  band: US915
sigfox:
  zone: RCZ2
  id: "001cab42"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Name != "bench-1" || cfg.Node.Family != "sigfox" {
		t.Errorf("node = %+v", cfg.Node)
	}
	if zone, _ := cfg.Zone(); zone != radio.RCZ2 {
		t.Errorf("zone = %v", zone)
	}
	if band, _ := cfg.Band(); band != region.US915 {
		t.Errorf("band = %v", band)
	}
	// Untouched sections still get defaults.
	if cfg.Radio.Mode != "lorawan" || cfg.Log.Level != "info" {
		t.Error("defaults not applied over file values")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad family", func(c *Config) { c.Node.Family = "nbiot" }},
		{"bad band", func(c *Config) { c.Radio.Band = "AS923" }},
		{"bad mode", func(c *Config) { c.Radio.Mode = "fhss" }},
		{"bad coding rate", func(c *Config) { c.Radio.CodingRate = "4/9" }},
		{"bad bandwidth", func(c *Config) { c.Radio.BandwidthKHz = 200 }},
		{"bad zone", func(c *Config) { c.Sigfox.Zone = "RCZ9" }},
		{"api without secret", func(c *Config) { c.API.Enabled = true; c.JWT.Secret = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NATS_URL", "nats://broker.internal:4222")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NATS.URL != "nats://broker.internal:4222" {
		t.Errorf("nats url = %q", cfg.NATS.URL)
	}
	if cfg.JWT.Secret != "from-env" {
		t.Errorf("jwt secret = %q", cfg.JWT.Secret)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestRadioParams(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	params, err := cfg.RadioParams()
	if err != nil {
		t.Fatalf("RadioParams: %v", err)
	}
	if params.Mode != radio.ModeLoRaWAN {
		t.Errorf("mode = %v", params.Mode)
	}
	if params.Frequency != 868100000 {
		t.Errorf("frequency = %d, want first default channel", params.Frequency)
	}
	if params.TXPower != 14 {
		t.Errorf("tx power = %d, want band maximum", params.TXPower)
	}
	if params.Bandwidth != radio.BW125KHz || params.CodingRate != radio.Coding4_5 {
		t.Errorf("phy = %+v", params)
	}

	cfg.Radio.Frequency = 869525000
	cfg.Radio.TXPower = 10
	params, err = cfg.RadioParams()
	if err != nil {
		t.Fatal(err)
	}
	if params.Frequency != 869525000 || params.TXPower != 10 {
		t.Errorf("explicit values not honored: %+v", params)
	}
}

func TestJoinParamsOTAA(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.LoRaWAN.JoinEUI = "70b3d57ed0000001"
	cfg.LoRaWAN.AppKey = "2b7e151628aed2a6abf7158809cf4f3c"

	p, err := cfg.JoinParams()
	if err != nil {
		t.Fatalf("JoinParams: %v", err)
	}
	if p.Activation != radio.OTAA {
		t.Errorf("activation = %v", p.Activation)
	}
	want := lorawan.EUI64{0x70, 0xb3, 0xd5, 0x7e, 0xd0, 0x00, 0x00, 0x01}
	if p.JoinEUI != want {
		t.Errorf("join eui = %s", p.JoinEUI)
	}

	cfg.LoRaWAN.AppKey = "zz"
	if _, err := cfg.JoinParams(); err == nil {
		t.Error("accepted a malformed app key")
	}
}

func TestJoinParamsABP(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.LoRaWAN.Activation = "abp"
	cfg.LoRaWAN.DevAddr = "2601149f"
	cfg.LoRaWAN.NwkSKey = "000102030405060708090a0b0c0d0e0f"
	cfg.LoRaWAN.AppSKey = "0f0e0d0c0b0a09080706050403020100"

	p, err := cfg.JoinParams()
	if err != nil {
		t.Fatalf("JoinParams: %v", err)
	}
	if p.Activation != radio.ABP {
		t.Errorf("activation = %v", p.Activation)
	}
	if p.DevAddr != (lorawan.DevAddr{0x26, 0x01, 0x14, 0x9f}) {
		t.Errorf("dev addr = %s", p.DevAddr)
	}

	cfg.LoRaWAN.DevAddr = "xyz"
	if _, err := cfg.JoinParams(); err == nil {
		t.Error("accepted a malformed dev addr")
	}
}
