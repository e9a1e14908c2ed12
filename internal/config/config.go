// Package config loads the node configuration from YAML with
// environment overrides and translates it into the typed parameters
// the radio subsystem consumes.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/lpwan-node/internal/radio"
	"github.com/lorawan-server/lpwan-node/internal/session"
	"github.com/lorawan-server/lpwan-node/pkg/lorawan"
	"github.com/lorawan-server/lpwan-node/pkg/region"
)

// Config represents the node configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Radio   RadioConfig   `yaml:"radio"`
	LoRaWAN LoRaWANConfig `yaml:"lorawan"`
	Sigfox  SigfoxConfig  `yaml:"sigfox"`
	Sim     SimConfig     `yaml:"sim"`
	API     APIConfig     `yaml:"api"`
	JWT     JWTConfig     `yaml:"jwt"`
	NATS    NATSConfig    `yaml:"nats"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Log     LogConfig     `yaml:"log"`
}

// NodeConfig identifies the node and selects the radio family.
type NodeConfig struct {
	Name   string `yaml:"name"`
	Family string `yaml:"family"` // lora | sigfox
}

// RadioConfig holds the physical-layer defaults.
type RadioConfig struct {
	Band            string `yaml:"band"` // EU868 | US915
	Mode            string `yaml:"mode"` // lora | lorawan
	Frequency       uint32 `yaml:"frequency"`
	TXPower         int    `yaml:"tx_power"`
	SpreadingFactor int    `yaml:"spreading_factor"`
	BandwidthKHz    int    `yaml:"bandwidth_khz"` // 125 | 250 | 500
	CodingRate      string `yaml:"coding_rate"`   // 4/5 .. 4/8
	Preamble        int    `yaml:"preamble"`
	PowerMode       string `yaml:"power_mode"` // always_on | tx_only | sleep
	ADR             bool   `yaml:"adr"`
	PublicSync      bool   `yaml:"public_sync"`
	TXRetries       int    `yaml:"tx_retries"`
	DeviceClass     string `yaml:"device_class"` // A | C
	DataRate        uint8  `yaml:"data_rate"`
}

// LoRaWANConfig holds activation identity and keys as hex strings.
type LoRaWANConfig struct {
	Activation  string        `yaml:"activation"` // otaa | abp
	DevEUI      string        `yaml:"dev_eui"`
	JoinEUI     string        `yaml:"join_eui"`
	AppKey      string        `yaml:"app_key"`
	DevAddr     string        `yaml:"dev_addr"`
	NwkSKey     string        `yaml:"nwk_s_key"`
	AppSKey     string        `yaml:"app_s_key"`
	JoinTimeout time.Duration `yaml:"join_timeout"` // 0 waits forever
}

// SigfoxConfig selects the regulatory zone and uplink modulation.
type SigfoxConfig struct {
	Zone string `yaml:"zone"` // RCZ1..RCZ4
	Mode string `yaml:"mode"` // sigfox | fsk
	ID   string `yaml:"id"`   // 8 hex digits
	PAC  string `yaml:"pac"`  // 16 hex digits
}

// SimConfig drives the simulated transceiver used when no hardware is
// attached.
type SimConfig struct {
	AcceptJoinOnAttempt int  `yaml:"accept_join_on_attempt"`
	AckConfirmed        bool `yaml:"ack_confirmed"`
}

// APIConfig represents the diagnostics API listener.
type APIConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// JWTConfig represents API token configuration.
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// NATSConfig represents the telemetry bridge connection.
type NATSConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	PublishInterval   time.Duration `yaml:"publish_interval"`
}

// MQTTConfig represents the optional MQTT mirror of the bridge.
type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BrokerURL    string `yaml:"broker_url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	TopicPattern string `yaml:"topic_pattern"` // {node} and {kind} placeholders
	QoS          byte   `yaml:"qos"`
	TLS          bool   `yaml:"tls"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Load reads filename, applies environment overrides and fills
// defaults. The zero filename yields a pure-defaults configuration.
func Load(filename string) (*Config, error) {
	var cfg Config
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("NATS_URL"); url != "" {
		c.NATS.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func (c *Config) setDefaults() {
	if c.Node.Name == "" {
		c.Node.Name = "lpwan-node"
	}
	if c.Node.Family == "" {
		c.Node.Family = "lora"
	}
	if c.Radio.Band == "" {
		c.Radio.Band = "EU868"
	}
	if c.Radio.Mode == "" {
		c.Radio.Mode = "lorawan"
	}
	if c.Radio.SpreadingFactor == 0 {
		c.Radio.SpreadingFactor = 7
	}
	if c.Radio.BandwidthKHz == 0 {
		c.Radio.BandwidthKHz = 125
	}
	if c.Radio.CodingRate == "" {
		c.Radio.CodingRate = "4/5"
	}
	if c.Radio.Preamble == 0 {
		c.Radio.Preamble = 8
	}
	if c.Radio.PowerMode == "" {
		c.Radio.PowerMode = "always_on"
	}
	if c.Radio.TXRetries == 0 {
		c.Radio.TXRetries = 2
	}
	if c.Radio.DeviceClass == "" {
		c.Radio.DeviceClass = "A"
	}
	if c.LoRaWAN.Activation == "" {
		c.LoRaWAN.Activation = "otaa"
	}
	if c.Sigfox.Zone == "" {
		c.Sigfox.Zone = "RCZ1"
	}
	if c.Sigfox.Mode == "" {
		c.Sigfox.Mode = "sigfox"
	}
	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = time.Hour
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 24 * time.Hour
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "lpwan"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.NATS.PublishInterval == 0 {
		c.NATS.PublishInterval = 30 * time.Second
	}
	if c.MQTT.TopicPattern == "" {
		c.MQTT.TopicPattern = "lpwan/{node}/{kind}"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks the enumerated string fields.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Node.Family) {
	case "lora", "sigfox":
	default:
		return fmt.Errorf("config: unknown family %q", c.Node.Family)
	}
	if _, err := c.Band(); err != nil {
		return err
	}
	switch strings.ToLower(c.Radio.Mode) {
	case "lora", "lorawan":
	default:
		return fmt.Errorf("config: unknown radio mode %q", c.Radio.Mode)
	}
	if _, err := c.codingRate(); err != nil {
		return err
	}
	if _, err := c.bandwidth(); err != nil {
		return err
	}
	if _, err := c.Zone(); err != nil {
		return err
	}
	if c.API.Enabled && c.JWT.Secret == "" {
		return fmt.Errorf("config: api enabled without jwt secret")
	}
	return nil
}

// Band returns the typed regional band.
func (c *Config) Band() (region.Band, error) {
	switch strings.ToUpper(c.Radio.Band) {
	case "EU868":
		return region.EU868, nil
	case "US915":
		return region.US915, nil
	default:
		return "", fmt.Errorf("config: unknown band %q", c.Radio.Band)
	}
}

// Zone returns the typed Sigfox regulatory zone.
func (c *Config) Zone() (radio.Zone, error) {
	switch strings.ToUpper(c.Sigfox.Zone) {
	case "RCZ1":
		return radio.RCZ1, nil
	case "RCZ2":
		return radio.RCZ2, nil
	case "RCZ3":
		return radio.RCZ3, nil
	case "RCZ4":
		return radio.RCZ4, nil
	default:
		return 0, fmt.Errorf("config: unknown zone %q", c.Sigfox.Zone)
	}
}

func (c *Config) codingRate() (radio.CodingRate, error) {
	switch c.Radio.CodingRate {
	case "4/5":
		return radio.Coding4_5, nil
	case "4/6":
		return radio.Coding4_6, nil
	case "4/7":
		return radio.Coding4_7, nil
	case "4/8":
		return radio.Coding4_8, nil
	default:
		return 0, fmt.Errorf("config: unknown coding rate %q", c.Radio.CodingRate)
	}
}

func (c *Config) bandwidth() (radio.Bandwidth, error) {
	switch c.Radio.BandwidthKHz {
	case 125:
		return radio.BW125KHz, nil
	case 250:
		return radio.BW250KHz, nil
	case 500:
		return radio.BW500KHz, nil
	default:
		return 0, fmt.Errorf("config: unknown bandwidth %d kHz", c.Radio.BandwidthKHz)
	}
}

func (c *Config) powerMode() (radio.PowerMode, error) {
	switch strings.ToLower(c.Radio.PowerMode) {
	case "always_on":
		return radio.AlwaysOn, nil
	case "tx_only":
		return radio.TXOnly, nil
	case "sleep":
		return radio.Sleep, nil
	default:
		return 0, fmt.Errorf("config: unknown power mode %q", c.Radio.PowerMode)
	}
}

// RadioParams translates the radio section into typed parameters.
func (c *Config) RadioParams() (radio.Params, error) {
	band, err := c.Band()
	if err != nil {
		return radio.Params{}, err
	}
	params, err := region.Get(band)
	if err != nil {
		return radio.Params{}, err
	}

	cr, err := c.codingRate()
	if err != nil {
		return radio.Params{}, err
	}
	bw, err := c.bandwidth()
	if err != nil {
		return radio.Params{}, err
	}
	pm, err := c.powerMode()
	if err != nil {
		return radio.Params{}, err
	}
	zone, err := c.Zone()
	if err != nil {
		return radio.Params{}, err
	}

	mode := radio.ModeLoRaWAN
	if strings.ToLower(c.Radio.Mode) == "lora" {
		mode = radio.ModeLoRa
	}
	class := radio.ClassA
	if strings.ToUpper(c.Radio.DeviceClass) == "C" {
		class = radio.ClassC
	}
	sfxMode := radio.SigfoxModeSigfox
	if strings.ToLower(c.Sigfox.Mode) == "fsk" {
		sfxMode = radio.SigfoxModeFSK
	}

	freq := c.Radio.Frequency
	if freq == 0 {
		freq = params.DefaultChannels[0].Frequency
	}
	txPower := c.Radio.TXPower
	if txPower == 0 {
		txPower = params.MaxTXPower
	}

	return radio.Params{
		Mode:            mode,
		Frequency:       freq,
		TXPower:         txPower,
		Bandwidth:       bw,
		SpreadingFactor: c.Radio.SpreadingFactor,
		CodingRate:      cr,
		PreambleSymbols: c.Radio.Preamble,
		PowerMode:       pm,
		ADR:             c.Radio.ADR,
		PublicSync:      c.Radio.PublicSync,
		TXRetries:       c.Radio.TXRetries,
		DeviceClass:     class,
		DataRate:        c.Radio.DataRate,
		SigfoxMode:      sfxMode,
		Zone:            zone,
	}, nil
}

// JoinParams translates the lorawan section into activation
// parameters.
func (c *Config) JoinParams() (session.JoinParams, error) {
	var p session.JoinParams

	switch strings.ToLower(c.LoRaWAN.Activation) {
	case "otaa":
		p.Activation = radio.OTAA
		joinEUI, err := lorawan.ParseEUI64(c.LoRaWAN.JoinEUI)
		if err != nil {
			return p, fmt.Errorf("config: join_eui: %w", err)
		}
		appKey, err := lorawan.ParseAES128Key(c.LoRaWAN.AppKey)
		if err != nil {
			return p, fmt.Errorf("config: app_key: %w", err)
		}
		p.JoinEUI = joinEUI
		p.AppKey = appKey
	case "abp":
		p.Activation = radio.ABP
		devAddr, err := lorawan.ParseDevAddr(c.LoRaWAN.DevAddr)
		if err != nil {
			return p, fmt.Errorf("config: dev_addr: %w", err)
		}
		nwkSKey, err := lorawan.ParseAES128Key(c.LoRaWAN.NwkSKey)
		if err != nil {
			return p, fmt.Errorf("config: nwk_s_key: %w", err)
		}
		appSKey, err := lorawan.ParseAES128Key(c.LoRaWAN.AppSKey)
		if err != nil {
			return p, fmt.Errorf("config: app_s_key: %w", err)
		}
		p.DevAddr = devAddr
		p.NwkSKey = nwkSKey
		p.AppSKey = appSKey
	default:
		return p, fmt.Errorf("config: unknown activation %q", c.LoRaWAN.Activation)
	}
	return p, nil
}
