package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lpwan-node/internal/api"
	"github.com/lorawan-server/lpwan-node/internal/bridge"
	"github.com/lorawan-server/lpwan-node/internal/config"
	"github.com/lorawan-server/lpwan-node/internal/device"
	"github.com/lorawan-server/lpwan-node/internal/hal/simradio"
	"github.com/lorawan-server/lpwan-node/internal/radio"
	"github.com/lorawan-server/lpwan-node/internal/socket"
	"github.com/lorawan-server/lpwan-node/pkg/lorawan"
)

func main() {
	var configPath = flag.String("config", "", "path to the configuration file (empty uses built-in defaults)")
	var validateOnly = flag.Bool("validate", false, "validate the configuration and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if *validateOnly {
		fmt.Println("configuration OK")
		return
	}

	band, err := cfg.Band()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid band")
	}
	params, err := cfg.RadioParams()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid radio parameters")
	}

	trx, err := buildTransceiver(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build transceiver")
	}

	family := socket.FamilyLoRa
	if cfg.Node.Family == "sigfox" {
		family = socket.FamilySigfox
	}

	dev, err := device.New(trx, device.Options{
		Band:     band,
		Defaults: params,
		Family:   family,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise radio subsystem")
	}
	defer dev.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if family == socket.FamilyLoRa && params.Mode == radio.ModeLoRaWAN {
		if err := activate(ctx, cfg, dev, trx); err != nil {
			log.Fatal().Err(err).Msg("activation failed")
		}
	}

	if cfg.API.Enabled {
		server := api.NewRESTServer(cfg, dev)
		addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
		go func() {
			if err := server.ListenAndServe(addr); err != nil {
				log.Error().Err(err).Msg("diagnostics API stopped")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	if cfg.NATS.Enabled {
		b := bridge.New(cfg, dev)
		go func() {
			if err := b.Start(ctx); err != nil {
				log.Error().Err(err).Msg("telemetry bridge stopped")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")
}

// buildTransceiver returns the simulated front end. A hardware SPI
// driver slots in behind the same interface.
func buildTransceiver(cfg *config.Config) (*simradio.Radio, error) {
	opts := simradio.Options{
		AcceptJoinOnAttempt: cfg.Sim.AcceptJoinOnAttempt,
		AckConfirmed:        cfg.Sim.AckConfirmed,
	}
	if opts.AcceptJoinOnAttempt == 0 {
		opts.AcceptJoinOnAttempt = 1
	}

	if cfg.LoRaWAN.DevEUI != "" {
		devEUI, err := lorawan.ParseEUI64(cfg.LoRaWAN.DevEUI)
		if err != nil {
			return nil, fmt.Errorf("dev_eui: %w", err)
		}
		opts.DevEUI = devEUI
	}
	if cfg.LoRaWAN.JoinEUI != "" {
		joinEUI, err := lorawan.ParseEUI64(cfg.LoRaWAN.JoinEUI)
		if err != nil {
			return nil, fmt.Errorf("join_eui: %w", err)
		}
		opts.JoinEUI = joinEUI
	}
	if cfg.LoRaWAN.AppKey != "" {
		appKey, err := lorawan.ParseAES128Key(cfg.LoRaWAN.AppKey)
		if err != nil {
			return nil, fmt.Errorf("app_key: %w", err)
		}
		opts.AppKey = appKey
	}
	if cfg.Sigfox.ID != "" {
		b, err := hex.DecodeString(cfg.Sigfox.ID)
		if err != nil || len(b) != 4 {
			return nil, fmt.Errorf("sigfox id: want 8 hex digits")
		}
		copy(opts.SigfoxID[:], b)
	}
	if cfg.Sigfox.PAC != "" {
		b, err := hex.DecodeString(cfg.Sigfox.PAC)
		if err != nil || len(b) != 8 {
			return nil, fmt.Errorf("sigfox pac: want 16 hex digits")
		}
		copy(opts.SigfoxPAC[:], b)
	}

	// The simulated network assigns a fixed address on join accept.
	opts.DevAddr = lorawan.DevAddr{0x26, 0x01, 0x14, 0x9f}

	return simradio.New(opts), nil
}

// activate joins the network according to the configured activation
// method, honouring the optional join timeout.
func activate(ctx context.Context, cfg *config.Config, dev *device.Device, trx *simradio.Radio) error {
	joinParams, err := cfg.JoinParams()
	if err != nil {
		return err
	}

	if joinParams.Activation == radio.ABP {
		// The simulated network side needs the same session material.
		trx.SetSession(joinParams.DevAddr, joinParams.NwkSKey, joinParams.AppSKey)
	}

	joinCtx := ctx
	if cfg.LoRaWAN.JoinTimeout > 0 {
		var cancel context.CancelFunc
		joinCtx, cancel = context.WithTimeout(ctx, cfg.LoRaWAN.JoinTimeout)
		defer cancel()
	}

	if err := dev.Join(joinCtx, joinParams); err != nil {
		return err
	}

	up, down := dev.Session().FrameCounters()
	log.Info().
		Str("dev_addr", dev.Session().DevAddr().String()).
		Uint32("fcnt_up", up).
		Uint32("fcnt_down", down).
		Msg("network joined")
	return nil
}
