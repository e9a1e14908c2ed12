// Package socket exposes the data path of the radio through a
// socket-like API with blocking, timeout and non-blocking semantics
// built on the event registry.
package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lorawan-server/lpwan-node/internal/event"
	"github.com/lorawan-server/lpwan-node/internal/radio"
	"github.com/lorawan-server/lpwan-node/internal/session"
	"github.com/lorawan-server/lpwan-node/internal/sigfox"
)

var (
	// ErrWouldBlock is returned by non-blocking operations that found
	// no data or a pending duty-cycle delay.
	ErrWouldBlock = errors.New("operation would block")

	// ErrTimeout is returned when a socket deadline expires.
	ErrTimeout = errors.New("socket timed out")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("socket closed")

	// ErrWrongFamily is returned for options or operations of the other
	// radio family, or for LoRaWAN options on a raw-LoRa socket.
	ErrWrongFamily = errors.New("option invalid for socket family or mode")

	// ErrBadOption is returned for unknown option levels or names.
	ErrBadOption = errors.New("unknown socket option")
)

// Family selects the address family the socket speaks.
type Family int

const (
	FamilyLoRa Family = iota
	FamilySigfox
)

// Socket option levels, one per radio family.
const (
	SolLoRa   = 1
	SolSigfox = 2
)

// LoRa socket options.
const (
	SODataRate  = 1
	SOConfirmed = 2
)

// Sigfox socket options.
const (
	SORXRequest = 1
	SOOOB       = 2
	SOBit       = 3
)

const defaultFPort = 2

// Socket is one consumer endpoint over the shared radio data path.
type Socket struct {
	cfg    *radio.Config
	events *event.Registry
	lora   *session.Engine
	sfx    *sigfox.Regulator
	family Family

	mu        sync.Mutex
	closed    bool
	fport     uint8
	blocking  bool
	timeout   time.Duration // 0 with blocking=true means wait forever
	confirmed bool
	sfxOpts   sigfox.SendOptions
	bitValue  bool
}

// NewLoRa returns a socket bound to the LoRa/LoRaWAN data path.
func NewLoRa(cfg *radio.Config, events *event.Registry, eng *session.Engine) *Socket {
	return &Socket{
		cfg:      cfg,
		events:   events,
		lora:     eng,
		family:   FamilyLoRa,
		fport:    defaultFPort,
		blocking: true,
	}
}

// NewSigfox returns a socket bound to the Sigfox data path.
func NewSigfox(cfg *radio.Config, events *event.Registry, reg *sigfox.Regulator) *Socket {
	return &Socket{
		cfg:      cfg,
		events:   events,
		sfx:      reg,
		family:   FamilySigfox,
		blocking: true,
	}
}

// Bind sets the LoRaWAN FPort used for uplinks. It is a state error on
// any other family or mode.
func (s *Socket) Bind(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.family != FamilyLoRa || s.cfg.Mode() != radio.ModeLoRaWAN {
		return fmt.Errorf("%w: bind requires LoRaWAN mode", ErrWrongFamily)
	}
	if port < 1 || port > 223 {
		return fmt.Errorf("%w: fport %d outside 1-223", ErrBadOption, port)
	}
	s.fport = uint8(port)
	return nil
}

// SetBlocking switches between blocking-forever and non-blocking modes,
// clearing any timeout.
func (s *Socket) SetBlocking(block bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocking = block
	s.timeout = 0
}

// SetTimeout makes the socket blocking with the given deadline. A zero
// duration means non-blocking, matching the poll-once contract.
func (s *Socket) SetTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative timeout", ErrBadOption)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == 0 {
		s.blocking = false
		s.timeout = 0
		return nil
	}
	s.blocking = true
	s.timeout = d
	return nil
}

// SetSockOpt applies one integer-valued option. Options are rejected
// when the level does not match the socket's family, or for LoRaWAN
// options while the radio is in raw-LoRa mode (raw parameters are set
// through the configuration store instead).
func (s *Socket) SetSockOpt(level, option, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	switch level {
	case SolLoRa:
		if s.family != FamilyLoRa {
			return fmt.Errorf("%w: LoRa option on Sigfox socket", ErrWrongFamily)
		}
		if s.cfg.Mode() != radio.ModeLoRaWAN {
			return fmt.Errorf("%w: LoRaWAN option in raw-LoRa mode", ErrWrongFamily)
		}
		switch option {
		case SODataRate:
			return s.cfg.SetDataRate(uint8(value))
		case SOConfirmed:
			s.confirmed = value != 0
			return nil
		default:
			return fmt.Errorf("%w: lora option %d", ErrBadOption, option)
		}

	case SolSigfox:
		if s.family != FamilySigfox {
			return fmt.Errorf("%w: Sigfox option on LoRa socket", ErrWrongFamily)
		}
		switch option {
		case SORXRequest:
			s.sfxOpts.RequestDownlink = value != 0
			return nil
		case SOOOB:
			s.sfxOpts.OOB = value != 0
			return nil
		case SOBit:
			s.sfxOpts.SingleBit = true
			s.sfxOpts.BitValue = value != 0
			return nil
		default:
			return fmt.Errorf("%w: sigfox option %d", ErrBadOption, option)
		}

	default:
		return fmt.Errorf("%w: level %d", ErrBadOption, level)
	}
}

// Send transmits payload through the engine matching the radio mode.
// Transmission outcome for confirmed traffic arrives via the event
// registry. A socket timeout bounds the confirmed retry schedule; on
// expiry Send returns ErrTimeout while the outcome still lands in the
// registry.
func (s *Socket) Send(payload []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	fport := s.fport
	confirmed := s.confirmed
	blocking := s.blocking
	timeout := s.timeout
	opts := s.sfxOpts
	s.mu.Unlock()

	switch s.family {
	case FamilySigfox:
		opts.Block = blocking
		if opts.SingleBit {
			payload = nil
		}
		err := s.sfx.Send(payload, opts)
		if errors.Is(err, sigfox.ErrCooldownPending) {
			return 0, fmt.Errorf("%w: %v", ErrWouldBlock, err)
		}
		if err != nil {
			return 0, err
		}
		return len(payload), nil

	default:
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if s.cfg.Mode() == radio.ModeLoRaWAN {
			err := s.lora.Send(ctx, fport, payload, confirmed)
			if errors.Is(err, session.ErrSendTimeout) {
				return 0, fmt.Errorf("%w: %v", ErrTimeout, err)
			}
			if err != nil {
				return 0, err
			}
			return len(payload), nil
		}
		if err := s.lora.SendRaw(payload); err != nil {
			return 0, err
		}
		return len(payload), nil
	}
}

// Recv returns up to bufsize bytes of the oldest pending downlink. With
// no data it blocks until RX_PACKET_EVENT, the timeout, or reports
// ErrWouldBlock in non-blocking mode.
func (s *Socket) Recv(bufsize int) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	blocking := s.blocking
	timeout := s.timeout
	s.mu.Unlock()

	if data, ok := s.pop(); ok {
		return truncate(data, bufsize), nil
	}
	if !blocking {
		return nil, ErrWouldBlock
	}

	sub, cancel := s.events.Subscribe()
	defer cancel()

	// Re-check after subscribing: an event may have landed in between.
	if data, ok := s.pop(); ok {
		return truncate(data, bufsize), nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-sub:
			if data, ok := s.pop(); ok {
				return truncate(data, bufsize), nil
			}
		case <-deadline:
			// Final check resolves the event-vs-timeout race.
			if data, ok := s.pop(); ok {
				return truncate(data, bufsize), nil
			}
			return nil, ErrTimeout
		}
	}
}

// pop takes the oldest downlink from the family's queue.
func (s *Socket) pop() ([]byte, bool) {
	if s.family == FamilySigfox {
		return s.sfx.PopDownlink()
	}
	d, ok := s.lora.PopDownlink()
	if !ok {
		return nil, false
	}
	return d.Payload, true
}

// Close releases the socket. Further operations fail with ErrClosed.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func truncate(b []byte, n int) []byte {
	if n > 0 && len(b) > n {
		return b[:n]
	}
	return b
}
