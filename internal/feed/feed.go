// Package feed runs a socket listener that forwards validator notifications
// into the pipeline's notifier surface. It exists so a host process in
// another runtime can drive the pipeline over a local socket instead of
// linking against it.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/geyserpipe/geyserpipe/internal/common"
	"github.com/geyserpipe/geyserpipe/internal/intake"
	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/internal/metrics"
	"github.com/geyserpipe/geyserpipe/internal/types"
	"github.com/geyserpipe/geyserpipe/pkg/config"
	"github.com/geyserpipe/geyserpipe/pkg/geyser"
)

// one JSON line per notification; account payloads can be large
const maxLineBytes = 16 * 1024 * 1024

// Message types on the feed wire.
const (
	msgAccount         = "account"
	msgSlotStatus      = "slot_status"
	msgStartupComplete = "startup_complete"
)

type message struct {
	Type       string             `json:"type"`
	Account    *accountPayload    `json:"account,omitempty"`
	SlotStatus *slotStatusPayload `json:"slot_status,omitempty"`
}

type accountPayload struct {
	Account      types.Pubkey `json:"account"`
	Owner        types.Pubkey `json:"owner"`
	Lamports     uint64       `json:"lamports"`
	Data         []byte       `json:"data,omitempty"`
	Slot         uint64       `json:"slot"`
	WriteVersion uint64       `json:"write_version"`
	Startup      bool         `json:"startup,omitempty"`
	Deleted      bool         `json:"deleted,omitempty"`
}

type slotStatusPayload struct {
	Slot   uint64           `json:"slot"`
	Parent uint64           `json:"parent"`
	Status types.SlotStatus `json:"status"`
}

// Feed accepts newline-delimited JSON notifications on a TCP or unix socket
// and replays them into the notifier. Intake overload is fatal: it propagates
// out of Run so the process can stop instead of silently losing ordering.
type Feed struct {
	cfg      config.FeedConfig
	notifier geyser.Notifier
	log      *logger.Logger

	mu      sync.Mutex
	addr    net.Addr
	conns   map[net.Conn]struct{}
	closing bool
}

// Addr returns the bound listener address once Run has started listening.
func (f *Feed) Addr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addr
}

// New creates a feed forwarding into the given notifier.
func New(cfg config.FeedConfig, notifier geyser.Notifier, log *logger.Logger) *Feed {
	return &Feed{
		cfg:      cfg,
		notifier: notifier,
		log:      log.WithComponent(common.ComponentFeed),
		conns:    make(map[net.Conn]struct{}),
	}
}

// track registers a live connection; returns false when the feed is already
// shutting down and the connection must not be served.
func (f *Feed) track(conn net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closing {
		return false
	}
	f.conns[conn] = struct{}{}
	return true
}

func (f *Feed) untrack(conn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, conn)
}

// shutdown closes the listener and every live connection so readers parked in
// Scan unblock and Run can return. Idempotent.
func (f *Feed) shutdown(ln net.Listener) {
	ln.Close()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closing = true
	for conn := range f.conns {
		conn.Close()
	}
}

// Run listens until the context is cancelled or a connection reports a fatal
// notifier error.
func (f *Feed) Run(ctx context.Context) error {
	if f.cfg.Network == "unix" {
		// stale socket from an unclean shutdown
		_ = os.Remove(f.cfg.ListenAddress)
	}

	ln, err := net.Listen(f.cfg.Network, f.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("feed listen on %s %s: %w", f.cfg.Network, f.cfg.ListenAddress, err)
	}

	f.mu.Lock()
	f.addr = ln.Addr()
	f.mu.Unlock()

	metrics.ComponentHealthSet(common.ComponentFeed, true)
	defer metrics.ComponentHealthSet(common.ComponentFeed, false)

	f.log.Infow("feed listening", "network", f.cfg.Network, "address", f.cfg.ListenAddress)

	fatal := make(chan error, 1)
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		f.shutdown(ln)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			select {
			case ferr := <-fatal:
				return ferr
			default:
			}
			if ctx.Err() != nil {
				f.log.Info("feed stopped")
				return nil
			}
			return fmt.Errorf("feed accept: %w", err)
		}

		if !f.track(conn) {
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer f.untrack(conn)
			if err := f.serve(conn); err != nil {
				select {
				case fatal <- err:
					// unblock the accept loop and any readers parked on
					// other connections
					f.shutdown(ln)
				default:
				}
			}
		}()
	}
}

// serve replays one connection's notifications. Returns a non-nil error only
// for fatal notifier failures; malformed input and disconnects are local to
// the connection.
func (f *Feed) serve(conn net.Conn) error {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	f.log.Infow("feed connection opened", "remote", remote)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			metrics.Errors.WithLabelValues(common.ComponentFeed, "warning").Inc()
			f.log.Warnw("discarding malformed feed line", "remote", remote, "error", err)
			continue
		}

		if err := f.dispatch(&msg); err != nil {
			if errors.Is(err, intake.ErrOverloaded) || errors.Is(err, intake.ErrClosed) {
				return fmt.Errorf("feed connection %s: %w", remote, err)
			}
			metrics.Errors.WithLabelValues(common.ComponentFeed, "warning").Inc()
			f.log.Warnw("rejected feed notification", "remote", remote, "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		f.log.Debugw("feed connection read error", "remote", remote, "error", err)
	}
	f.log.Infow("feed connection closed", "remote", remote)
	return nil
}

func (f *Feed) dispatch(msg *message) error {
	switch msg.Type {
	case msgAccount:
		if msg.Account == nil {
			return fmt.Errorf("account message without account payload")
		}
		p := msg.Account
		return f.notifier.OnAccountUpdate(types.AccountUpdate{
			Account:      p.Account,
			Owner:        p.Owner,
			Lamports:     p.Lamports,
			Data:         p.Data,
			Slot:         p.Slot,
			WriteVersion: p.WriteVersion,
			Startup:      p.Startup,
			Deleted:      p.Deleted,
		})
	case msgSlotStatus:
		if msg.SlotStatus == nil {
			return fmt.Errorf("slot_status message without slot_status payload")
		}
		p := msg.SlotStatus
		return f.notifier.OnSlotStatus(types.SlotStatusUpdate{
			Slot:   p.Slot,
			Parent: p.Parent,
			Status: p.Status,
		})
	case msgStartupComplete:
		return f.notifier.OnStartupComplete()
	default:
		return fmt.Errorf("unknown feed message type %q", msg.Type)
	}
}
