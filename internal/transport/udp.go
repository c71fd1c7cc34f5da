package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/smallsat-twin/internal/ccsds"
	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/model"
)

// maxDatagram is the largest telecommand datagram read.
const maxDatagram = 1024

// UDPConfig addresses the ground segment.
type UDPConfig struct {
	Host   string
	TMPort int
	TCPort int
}

// EnqueueFunc hands a decoded command to the simulation and reports
// whether it was accepted.
type EnqueueFunc func(model.Command) bool

// DatagramRecorder counts inbound telecommand datagrams.
type DatagramRecorder interface {
	TCDatagram()
	TCRejected(reason string)
}

// UDPLink sends each TM packet to host:tm_port and listens for telecommands
// on host:tc_port.
type UDPLink struct {
	tm     *net.UDPConn
	tmAddr *net.UDPAddr
	tc     *net.UDPConn

	enqueue  EnqueueFunc
	log      logging.Logger
	recorder DatagramRecorder

	closed atomic.Bool
	wg     sync.WaitGroup
}

// UDPOption configures a UDPLink.
type UDPOption func(*UDPLink)

// WithDatagramRecorder counts received and rejected datagrams.
func WithDatagramRecorder(r DatagramRecorder) UDPOption {
	return func(l *UDPLink) { l.recorder = r }
}

// ListenUDP opens both sockets and starts the telecommand listener.
func ListenUDP(cfg UDPConfig, enqueue EnqueueFunc, log logging.Logger, opts ...UDPOption) (*UDPLink, error) {
	if enqueue == nil {
		return nil, errors.New("transport: enqueue func is required")
	}
	if log == nil {
		log = logging.Noop()
	}
	tmAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TMPort)))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve tm address: %w", err)
	}
	tcAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPort)))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve tc address: %w", err)
	}

	tm, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("transport: open tm socket: %w", err)
	}
	tc, err := net.ListenUDP("udp", tcAddr)
	if err != nil {
		_ = tm.Close()
		return nil, fmt.Errorf("transport: bind tc socket: %w", err)
	}

	l := &UDPLink{
		tm:      tm,
		tmAddr:  tmAddr,
		tc:      tc,
		enqueue: enqueue,
		log:     log.With(logging.String("component", "udp_link")),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.wg.Add(1)
	go l.listen()
	l.log.Info(context.Background(), "space link up",
		logging.String("tm", tmAddr.String()),
		logging.String("tc", tc.LocalAddr().String()),
	)
	return l, nil
}

// TCAddr returns the bound telecommand address.
func (l *UDPLink) TCAddr() net.Addr { return l.tc.LocalAddr() }

func (l *UDPLink) Name() string { return "udp" }

// Publish sends the frame's packet as one datagram.
func (l *UDPLink) Publish(_ context.Context, f Frame) error {
	if _, err := l.tm.WriteToUDP(f.Packet, l.tmAddr); err != nil {
		return fmt.Errorf("transport: send tm: %w", err)
	}
	return nil
}

// Close shuts both sockets and waits for the listener to exit.
func (l *UDPLink) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := errors.Join(l.tc.Close(), l.tm.Close())
	l.wg.Wait()
	return err
}

func (l *UDPLink) listen() {
	defer l.wg.Done()
	ctx := context.Background()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.tc.ReadFromUDP(buf)
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Error(ctx, "tc socket read failed", logging.Err(err))
			continue
		}
		if l.recorder != nil {
			l.recorder.TCDatagram()
		}

		cmd, err := ccsds.DecodeCommand(buf[:n])
		if err != nil {
			l.log.Warn(ctx, "dropping malformed telecommand",
				logging.String("from", from.String()),
				logging.String("datagram", hex.EncodeToString(buf[:n])),
				logging.Err(err),
			)
			if l.recorder != nil {
				l.recorder.TCRejected("malformed")
			}
			continue
		}

		l.log.Debug(ctx, "telecommand received",
			logging.String("from", from.String()),
			logging.Uint("command_id", uint64(cmd.ID)),
			logging.Uint("sequence_count", uint64(cmd.Header.SequenceCount)),
		)
		l.enqueue(model.Command{ID: cmd.ID, Payload: cmd.Params})
	}
}
