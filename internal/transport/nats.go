package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/signalsfoundry/smallsat-twin/internal/logging"
)

// NATSSink publishes raw packets on <subject>.tm and decoded snapshots as
// JSON on <subject>.state.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to url and retries forever on disconnect.
func NewNATSSink(url, subject string, log logging.Logger) (*NATSSink, error) {
	if log == nil {
		log = logging.Noop()
	}
	ctx := context.Background()
	conn, err := nats.Connect(url,
		nats.Name("smallsat-twin"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn(ctx, "nats disconnected", logging.Err(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info(ctx, "nats reconnected", logging.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: connect nats %s: %w", url, err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Publish sends the packet and the snapshot. Header fields carry the tick
// and sequence count so consumers can correlate the two subjects.
func (s *NATSSink) Publish(_ context.Context, f Frame) error {
	tm := nats.NewMsg(s.subject + ".tm")
	tm.Data = f.Packet
	tm.Header.Set("Tick", strconv.FormatUint(f.Snapshot.Tick, 10))
	tm.Header.Set("Sequence-Count", strconv.Itoa(int(f.Snapshot.SequenceCount)))
	if err := s.conn.PublishMsg(tm); err != nil {
		return fmt.Errorf("transport: nats publish tm: %w", err)
	}

	state, err := json.Marshal(f.Snapshot)
	if err != nil {
		return fmt.Errorf("transport: encode snapshot: %w", err)
	}
	if err := s.conn.Publish(s.subject+".state", state); err != nil {
		return fmt.Errorf("transport: nats publish state: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	err := s.conn.FlushTimeout(time.Second)
	s.conn.Close()
	if err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("transport: nats flush: %w", err)
	}
	return nil
}
