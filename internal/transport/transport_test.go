package transport

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/smallsat-twin/internal/ccsds"
	"github.com/signalsfoundry/smallsat-twin/model"
)

type fakeSink struct {
	name   string
	err    error
	frames []Frame
	closed bool
}

func (s *fakeSink) Name() string { return s.name }
func (s *fakeSink) Publish(_ context.Context, f Frame) error {
	s.frames = append(s.frames, f)
	return s.err
}
func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

type countRecorder struct {
	mu       sync.Mutex
	sinks    map[string]int
	datagram int
	rejected map[string]int
}

func newCountRecorder() *countRecorder {
	return &countRecorder{sinks: map[string]int{}, rejected: map[string]int{}}
}

func (r *countRecorder) SinkError(sink string) {
	r.mu.Lock()
	r.sinks[sink]++
	r.mu.Unlock()
}

func (r *countRecorder) TCDatagram() {
	r.mu.Lock()
	r.datagram++
	r.mu.Unlock()
}

func (r *countRecorder) TCRejected(reason string) {
	r.mu.Lock()
	r.rejected[reason]++
	r.mu.Unlock()
}

func (r *countRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.datagram, r.rejected["malformed"]
}

func TestFanoutIsolatesFailingSink(t *testing.T) {
	rec := newCountRecorder()
	f := NewFanout(nil, WithSinkRecorder(rec))
	bad := &fakeSink{name: "bad", err: errors.New("boom")}
	good := &fakeSink{name: "good"}
	f.Add(bad)
	f.Add(good)

	frame := Frame{Packet: []byte{1, 2, 3}, Snapshot: model.Snapshot{Tick: 7}}
	err := f.Publish(context.Background(), frame)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Publish err = %v, want joined sink error", err)
	}
	if len(good.frames) != 1 || good.frames[0].Snapshot.Tick != 7 {
		t.Fatalf("healthy sink frames = %+v", good.frames)
	}
	if rec.sinks["bad"] != 1 || rec.sinks["good"] != 0 {
		t.Fatalf("sink errors = %v", rec.sinks)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !bad.closed || !good.closed || f.Len() != 0 {
		t.Fatalf("sinks not closed")
	}
}

func TestUDPLinkRoundTrip(t *testing.T) {
	ground, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen ground: %v", err)
	}
	defer ground.Close()

	cmds := make(chan model.Command, 4)
	rec := newCountRecorder()
	link, err := ListenUDP(UDPConfig{
		Host:   "127.0.0.1",
		TMPort: ground.LocalAddr().(*net.UDPAddr).Port,
		TCPort: 0,
	}, func(c model.Command) bool {
		cmds <- c
		return true
	}, nil, WithDatagramRecorder(rec))
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer link.Close()

	// TM downlink.
	if err := link.Publish(context.Background(), Frame{Packet: []byte{0x08, 0x64, 0xC0, 0x00, 0x00, 0x00, 0xAA}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_ = ground.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := ground.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ground read: %v", err)
	}
	if n != 7 || buf[6] != 0xAA {
		t.Fatalf("ground received % x", buf[:n])
	}

	// TC uplink, one malformed datagram then a valid command.
	sender, err := net.DialUDP("udp", nil, link.TCAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial tc: %v", err)
	}
	defer sender.Close()
	if _, err := sender.Write([]byte{0x18}); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	pkt, err := ccsds.EncodeCommand(100, 1, true, 42, 33, []byte{3})
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	if _, err := sender.Write(pkt); err != nil {
		t.Fatalf("write tc: %v", err)
	}

	select {
	case c := <-cmds:
		if c.ID != 33 || len(c.Payload) != 1 || c.Payload[0] != 3 {
			t.Fatalf("command = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("command not delivered")
	}
	if datagrams, malformed := rec.counts(); datagrams != 2 || malformed != 1 {
		t.Fatalf("datagrams = %d, malformed = %d", datagrams, malformed)
	}

	if err := link.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestHubBroadcastsSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.Publish(ctx, Frame{Snapshot: model.Snapshot{Tick: 12, SequenceCount: 11}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.Snapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Tick != 12 || got.SequenceCount != 11 {
		t.Fatalf("snapshot = %+v", got)
	}

	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubRejectsPlainHTTP(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRedisSinkReportsUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := newRedisSink(client, RedisConfig{KeyPrefix: "sat1", ArchiveLen: 10})
	defer s.Close()

	if s.latestKey != "sat1:latest" || s.archiveKey != "sat1:tm" || s.archiveLen != 10 {
		t.Fatalf("keys = %q %q %d", s.latestKey, s.archiveKey, s.archiveLen)
	}
	if err := s.Publish(context.Background(), Frame{Packet: []byte{1}}); err == nil {
		t.Fatalf("expected publish error against closed port")
	}

	if _, err := NewRedisSink(context.Background(), RedisConfig{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestNATSSinkConnectError(t *testing.T) {
	if _, err := NewNATSSink("nats://127.0.0.1:1", "smallsat", nil); err == nil {
		t.Fatalf("expected connect error")
	}
}
