package transport_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/zenvinnovations/keysync/internal/keysync/transport"
	"github.com/zenvinnovations/keysync/internal/keysync/types"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type brokerMsg struct {
	subject string
	data    []byte
}

// fakeBroker records publishes and lets tests inject inbound messages
// through the registered subscription handler.
type fakeBroker struct {
	mu        sync.Mutex
	published []brokerMsg
	subject   string
	handler   func(subject string, data []byte)
}

func (b *fakeBroker) Publish(subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.published = append(b.published, brokerMsg{subject, cp})
	return nil
}

func (b *fakeBroker) Subscribe(subject string, handler func(subject string, data []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subject = subject
	b.handler = handler
	return nil
}

func (b *fakeBroker) Flush(time.Duration) error { return nil }
func (b *fakeBroker) Close()                    {}

// deliver simulates an inbound broker message.
func (b *fakeBroker) deliver(subject string, data []byte) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	h(subject, data)
}

func (b *fakeBroker) sent() []brokerMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]brokerMsg, len(b.published))
	copy(out, b.published)
	return out
}

// fakeHandler records device sync requests.
type fakeHandler struct {
	mu    sync.Mutex
	calls []string
	reqs  []types.DeviceRequest
}

func (h *fakeHandler) HandleDeviceSync(_ context.Context, accessPointID string, req types.DeviceRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, accessPointID)
	h.reqs = append(h.reqs, req)
	return nil
}

func (h *fakeHandler) handled() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	copy(out, h.calls)
	return out
}

func newTestTransport(t *testing.T, cfg transport.Config) (*transport.Transport, *fakeBroker, *fakeHandler) {
	t.Helper()

	fb := &fakeBroker{}
	fh := &fakeHandler{}
	tr := transport.NewWithBroker(cfg, fb, silentLogger())
	if err := tr.Start(context.Background(), fh); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(tr.Close)
	return tr, fb, fh
}

// ── Publishing ───────────────────────────────────────────────────────────────

func TestPublishSnapshot_SubjectAndPayload(t *testing.T) {
	tr, fb, _ := newTestTransport(t, transport.Config{})

	snap := types.Snapshot{
		Cards:   []types.CardEntry{{UID: "C1", Type: "General", Active: true}},
		Updated: true,
	}
	if err := tr.PublishSnapshot(context.Background(), "room-1", snap); err != nil {
		t.Fatalf("PublishSnapshot: %v", err)
	}

	sent := fb.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(sent))
	}
	if sent[0].subject != "keysync.device.room-1" {
		t.Errorf("subject = %q, want keysync.device.room-1", sent[0].subject)
	}

	var got types.Snapshot
	if err := json.Unmarshal(sent[0].data, &got); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if len(got.Cards) != 1 || got.Cards[0].UID != "C1" || !got.Updated {
		t.Errorf("round-tripped snapshot = %+v", got)
	}
}

func TestStart_SubscribesWildcard(t *testing.T) {
	_, fb, _ := newTestTransport(t, transport.Config{SubjectPrefix: "hotel.door"})

	if fb.subject != "hotel.door.*" {
		t.Errorf("subscribed to %q, want hotel.door.*", fb.subject)
	}
}

// ── Inbound messages ─────────────────────────────────────────────────────────

func TestOnMessage_SyncRequestHandledAndAcked(t *testing.T) {
	_, fb, fh := newTestTransport(t, transport.Config{})

	fb.deliver("keysync.device.room-1", []byte(`{"request":"sync","fw_version":"1.2.0","uptime_s":42}`))

	calls := fh.handled()
	if len(calls) != 1 || calls[0] != "room-1" {
		t.Fatalf("expected handler call for room-1, got %v", calls)
	}
	if fh.reqs[0].FirmwareVersion != "1.2.0" || fh.reqs[0].UptimeSeconds != 42 {
		t.Errorf("status fields not parsed: %+v", fh.reqs[0])
	}

	sent := fb.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one ack publish, got %d", len(sent))
	}
	if sent[0].subject != "keysync.device.room-1" || string(sent[0].data) != transport.DefaultAckToken {
		t.Errorf("unexpected ack: %q on %q", sent[0].data, sent[0].subject)
	}
}

func TestOnMessage_AckTokenDiscarded(t *testing.T) {
	_, fb, fh := newTestTransport(t, transport.Config{})

	fb.deliver("keysync.device.room-1", []byte(transport.DefaultAckToken))

	if len(fh.handled()) != 0 {
		t.Error("ack token must not reach the handler")
	}
	if len(fb.sent()) != 0 {
		t.Error("ack token must not be re-acked")
	}
}

func TestOnMessage_CustomAckToken(t *testing.T) {
	_, fb, fh := newTestTransport(t, transport.Config{AckToken: "OK"})

	fb.deliver("keysync.device.room-1", []byte("OK"))
	if len(fh.handled()) != 0 || len(fb.sent()) != 0 {
		t.Error("custom ack token must be discarded")
	}

	fb.deliver("keysync.device.room-1", []byte(`{"request":"sync"}`))
	sent := fb.sent()
	if len(sent) != 1 || string(sent[0].data) != "OK" {
		t.Errorf("expected custom ack token in reply, got %+v", sent)
	}
}

func TestOnMessage_EchoedSnapshotAckedWithoutResync(t *testing.T) {
	_, fb, fh := newTestTransport(t, transport.Config{})

	// Devices echo the last message back on their own subject.  An echoed
	// snapshot must be acknowledged but never trigger another publish
	// cycle, or every snapshot would cause the next.
	snap := types.Snapshot{Cards: []types.CardEntry{{UID: "C1", Type: "General", Active: true}}}
	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	fb.deliver("keysync.device.room-1", payload)

	if len(fh.handled()) != 0 {
		t.Error("echoed snapshot must not trigger a device sync")
	}
	sent := fb.sent()
	if len(sent) != 1 || string(sent[0].data) != transport.DefaultAckToken {
		t.Fatalf("expected a single ack, got %+v", sent)
	}
}

func TestOnMessage_MalformedDropped(t *testing.T) {
	_, fb, fh := newTestTransport(t, transport.Config{})

	fb.deliver("keysync.device.room-1", []byte(`{not json`))

	if len(fh.handled()) != 0 {
		t.Error("malformed message must not reach the handler")
	}
	if len(fb.sent()) != 0 {
		t.Error("malformed message must not be acknowledged")
	}
}

func TestOnMessage_ForeignSubjectIgnored(t *testing.T) {
	_, fb, fh := newTestTransport(t, transport.Config{})

	fb.deliver("other.subject", []byte(`{"request":"sync"}`))
	fb.deliver("keysync.device.a.b", []byte(`{"request":"sync"}`))

	if len(fh.handled()) != 0 || len(fb.sent()) != 0 {
		t.Error("messages outside the device subject space must be dropped")
	}
}
