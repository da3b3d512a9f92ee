package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/OCAP2/markers/internal/codec"
	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams derived threads over WebSocket to a live marker viewer.
// It implements storage.Backend but not storage.Uploadable.
type Backend struct {
	sess    *session
	name    string
	product string
}

// New creates a new WebSocket storage backend for the named profile.
func New(cfg Config, name, product string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		sess:    newSession(cfg.URL, cfg.Secret, logger),
		name:    name,
		product: product,
	}
}

// Init connects to the WebSocket server and announces the profile.
func (b *Backend) Init() error {
	if err := b.sess.open(context.Background()); err != nil {
		return err
	}
	return b.startProfile()
}

// Close sends end_profile and disconnects from the WebSocket server.
func (b *Backend) Close() error {
	var endErr error
	if b.sess.hasHandshake() {
		endErr = b.endProfile()
	}
	return errors.Join(endErr, b.sess.close())
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// startProfile sends start_profile and waits for server ack.
func (b *Backend) startProfile() error {
	data, err := marshalEnvelope(streaming.TypeStartProfile, streaming.StartProfilePayload{Name: b.name, Product: b.product})
	if err != nil {
		return err
	}

	// replayed after every reconnect
	b.sess.setHandshake(data)
	return b.sess.request(data, streaming.TypeStartProfile, ackTimeout)
}

// endProfile sends end_profile and waits for server ack.
func (b *Backend) endProfile() error {
	data, err := marshalEnvelope(streaming.TypeEndProfile, nil)
	if err == nil {
		err = b.sess.request(data, streaming.TypeEndProfile, ackTimeout)
	}
	b.sess.setHandshake(nil)
	return err
}

// SaveThread queues the derived markers of one thread. It does not wait for
// the frame to be written.
func (b *Backend) SaveThread(_ context.Context, r profile.ThreadResult) error {
	doc, err := codec.NewDerivedThread(r.Thread, r.Info)
	if err != nil {
		return err
	}
	markers, err := json.Marshal(doc.Markers)
	if err != nil {
		return fmt.Errorf("marshal markers of %q: %w", r.Thread.Name, err)
	}

	data, err := marshalEnvelope(streaming.TypeThread, streaming.ThreadPayload{
		Index:   r.Index,
		Name:    r.Thread.Name,
		Pid:     r.Thread.Pid,
		Tid:     r.Thread.Tid,
		Markers: markers,
	})
	if err != nil {
		return err
	}
	if err := b.sess.send(data); err != nil {
		return fmt.Errorf("stream thread %d: %w", r.Index, err)
	}
	return nil
}
