package channel

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Envelope frames one message on the slot pair. The engine must echo ID back
// in its reply; presence of a valid envelope, not non-emptiness, marks a
// message, so an empty Body is a legitimate answer.
type Envelope struct {
	ID   string `json:"id"`
	Seq  uint64 `json:"seq"`
	Body string `json:"body"`
}

const envelopeSchema = `{
	"type": "object",
	"required": ["id", "body"],
	"properties": {
		"id":   {"type": "string", "minLength": 1},
		"seq":  {"type": "integer", "minimum": 0},
		"body": {"type": "string"}
	}
}`

var compiledEnvelopeSchema = mustCompileSchema(envelopeSchema)

func mustCompileSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile envelope schema: %v", err))
	}
	return schema
}

// ParseEnvelope validates and decodes a raw slot payload.
func ParseEnvelope(raw string) (Envelope, error) {
	raw = strings.TrimSpace(raw)

	result, err := compiledEnvelopeSchema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Envelope{}, fmt.Errorf("%w: %s", ErrMalformedResponse, strings.Join(msgs, "; "))
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return env, nil
}

// recentIDs bounds how many earlier request ids a transport remembers.
const recentIDs = 32

// EnvelopeTransport correlates replies with requests by id and seq. Late
// replies to this transport's earlier requests are dropped; replies with an
// unknown id are left in place for their owner until DiscardStale clears them.
type EnvelopeTransport struct {
	slots  Slots
	claim  *flock.Flock
	logger zerolog.Logger
	newID  func() string

	mu      sync.Mutex
	seq     uint64
	pending string
	sent    []string
}

// NewEnvelopeTransport creates the slot files if needed and returns an
// id-correlated transport over them.
func NewEnvelopeTransport(slots Slots, logger zerolog.Logger) (*EnvelopeTransport, error) {
	if err := slots.Ensure(); err != nil {
		return nil, err
	}
	return &EnvelopeTransport{
		slots:  slots,
		claim:  flock.New(slots.lockPath()),
		logger: logger,
		newID:  uuid.NewString,
	}, nil
}

func (t *EnvelopeTransport) Slots() Slots { return t.slots }

// Pending returns the id of the request currently awaiting a reply.
func (t *EnvelopeTransport) Pending() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Send frames payload in a fresh envelope and writes it to the request slot.
func (t *EnvelopeTransport) Send(payload string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	env := Envelope{ID: t.newID(), Seq: t.seq + 1, Body: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return &TransportWriteError{Slot: t.slots.RequestPath(), Err: err}
	}

	path := t.slots.RequestPath()
	if err := writeSlot(path, string(data)+"\n"); err != nil {
		return &TransportWriteError{Slot: path, Err: err}
	}

	t.seq = env.Seq
	t.pending = env.ID
	t.sent = append(t.sent, env.ID)
	if len(t.sent) > recentIDs {
		t.sent = t.sent[len(t.sent)-recentIDs:]
	}
	t.logger.Debug().Str("slot", path).Str("id", env.ID).Uint64("seq", env.Seq).Msg("request written")
	return nil
}

// TryReceive returns the body of the reply matching the pending request.
func (t *EnvelopeTransport) TryReceive() (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.slots.ResponsePath()
	peek, err := readSlot(path)
	if err != nil {
		return "", false, readError(path, err)
	}
	if strings.TrimSpace(peek) == "" {
		return "", false, nil
	}

	env, err := ParseEnvelope(peek)
	if err != nil {
		// Nobody can ever match a malformed reply, drop it.
		if _, cerr := t.claimLocked(path); cerr != nil {
			t.logger.Warn().Err(cerr).Str("slot", path).Msg("could not clear malformed response")
		}
		return "", false, err
	}
	if !t.matchesLocked(env) {
		if t.sentLocked(env.ID) {
			t.dropLocked(path, env)
			return "", false, nil
		}
		t.logger.Debug().Str("id", env.ID).Str("pending", t.pending).Msg("response belongs to another request")
		return "", false, nil
	}

	raw, err := t.claimLocked(path)
	if err != nil {
		return "", false, readError(path, err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", false, nil
	}

	claimed, err := ParseEnvelope(raw)
	if err != nil {
		return "", false, err
	}
	if !t.matchesLocked(claimed) {
		if t.sentLocked(claimed.ID) {
			t.logger.Info().Str("id", claimed.ID).Uint64("seq", claimed.Seq).Msg("discarded late response to an earlier request")
			return "", false, nil
		}
		// The slot changed hands between peek and claim; put it back.
		if werr := writeSlot(path, raw); werr != nil {
			t.logger.Warn().Err(werr).Str("id", claimed.ID).Msg("could not restore foreign response")
		}
		return "", false, nil
	}

	t.pending = ""
	t.logger.Debug().Str("slot", path).Str("id", claimed.ID).Msg("response consumed")
	return claimed.Body, true, nil
}

// DiscardStale clears whatever reply sits in the response slot, whoever it
// belongs to. Only call it while holding the ask lock, when no other request
// can be waiting on the slot.
func (t *EnvelopeTransport) DiscardStale() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.slots.ResponsePath()
	peek, err := readSlot(path)
	if err != nil {
		return false, readError(path, err)
	}
	if strings.TrimSpace(peek) == "" {
		return false, nil
	}

	raw, err := t.claimLocked(path)
	if err != nil {
		return false, readError(path, err)
	}
	return strings.TrimSpace(raw) != "", nil
}

// matchesLocked reports whether env answers the pending request. A zero Seq
// means the engine did not echo it.
func (t *EnvelopeTransport) matchesLocked(env Envelope) bool {
	if t.pending == "" || env.ID != t.pending {
		return false
	}
	return env.Seq == 0 || env.Seq == t.seq
}

// sentLocked reports whether id was issued by this transport.
func (t *EnvelopeTransport) sentLocked(id string) bool {
	for _, s := range t.sent {
		if s == id {
			return true
		}
	}
	return false
}

func (t *EnvelopeTransport) dropLocked(path string, env Envelope) {
	if _, err := t.claimLocked(path); err != nil {
		t.logger.Warn().Err(err).Str("slot", path).Str("id", env.ID).Msg("could not clear late response")
		return
	}
	t.logger.Info().Str("id", env.ID).Uint64("seq", env.Seq).Msg("discarded late response to an earlier request")
}

func (t *EnvelopeTransport) claimLocked(path string) (string, error) {
	if err := t.claim.Lock(); err != nil {
		return "", err
	}
	defer t.claim.Unlock()
	return claimSlot(path)
}

var (
	_ Transport      = (*EnvelopeTransport)(nil)
	_ StaleDiscarder = (*EnvelopeTransport)(nil)
)
