// Package trace defines tool calls, tool results and the append-only
// AgentTrace that forms the audit record of a task.
package trace

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/blake2b"

	"github.com/Strob0t/JellyRoute/internal/domain"
)

// ErrorKind classifies a failed tool result.
type ErrorKind string

const (
	KindValidation   ErrorKind = "ValidationError"
	KindUnauthorized ErrorKind = "Unauthorized"
	KindNotFound     ErrorKind = "NotFound"
	KindConflict     ErrorKind = "Conflict"
	KindTimeout      ErrorKind = "Timeout"
	KindRemote       ErrorKind = "RemoteError"
	KindUnknown      ErrorKind = "Unknown"
)

// Outcome is the coarse result of a call.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ToolCall is a proposed or dispatched call. Arguments hold canonical JSON
// bytes; retries reuse them unchanged.
type ToolCall struct {
	Tool        string          `json:"tool"`
	Arguments   json.RawMessage `json:"arguments"`
	Sequence    int             `json:"sequence"`
	Fingerprint string          `json:"fingerprint,omitempty"`
}

// Result is the outcome of one call. Network marks failures at the transport
// level (timeout, connection reset) as opposed to remote logical errors.
type Result struct {
	Outcome  Outcome       `json:"outcome"`
	Payload  string        `json:"payload,omitempty"`
	Kind     ErrorKind     `json:"kind,omitempty"`
	Message  string        `json:"message,omitempty"`
	Network  bool          `json:"network,omitempty"`
	Latency  time.Duration `json:"latency_ns"`
	Attempts int           `json:"attempts"`
}

// Success builds a successful result.
func Success(payload string) Result {
	return Result{Outcome: OutcomeSuccess, Payload: payload, Attempts: 1}
}

// Failure builds a failed result.
func Failure(kind ErrorKind, message string) Result {
	return Result{Outcome: OutcomeFailure, Kind: kind, Message: message, Attempts: 1}
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Outcome == OutcomeSuccess }

// Entry is one (call, result) pair in the trace.
type Entry struct {
	Domain string    `json:"domain"`
	Call   ToolCall  `json:"call"`
	Result Result    `json:"result"`
	At     time.Time `json:"at"`
}

// Trace is the append-only, ordered audit record for one task. It is owned
// by a single task goroutine and is not safe for concurrent use.
type Trace struct {
	entries []Entry
	seq     int
}

// NextSequence reserves the next call sequence number.
func (t *Trace) NextSequence() int {
	t.seq++
	return t.seq
}

// Append adds an entry. Sequence numbers must strictly increase.
func (t *Trace) Append(e Entry) error {
	if n := len(t.entries); n > 0 && e.Call.Sequence <= t.entries[n-1].Call.Sequence {
		return fmt.Errorf("%w: trace sequence %d after %d", domain.ErrValidation, e.Call.Sequence, t.entries[n-1].Call.Sequence)
	}
	if e.Call.Sequence > t.seq {
		t.seq = e.Call.Sequence
	}
	t.entries = append(t.entries, e)
	return nil
}

// Entries returns a copy of the recorded entries.
func (t *Trace) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Trace) Len() int { return len(t.entries) }

// Last returns the most recent entry.
func (t *Trace) Last() (Entry, bool) {
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Canonicalize rewrites a JSON document into its RFC 8785 canonical form so
// that semantically equal argument maps have identical bytes.
func Canonicalize(args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	out, err := jcs.Transform(args)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalize arguments: %v", domain.ErrValidation, err)
	}
	return out, nil
}

// Fingerprint returns the hex blake2b-256 digest of canonical argument bytes
// prefixed by the tool name.
func Fingerprint(tool string, canonical []byte) string {
	h, _ := blake2b.New256(nil)
	_, _ = h.Write([]byte(tool))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
