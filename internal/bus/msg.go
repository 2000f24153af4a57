// Package bus is the in-memory, size-bounded, multi-consumer log store
// for one execution. Producers push typed messages; any number of
// consumers read a gap-free merge of retained history and live
// broadcast. The bus lives exactly as long as the execution that owns it
// and is never persisted.
package bus

import "github.com/avohra/agentrelay/internal/conv"

// MsgType discriminates the message union carried on the bus.
type MsgType string

const (
	MsgStdout    MsgType = "stdout"
	MsgStderr    MsgType = "stderr"
	MsgJSONPatch MsgType = "json_patch"
	MsgSessionID MsgType = "session_id"
	// MsgStreamEnd marks the end of the raw stdout/stderr input. The
	// normalizer may still push trailing patches after it.
	MsgStreamEnd MsgType = "stream_end"
	// MsgFinished is terminal: nothing is pushed after it for one
	// execution.
	MsgFinished MsgType = "finished"
)

// Msg is the only unit ever placed on the bus. Immutable once created.
type Msg struct {
	Type  MsgType
	Text  string     // stdout/stderr chunk, or the session identifier
	Patch conv.Patch // set for json_patch messages
}

// Stdout wraps a raw stdout chunk.
func Stdout(text string) Msg { return Msg{Type: MsgStdout, Text: text} }

// Stderr wraps a raw stderr chunk.
func Stderr(text string) Msg { return Msg{Type: MsgStderr, Text: text} }

// JSONPatch wraps a patch document.
func JSONPatch(p conv.Patch) Msg { return Msg{Type: MsgJSONPatch, Patch: p} }

// SessionID announces the agent session identifier once discovered.
func SessionID(id string) Msg { return Msg{Type: MsgSessionID, Text: id} }

// StreamEnd marks the end of raw process output.
func StreamEnd() Msg { return Msg{Type: MsgStreamEnd} }

// Finished marks the end of the execution's log.
func Finished() Msg { return Msg{Type: MsgFinished} }

// approxSize estimates the retained byte cost of a message. Used only
// for history eviction accounting, so a rough figure is fine.
func (m Msg) approxSize() int {
	size := len(m.Type) + len(m.Text) + 16
	for _, op := range m.Patch {
		size += len(op.Op) + len(op.Path) + len(op.Value) + 8
	}
	return size
}

// stored is a message plus its eviction bookkeeping. Owned exclusively
// by the Store.
type stored struct {
	msg   Msg
	bytes int
	seq   uint64
}
