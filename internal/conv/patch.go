package conv

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Op is a single JSON Patch operation (RFC 6902 subset: add, replace,
// remove) addressed at a pointer path under /entries.
type Op struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Patch is an ordered group of operations produced in one step.
type Patch []Op

// Batch is a numbered group of patch operations emitted in one
// streaming tick. The ID is the resumption cursor for reconnecting
// clients; the operations are flattened into one ordered list.
type Batch struct {
	BatchID int64 `json:"batch_id"`
	Patches Patch `json:"patches"`
}

// EscapeToken escapes a JSON Pointer reference token per RFC 6901:
// "~" becomes "~0", "/" becomes "~1".
func EscapeToken(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

// UnescapeToken reverses EscapeToken.
func UnescapeToken(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

func entryPath(index int) string {
	return "/entries/" + strconv.Itoa(index)
}

func marshalValue(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Entry and FileDiff contain only marshalable fields; a failure
		// here is a programming error, not an input error.
		panic(fmt.Sprintf("conv: marshal patch value: %v", err))
	}
	return data
}

// AddEntry builds a patch that appends or inserts e at index.
func AddEntry(index int, e Entry) Patch {
	return Patch{{Op: "add", Path: entryPath(index), Value: marshalValue(e)}}
}

// ReplaceEntry builds a patch that replaces the entry at index.
func ReplaceEntry(index int, e Entry) Patch {
	return Patch{{Op: "replace", Path: entryPath(index), Value: marshalValue(e)}}
}

// RemoveEntry builds a patch that removes the entry at index.
func RemoveEntry(index int) Patch {
	return Patch{{Op: "remove", Path: entryPath(index)}}
}

// FileDiff is the value stored at a file-path-addressed entry.
type FileDiff struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}

// AddFileDiff builds a patch addressed by the (escaped) file path rather
// than a numeric index.
func AddFileDiff(path, diff string) Patch {
	return Patch{{
		Op:    "add",
		Path:  "/entries/" + EscapeToken(path),
		Value: marshalValue(FileDiff{Path: path, Diff: diff}),
	}}
}

// EntryIndex extracts the numeric entry index an operation addresses.
// Returns false for non-entry paths and for file-diff (escaped string)
// tokens.
func (o Op) EntryIndex() (int, bool) {
	token, ok := strings.CutPrefix(o.Path, "/entries/")
	if !ok || strings.Contains(token, "/") {
		return 0, false
	}
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Apply mutates the conversation according to the patch. Operations at
// non-numeric paths (file diffs) are ignored; out-of-range indices are
// an error. Applying, in order, every patch an execution ever emitted to
// an empty conversation reproduces the normalized entry list exactly.
func (c *Conversation) Apply(p Patch) error {
	for _, op := range p {
		index, ok := op.EntryIndex()
		if !ok {
			continue
		}
		switch op.Op {
		case "add":
			if index > len(c.Entries) {
				return fmt.Errorf("conv: add at %d past end %d", index, len(c.Entries))
			}
			var e Entry
			if err := json.Unmarshal(op.Value, &e); err != nil {
				return fmt.Errorf("conv: decode add value: %w", err)
			}
			c.Entries = append(c.Entries, Entry{})
			copy(c.Entries[index+1:], c.Entries[index:])
			c.Entries[index] = e
		case "replace":
			if index >= len(c.Entries) {
				return fmt.Errorf("conv: replace at %d past end %d", index, len(c.Entries))
			}
			var e Entry
			if err := json.Unmarshal(op.Value, &e); err != nil {
				return fmt.Errorf("conv: decode replace value: %w", err)
			}
			c.Entries[index] = e
		case "remove":
			if index >= len(c.Entries) {
				return fmt.Errorf("conv: remove at %d past end %d", index, len(c.Entries))
			}
			c.Entries = append(c.Entries[:index], c.Entries[index+1:]...)
		default:
			return fmt.Errorf("conv: unsupported op %q", op.Op)
		}
	}
	return nil
}
