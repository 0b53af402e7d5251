package iso7816

import (
	"fmt"
	"maps"
	"slices"
)

// STATUS TABLES:
// The meaning of a status word depends on the command that produced it. '6985' is
// "session already opened" for one command and "SAM locked" for another, and some
// proprietary commands treat a warning as success. A StatusTable carries that
// per-command knowledge: every command declares its table as the shared base
// (9000 = Success) plus its own entries, merged once into an immutable value.
//
// Looking up a status word that the table does not document never fails: it yields
// an unsuccessful "Unknown status" entry.

// UnknownStatusMessage is the message of the entry synthesized for undocumented status words.
const UnknownStatusMessage = "Unknown status"

// StatusProperties describes how a command interprets a status word.
type StatusProperties struct {
	Successful bool
	Message    string
}

// StatusEntry is one status word and its properties, as listed by StatusTable.Entries.
type StatusEntry struct {
	Status StatusWord
	StatusProperties
}

// StatusTable is an immutable mapping from status word to StatusProperties.
// The zero value is an empty table.
type StatusTable struct {
	entries map[StatusWord]StatusProperties
}

// BaseStatusTable returns the entries shared by every command.
func BaseStatusTable() StatusTable {
	return StatusTable{entries: map[StatusWord]StatusProperties{
		SW_NO_ERROR: {Successful: true, Message: "Success"},
	}}
}

// With returns a new table holding the receiver's entries overridden by overrides.
// The receiver is left untouched.
func (t StatusTable) With(overrides map[StatusWord]StatusProperties) StatusTable {
	merged := make(map[StatusWord]StatusProperties, len(t.entries)+len(overrides))
	maps.Copy(merged, t.entries)
	maps.Copy(merged, overrides)
	return StatusTable{entries: merged}
}

// Failures is a shorthand to declare unsuccessful entries from their messages.
func Failures(messages map[StatusWord]string) map[StatusWord]StatusProperties {
	out := make(map[StatusWord]StatusProperties, len(messages))
	for sw, msg := range messages {
		out[sw] = StatusProperties{Successful: false, Message: msg}
	}
	return out
}

// Lookup returns the properties registered for sw, or an unsuccessful "Unknown status"
// entry when sw is not documented.
func (t StatusTable) Lookup(sw StatusWord) StatusProperties {
	if p, ok := t.entries[sw]; ok {
		return p
	}
	return StatusProperties{Successful: false, Message: UnknownStatusMessage}
}

// Contains reports whether sw is documented in the table.
func (t StatusTable) Contains(sw StatusWord) bool {
	_, ok := t.entries[sw]
	return ok
}

// Len returns the number of documented status words.
func (t StatusTable) Len() int {
	return len(t.entries)
}

// Entries lists the table ordered by status word.
func (t StatusTable) Entries() []StatusEntry {
	keys := slices.Sorted(maps.Keys(t.entries))
	out := make([]StatusEntry, 0, len(keys))
	for _, sw := range keys {
		out = append(out, StatusEntry{Status: sw, StatusProperties: t.entries[sw]})
	}
	return out
}

// String lists the table one entry per line.
func (t StatusTable) String() string {
	var s string
	for i, e := range t.Entries() {
		if i > 0 {
			s += "\n"
		}
		mark := "[!!]"
		if e.Successful {
			mark = "[OK]"
		}
		s += fmt.Sprintf("%04X %s %s", uint16(e.Status), mark, e.Message)
	}
	return s
}
