// Package framer turns raw SSE bytes from a streaming completions
// endpoint into discrete chunk-event strings: a scanner that walks
// "data: {...}\n" frames looking for the "data: " marker, a JSON
// object opener, and the matching "}\n" closer.
package framer

import "bytes"

const (
	chunkStartText = "data: "
	startToken     = `{"`
	endToken       = "}\n"
	doneToken      = "[DONE]"
)

// chunkState is the scanner's position in one chunk frame.
type chunkState int

const (
	stateStart chunkState = iota
	stateFoundChunkStart
	stateFoundTokenStart
	stateFoundChunkEnd
)

// State carries the scanner position across Feed calls. The zero value
// is a fresh scanner ready for the first buffer.
type State struct {
	pending []byte // bytes observed since the last confirmed event boundary
}

// Feed scans buf for complete "data: {...}\n" chunk events, returning
// every event found (JSON payload only, "data: " and the trailing
// newline stripped) plus the updated State.
//
// An incomplete tail — bytes that belong to an event still being
// written — is carried forward in State.pending and prefixed onto the
// next call, so events are never lost across buffer boundaries.
// FeedStrict implements the stricter alternative of discarding an
// unterminated tail instead, for callers that would rather treat a
// split event as a parse failure than buffer indefinitely.
func Feed(state State, buf []byte) (State, []string) {
	data := append(state.pending, buf...)
	events, consumed := scan(data)
	next := State{pending: append([]byte(nil), data[consumed:]...)}
	return next, events
}

// FeedStrict scans buf in isolation: no cross-call carry-over, and any
// content left over when the buffer ends without reaching a terminal
// state is simply dropped rather than retried. It exists for
// diagnostics and parity testing against Feed's tolerant mode, not for
// production use.
func FeedStrict(buf []byte) []string {
	events, _ := scan(buf)
	return events
}

// scan walks data once, returning every complete chunk event found and
// the byte offset up to which data was fully consumed. Any bytes past
// that offset belong to a "data: {...}\n" frame still in progress and
// must be re-scanned, prefixed onto whatever arrives next.
func scan(data []byte) (events []string, consumed int) {
	st := stateStart
	markerStart := 0 // offset of the unconfirmed "data: " marker currently being matched
	eventStart := 0  // offset of the JSON payload's opening '{'
	lastBoundary := 0

	i := 0
	for i < len(data) {
		switch st {
		case stateStart:
			idx := bytes.Index(data[i:], []byte(chunkStartText))
			if idx < 0 {
				i = len(data)
				break
			}
			markerStart = i + idx
			i = markerStart + len(chunkStartText)
			st = stateFoundChunkStart

		case stateFoundChunkStart:
			if bytes.HasPrefix(data[i:], []byte(doneToken)) {
				// The sentinel line carries no JSON payload; resume
				// looking for the next "data: " marker.
				i += len(doneToken)
				lastBoundary = i
				st = stateStart
				break
			}
			if !bytes.HasPrefix(data[i:], []byte(startToken)) {
				i++
				break
			}
			eventStart = i
			st = stateFoundTokenStart

		case stateFoundTokenStart:
			idx := bytes.Index(data[eventStart:], []byte(endToken))
			if idx < 0 {
				i = len(data)
				break
			}
			end := eventStart + idx + 1 // include the closing '}', drop the '\n'
			events = append(events, string(data[eventStart:end]))
			i = eventStart + idx + len(endToken)
			lastBoundary = i
			st = stateFoundChunkEnd

		case stateFoundChunkEnd:
			idx := bytes.Index(data[i:], []byte(chunkStartText))
			if idx < 0 {
				i = len(data)
				break
			}
			markerStart = i + idx
			i = markerStart + len(chunkStartText)
			st = stateFoundChunkStart
		}
	}

	switch st {
	case stateFoundChunkStart, stateFoundTokenStart:
		// A "data: " marker was seen but its event has not closed yet:
		// rewind to the marker so the next call re-matches it whole.
		return events, markerStart
	default:
		return events, lastBoundary
	}
}
