package cliproxy

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/relaygate/core/observability"
)

// eventType enumerates the recognized line-delimited JSON event kinds the
// CLI subprocess may emit (spec.md §4.5 step 5).
type eventType string

const (
	eventStatusUpdate   eventType = "status_update"
	eventTextChunk      eventType = "text_chunk"
	eventFinalResult    eventType = "final_result"
	eventToolCall       eventType = "tool_call"
	eventToolResult     eventType = "tool_result"
	eventSubprocessExit eventType = "subprocess_exit"
)

// event is the envelope every recognized line decodes into.
type event struct {
	Type eventType `json:"type"`
	Text string    `json:"text"`
}

// streamOutcome is the parser's accumulated view of the subprocess output.
type streamOutcome struct {
	accumulated  strings.Builder
	finalResult  string
	hasFinal     bool
	toolCalls    int
	toolResults  int
	statusEvents int
}

// Content returns final_result.text if present, else the accumulated
// text_chunk stream (spec.md §4.5 step 7).
func (o *streamOutcome) Content() string {
	if o.hasFinal {
		return o.finalResult
	}
	return o.accumulated.String()
}

// parseEventStream reads ndjson lines from r, dispatching each recognized
// event type to update outcome. Unparseable lines are logged and skipped;
// they never fail the request (spec.md §4.5 step 5).
func parseEventStream(ctx context.Context, r io.Reader, hooks *observability.Hooks, requestID string) *streamOutcome {
	outcome := &streamOutcome{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			hooks.SafeLog(ctx, "warn", "cliproxy: unparseable event line", map[string]any{"request_id": requestID, "line": line, "error": err.Error()})
			continue
		}
		dispatchEvent(ev, outcome)
	}
	return outcome
}

var eventHandlers = map[eventType]func(event, *streamOutcome){
	eventStatusUpdate: func(_ event, o *streamOutcome) { o.statusEvents++ },
	eventTextChunk:    func(e event, o *streamOutcome) { o.accumulated.WriteString(e.Text) },
	eventFinalResult:  func(e event, o *streamOutcome) { o.finalResult = e.Text; o.hasFinal = true },
	eventToolCall:     func(_ event, o *streamOutcome) { o.toolCalls++ },
	eventToolResult:   func(_ event, o *streamOutcome) { o.toolResults++ },
	eventSubprocessExit: func(event, *streamOutcome) {},
}

func dispatchEvent(ev event, outcome *streamOutcome) {
	if handler, ok := eventHandlers[ev.Type]; ok {
		handler(ev, outcome)
		return
	}
	// Unrecognized type: tolerated, no state change.
}
