package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// StreamJSONL writes every event of the log to w as one JSON object
// per line, replaying history first and then following live events
// until the log closes or ctx is cancelled. This is the wire format
// the visualization collaborator consumes.
func StreamJSONL(ctx context.Context, l *Log, w io.Writer) error {
	enc := json.NewEncoder(w)
	for ev := range l.Subscribe(ctx) {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode event %d: %w", ev.Seq, err)
		}
	}
	return ctx.Err()
}
