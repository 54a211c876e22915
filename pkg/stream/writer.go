package stream

import "assetdesk/pkg/models"

// Writer appends deltas for one stream, keyed by the prompt message id.
type Writer struct {
	log      *Log
	threadID string
	streamID string
}

// Writer returns a Writer for (threadID, streamID).
func (l *Log) Writer(threadID, streamID string) *Writer {
	return &Writer{log: l, threadID: threadID, streamID: streamID}
}

func (w *Writer) append(d models.Delta) error {
	d.ThreadID = w.threadID
	d.MessageID = w.streamID
	_, err := w.log.Append(d)
	return err
}

// Text appends a chunk of assistant text. Empty chunks are skipped.
func (w *Writer) Text(s string) error {
	if s == "" {
		return nil
	}
	return w.append(models.Delta{Kind: models.DeltaText, Text: s})
}

// Reasoning appends a chunk of the reasoning trace.
func (w *Writer) Reasoning(s string) error {
	if s == "" {
		return nil
	}
	return w.append(models.Delta{Kind: models.DeltaReasoning, Text: s})
}

// Tool appends a snapshot of a tool invocation's current state.
func (w *Writer) Tool(ti models.ToolInvocation) error {
	snap := ti
	return w.append(models.Delta{Kind: models.DeltaTool, Tool: &snap})
}

// Status appends a message status change.
func (w *Writer) Status(s models.MessageStatus) error {
	return w.append(models.Delta{Kind: models.DeltaStatus, Status: s})
}
