package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"imessage-undeleter/internal/tracker"
)

const consoleTimeFormat = "2006-01-02 15:04:05"

// ConsoleSink prints records for a human watching the terminal. Format is
// one of "plain", "colored" or "json". Colors follow fatih/color's terminal
// detection, so redirected output stays plain.
type ConsoleSink struct {
	name   string
	format string
	out    io.Writer

	mu sync.Mutex
}

var _ tracker.Sink = (*ConsoleSink)(nil)

// NewConsoleSink writes to out, or to the color-aware stdout when out is nil.
func NewConsoleSink(name, format string, out io.Writer) *ConsoleSink {
	if format == "" {
		format = "colored"
	}
	if out == nil {
		out = color.Output
	}
	return &ConsoleSink{name: name, format: format, out: out}
}

func (s *ConsoleSink) Name() string { return s.name }

func (s *ConsoleSink) Initialize(ctx context.Context) error {
	return s.banner(color.FgGreen, "iMessage deletion tracker started")
}

func (s *ConsoleSink) Finalize(ctx context.Context) error {
	return s.banner(color.FgYellow, "iMessage deletion tracker stopped")
}

func (s *ConsoleSink) banner(attr color.Attribute, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.format {
	case "json":
		return nil
	case "colored":
		_, err := color.New(attr, color.Bold).Fprintln(s.out, msg)
		return err
	default:
		_, err := fmt.Fprintln(s.out, msg)
		return err
	}
}

func (s *ConsoleSink) Deliver(ctx context.Context, rec *tracker.DeletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch s.format {
	case "json":
		err = s.writeJSON(rec)
	case "colored":
		err = s.writeColored(rec)
	default:
		err = s.writePlain(rec)
	}
	if err != nil {
		return deliverError(s.name, rec, err)
	}
	return nil
}

func (s *ConsoleSink) writeJSON(rec *tracker.DeletionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.out, "%s\n", data)
	return err
}

func (s *ConsoleSink) writePlain(rec *tracker.DeletionRecord) error {
	var b strings.Builder
	fmt.Fprintf(&b, "DELETION DETECTED: item %d (%s) at %s\n",
		rec.ItemID, rec.Classification, rec.DeletedAt.Local().Format(consoleTimeFormat))
	if who := origin(rec); who != "" {
		fmt.Fprintf(&b, "From: %s\n", who)
	}
	fmt.Fprintf(&b, "Content: %s\n", recoveredText(rec))
	fmt.Fprintf(&b, "Attachments: %s\n\n", strings.Join(attachmentNames(rec), ", "))
	_, err := io.WriteString(s.out, b.String())
	return err
}

func (s *ConsoleSink) writeColored(rec *tracker.DeletionRecord) error {
	red := color.New(color.FgRed, color.Bold)
	cyan := color.New(color.FgCyan)

	field := func(label, value string) {
		cyan.Fprintf(s.out, "  %-12s", label)
		fmt.Fprintln(s.out, value)
	}

	if _, err := red.Fprintf(s.out, "DELETION DETECTED (%s)\n", rec.Classification); err != nil {
		return err
	}
	field("Item:", fmt.Sprintf("%d", rec.ItemID))
	field("Time:", rec.DeletedAt.Local().Format(consoleTimeFormat))
	if who := origin(rec); who != "" {
		field("From:", who)
	}
	field("Content:", recoveredText(rec))
	field("Attachments:", strings.Join(attachmentNames(rec), ", "))
	_, err := fmt.Fprintln(s.out)
	return err
}

func origin(rec *tracker.DeletionRecord) string {
	switch {
	case rec.Origin.SenderIdentity != "" && rec.Origin.ConversationID != "":
		return rec.Origin.SenderIdentity + " in " + rec.Origin.ConversationID
	case rec.Origin.SenderIdentity != "":
		return rec.Origin.SenderIdentity
	default:
		return rec.Origin.ConversationID
	}
}
