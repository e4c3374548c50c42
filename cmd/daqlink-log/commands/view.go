// Package commands implements the daqlink-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/rcedaq/daqlink-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Table     string
}

func (f ViewFilter) logFilter() log.Filter {
	return log.Filter{
		Layer:     f.Layer,
		Direction: f.Direction,
		Category:  f.Category,
		Table:     f.Table,
	}
}

const timeLayout = "2006-01-02T15:04:05.000000Z"

// eventType returns the label for the payload carried by event.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return "Document"
	case event.StateChange != nil:
		return "State"
	case event.Row != nil:
		return "Row"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format(timeLayout)
	layer := event.Layer.String()
	if event.Category == log.CategoryControl {
		layer = "CTRL"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s %s\n", ts, shortenConnID(event.ConnectionID),
		event.Direction.String(), event.LocalRole.String(), layer, eventType(event))
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Peer: %s\n", event.RemoteAddr)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Row != nil:
		formatRowDetails(w, event.Row)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) == 0 {
		return
	}
	fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
	if frame.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	if len(msg.Sections) > 0 {
		names := make([]string, len(msg.Sections))
		for i, s := range msg.Sections {
			names[i] = s.String()
		}
		fmt.Fprintf(w, "  Sections: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(w, "  Updates: %d\n", msg.Updates)
	for _, p := range msg.Paths {
		fmt.Fprintf(w, "    %s\n", p)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatRowDetails(w io.Writer, row *log.RowEvent) {
	fmt.Fprintf(w, "  %s/%s serial=%d", row.Table, row.ID, row.Serial)
	if row.Dispatched {
		fmt.Fprint(w, " dispatched")
	}
	fmt.Fprintln(w)
	if row.Value != "" {
		fmt.Fprintf(w, "  Value: %s\n", row.Value)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string from a command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "markup":
		return log.LayerMarkup, nil
	case "mirror":
		return log.LayerMirror, nil
	case "store":
		return log.LayerStore, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, markup, mirror, or store)", s)
	}
}

// ParseDirectionFlag parses a direction string from a command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from a command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, or error)", s)
	}
}

func parseRole(s string) (log.Role, error) {
	switch strings.ToLower(s) {
	case "client":
		return log.RoleClient, nil
	case "device":
		return log.RoleDevice, nil
	case "bridge":
		return log.RoleBridge, nil
	default:
		return 0, fmt.Errorf("invalid role: %s (must be client, device, or bridge)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.logFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
}
