// Package protocol defines the JSON envelopes exchanged between the
// panel and the process host over the persistent websocket.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event types pushed by the host. Connect, Disconnect and ConnectError
// are synthetic: the transport emits them on its own lifecycle and they
// never appear as wire frames.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
	EventSessionReady = "session-ready"
	EventSessionExit  = "session-exited"
	EventSessionKill  = "session-killed"
	EventSessionError = "session-error"
	EventOutput       = "output"
)

// Command types sent by the panel.
const (
	CmdSelectSession = "select-session"
	CmdKillSession   = "kill-session"
	CmdResumeSession = "resume-session"
	CmdSessionInput  = "session-input"
	CmdSessionResize = "session-resize"
	CmdPing          = "ping"
)

// Event is an inbound notification. ProjectPath scopes session events;
// it is empty for connection-level events and may be empty for
// session-error (meaning "about whatever is current").
type Event struct {
	Type        string `json:"type"`
	ProjectPath string `json:"projectPath,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ExitCode    int    `json:"exitCode,omitempty"`
	Resumed     bool   `json:"resumed,omitempty"`
	Message     string `json:"message,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// Command is an outbound instruction to the host.
type Command struct {
	Type    string `json:"type"`
	Path    string `json:"path,omitempty"`
	Channel string `json:"channel,omitempty"`
	Data    []byte `json:"data,omitempty"`
	Cols    int    `json:"cols,omitempty"`
	Rows    int    `json:"rows,omitempty"`
}

// DecodeEvent parses a wire frame into an Event, rejecting frames
// without a type.
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	return ev, nil
}

// DecodeCommand parses a wire frame into a Command, rejecting frames
// without a type.
func DecodeCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("decode command: missing type")
	}
	return cmd, nil
}
