// Package cnc implements the command-and-control request abstraction:
// binding one cloud-issued command to a correlation id, structured logging,
// and ack/complete reply delivery back to the issuing cloud connector
// (spec.md §3, §6).
package cnc

import (
	"encoding/json"
	"fmt"

	"github.com/mbocsi/edgegateway/internal/logging"
)

// Command is the decoded CnC command, spec.md §3.
type Command struct {
	Action     string         `json:"action"`
	RequestID  string         `json:"requestId,omitempty"`
	Category   string         `json:"category,omitempty"`
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type,omitempty"`
	ModulePath string         `json:"modulePath,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Data       any            `json:"data,omitempty"`
}

// Sink is where reply envelopes go: the issuing cloud connector's AddData.
type Sink interface {
	AddData(payload any, requestID string) error
}

// Request wraps one command plus its reply sink. Its lifecycle begins when
// a command is received from a cloud connector and ends when CompleteOk or
// CompleteError is called.
type Request struct {
	cmd    Command
	sink   Sink
	logger logging.Logger
	done   bool
}

// New builds a Request, substituting the literal "na" for a missing
// requestId (spec.md §3).
func New(cmd Command, sink Sink, logger logging.Logger) *Request {
	if cmd.RequestID == "" {
		cmd.RequestID = "na"
	}
	if logger == nil {
		logger = logging.Nop
	}
	return &Request{cmd: cmd, sink: sink, logger: logger}
}

func (r *Request) Command() Command   { return r.cmd }
func (r *Request) RequestID() string  { return r.cmd.RequestID }
func (r *Request) Action() string     { return r.cmd.Action }

// Ack sends an acknowledge envelope echoing the action.
func (r *Request) Ack() {
	r.reply(map[string]any{
		"type":   "ack",
		"action": r.cmd.Action,
	}, 1)
}

// CompleteOk sends a success completion envelope. response defaults to an
// empty mapping when nil.
func (r *Request) CompleteOk(response any) {
	if r.done {
		return
	}
	r.done = true
	if response == nil {
		response = map[string]any{}
	}
	r.reply(map[string]any{
		"type":      "complete",
		"hasErrors": false,
		"response":  response,
	}, 1)
}

// CompleteError sends an error completion envelope plus an error-level log
// record, per spec.md §6. The source's undefined-`error`-variable bug is
// resolved here by using the formatted message (spec.md §9).
func (r *Request) CompleteError(err error) {
	if r.done {
		return
	}
	r.done = true
	msg := err.Error()
	r.Error(msg)
	r.reply(map[string]any{
		"type":      "complete",
		"hasErrors": true,
		"message":   msg,
	}, 1)
}

// Log helpers: structured logging plus an echoed log record to the cloud,
// per spec.md §6 ("qos=0 for info, qos=1 otherwise").
func (r *Request) Info(msg string, args ...any)  { r.log("info", msg, args...) }
func (r *Request) Warn(msg string, args ...any)  { r.log("warn", msg, args...) }
func (r *Request) Error(msg string, args ...any) { r.log("error", msg, args...) }
func (r *Request) Debug(msg string, args ...any) { r.log("debug", msg, args...) }

func (r *Request) log(level, msg string, args ...any) {
	switch level {
	case "info":
		r.logger.Info(msg, args...)
	case "warn":
		r.logger.Warn(msg, args...)
	case "error":
		r.logger.Error(msg, args...)
	default:
		r.logger.Debug(msg, args...)
	}

	formatted := formatLog(msg, args...)
	qos := 1
	if level == "info" {
		qos = 0
	}
	r.reply(map[string]any{
		"type":    "log",
		"message": fmt.Sprintf("[%s] [%s] %s", level, r.cmd.RequestID, formatted),
	}, qos)
}

func formatLog(msg string, args ...any) string {
	if len(args) == 0 {
		return msg
	}
	b, err := json.Marshal(args)
	if err != nil {
		return msg
	}
	return fmt.Sprintf("%s %s", msg, string(b))
}

// reply delivers one envelope, ignoring the sink error: a cloud connector
// that can't accept its own reply is not this request's problem to solve.
func (r *Request) reply(data map[string]any, qos int) {
	if r.sink == nil {
		return
	}
	envelope := map[string]any{
		"requestId": r.cmd.RequestID,
		"qos":       qos,
		"data":      data,
	}
	_ = r.sink.AddData(envelope, r.cmd.RequestID)
}
