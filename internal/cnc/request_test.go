package cnc

import (
	"errors"
	"testing"

	"github.com/mbocsi/edgegateway/internal/logging"
)

type recordingSink struct {
	envelopes []map[string]any
}

func (s *recordingSink) AddData(payload any, requestID string) error {
	m, ok := payload.(map[string]any)
	if !ok {
		return errors.New("not a mapping")
	}
	s.envelopes = append(s.envelopes, m)
	return nil
}

func TestNew_MissingRequestIDDefaultsToNa(t *testing.T) {
	sink := &recordingSink{}
	req := New(Command{Action: "start_connector"}, sink, logging.Nop)
	if req.RequestID() != "na" {
		t.Fatalf("expected requestId to default to \"na\", got %q", req.RequestID())
	}
}

func TestAck_EchoesAction(t *testing.T) {
	sink := &recordingSink{}
	req := New(Command{Action: "stop_connector", RequestID: "r1"}, sink, logging.Nop)
	req.Ack()

	if len(sink.envelopes) != 1 {
		t.Fatalf("expected one envelope, got %d", len(sink.envelopes))
	}
	env := sink.envelopes[0]
	if env["requestId"] != "r1" || env["qos"] != 1 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	data := env["data"].(map[string]any)
	if data["type"] != "ack" || data["action"] != "stop_connector" {
		t.Fatalf("unexpected ack data: %+v", data)
	}
}

func TestCompleteOk_SendsSuccessEnvelopeOnce(t *testing.T) {
	sink := &recordingSink{}
	req := New(Command{Action: "list_connectors", RequestID: "r2"}, sink, logging.Nop)
	req.CompleteOk(map[string]any{"x": 1})
	req.CompleteOk(map[string]any{"x": 2})

	if len(sink.envelopes) != 1 {
		t.Fatalf("expected exactly one completion envelope, got %d", len(sink.envelopes))
	}
	data := sink.envelopes[0]["data"].(map[string]any)
	if data["type"] != "complete" || data["hasErrors"] != false {
		t.Fatalf("unexpected complete data: %+v", data)
	}
	resp := data["response"].(map[string]any)
	if resp["x"] != 1 {
		t.Fatalf("expected first CompleteOk's response to win, got %+v", resp)
	}
}

func TestCompleteError_SendsErrorEnvelopeAndLog(t *testing.T) {
	sink := &recordingSink{}
	req := New(Command{Action: "start_connector", RequestID: "r3"}, sink, logging.Nop)
	req.CompleteError(errors.New("boom"))

	if len(sink.envelopes) != 2 {
		t.Fatalf("expected a log envelope plus a complete envelope, got %d", len(sink.envelopes))
	}
	logData := sink.envelopes[0]["data"].(map[string]any)
	if logData["type"] != "log" {
		t.Fatalf("expected first envelope to be a log record, got %+v", logData)
	}
	completeData := sink.envelopes[1]["data"].(map[string]any)
	if completeData["hasErrors"] != true || completeData["message"] != "boom" {
		t.Fatalf("unexpected complete data: %+v", completeData)
	}
}

func TestCompleteError_IsIdempotentAfterCompleteOk(t *testing.T) {
	sink := &recordingSink{}
	req := New(Command{Action: "start_connector", RequestID: "r4"}, sink, logging.Nop)
	req.CompleteOk(nil)
	req.CompleteError(errors.New("too late"))

	if len(sink.envelopes) != 1 {
		t.Fatalf("expected CompleteError after CompleteOk to be a no-op, got %d envelopes", len(sink.envelopes))
	}
}

func TestInfo_UsesQosZero(t *testing.T) {
	sink := &recordingSink{}
	req := New(Command{Action: "start_connector", RequestID: "r5"}, sink, logging.Nop)
	req.Info("started")

	if len(sink.envelopes) != 1 {
		t.Fatalf("expected one log envelope, got %d", len(sink.envelopes))
	}
	if sink.envelopes[0]["qos"] != 0 {
		t.Fatalf("expected info log to use qos=0, got %v", sink.envelopes[0]["qos"])
	}
}

func TestWarn_UsesQosOne(t *testing.T) {
	sink := &recordingSink{}
	req := New(Command{Action: "start_connector", RequestID: "r6"}, sink, logging.Nop)
	req.Warn("careful")

	if sink.envelopes[0]["qos"] != 1 {
		t.Fatalf("expected warn log to use qos=1, got %v", sink.envelopes[0]["qos"])
	}
}
