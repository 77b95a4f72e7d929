package router

import (
	"context"
	"testing"

	"github.com/mbocsi/edgegateway/internal/connector"
	"github.com/mbocsi/edgegateway/internal/logging"
)

type recordingConnector struct {
	id           string
	dataErr      error
	logErr       error
	dataReceived []any
	logReceived  []map[string]any
}

func (c *recordingConnector) ID() string                   { return c.id }
func (c *recordingConnector) Category() connector.Category { return connector.Cloud }
func (c *recordingConnector) IsActive() bool                { return true }
func (c *recordingConnector) SetLogger(logging.Logger)      {}
func (c *recordingConnector) Init(context.Context, map[string]any, string) (any, error) {
	return nil, nil
}
func (c *recordingConnector) AddData(payload any, requestID string) error {
	c.dataReceived = append(c.dataReceived, payload)
	return c.dataErr
}
func (c *recordingConnector) AddLogData(payload map[string]any) error {
	c.logReceived = append(c.logReceived, payload)
	return c.logErr
}
func (c *recordingConnector) Data() <-chan connector.DataEvent { return nil }
func (c *recordingConnector) Log() <-chan connector.LogEvent   { return nil }
func (c *recordingConnector) Stop(context.Context, string) (any, error) {
	return nil, nil
}

type fixedLister struct {
	conns []connector.Connector
}

func (f *fixedLister) ActiveCloudConnectors() []connector.Connector { return f.conns }

func TestFanoutData_BestEffortSkipsFailures(t *testing.T) {
	ok := &recordingConnector{id: "ok"}
	bad := &recordingConnector{id: "bad", dataErr: errTest{}}
	lister := &fixedLister{conns: []connector.Connector{ok, bad}}

	FanoutData(lister, map[string]any{"x": 1}, "r1", logging.Nop)

	if len(ok.dataReceived) != 1 {
		t.Fatalf("expected ok connector to receive data, got %d", len(ok.dataReceived))
	}
	if len(bad.dataReceived) != 1 {
		t.Fatalf("expected bad connector to still be attempted, got %d", len(bad.dataReceived))
	}
}

func TestFanoutLog_BestEffort(t *testing.T) {
	ok := &recordingConnector{id: "ok"}
	lister := &fixedLister{conns: []connector.Connector{ok}}
	FanoutLog(lister, map[string]any{"level": "info"}, logging.Nop)
	if len(ok.logReceived) != 1 {
		t.Fatalf("expected log fanout, got %d", len(ok.logReceived))
	}
}

func TestDecodeCommandBatch_RejectsNonSequence(t *testing.T) {
	if cmds := DecodeCommandBatch(map[string]any{"not": "a list"}, logging.Nop); cmds != nil {
		t.Fatalf("expected nil for non-sequence payload, got %v", cmds)
	}
	if cmds := DecodeCommandBatch([]any{}, logging.Nop); cmds != nil {
		t.Fatalf("expected nil for empty sequence, got %v", cmds)
	}
}

func TestDecodeCommandBatch_DropsInvalidElementsKeepsRest(t *testing.T) {
	payload := []any{
		"not a mapping",
		map[string]any{"noAction": true},
		map[string]any{"action": "start_connector", "id": "d1", "category": "device"},
	}
	cmds := DecodeCommandBatch(payload, logging.Nop)
	if len(cmds) != 1 {
		t.Fatalf("expected exactly one valid command decoded, got %d", len(cmds))
	}
	if cmds[0].Action != "start_connector" || cmds[0].ID != "d1" || cmds[0].Category != "device" {
		t.Fatalf("unexpected decoded command: %+v", cmds[0])
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
