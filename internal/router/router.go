// Package router implements the stateless fanout functions the Controller
// wires between connector event channels: device data -> every active
// cloud connector, log events -> every active cloud connector, cloud
// command batches -> the CnC decoder (spec.md §4.3).
package router

import (
	"github.com/mbocsi/edgegateway/internal/cnc"
	"github.com/mbocsi/edgegateway/internal/connector"
	"github.com/mbocsi/edgegateway/internal/logging"
)

// CloudLister supplies the current set of instantiated cloud connectors to
// fan out to; the Controller implements this over its record map.
type CloudLister interface {
	ActiveCloudConnectors() []connector.Connector
}

// FanoutData delivers a device data event to every currently-instantiated
// cloud connector via AddData. Best-effort: a failing connector is logged
// and skipped, never aborting the fanout for the rest (spec.md §4.3).
func FanoutData(lister CloudLister, payload any, requestID string, logger logging.Logger) {
	for _, c := range lister.ActiveCloudConnectors() {
		if err := c.AddData(payload, requestID); err != nil {
			logger.Warn("fanout addData failed", "connector", c.ID(), "error", err.Error())
		}
	}
}

// FanoutLog delivers a log event (from a device OR cloud connector) to
// every currently-instantiated cloud connector via AddLogData. Same
// best-effort semantics as FanoutData.
func FanoutLog(lister CloudLister, payload map[string]any, logger logging.Logger) {
	for _, c := range lister.ActiveCloudConnectors() {
		if err := c.AddLogData(payload); err != nil {
			logger.Warn("fanout addLogData failed", "connector", c.ID(), "error", err.Error())
		}
	}
}

// DecodeCommandBatch validates a cloud data payload as a non-empty sequence
// of command mappings and decodes each element, dropping anything that
// isn't a mapping with a string action (spec.md §4.3, boundary property 9
// and 10 in spec.md §8).
func DecodeCommandBatch(payload any, logger logging.Logger) []cnc.Command {
	seq, ok := payload.([]any)
	if !ok || len(seq) == 0 {
		logger.Warn("cloud data payload is not a non-empty sequence, dropping")
		return nil
	}
	cmds := make([]cnc.Command, 0, len(seq))
	for _, el := range seq {
		m, ok := el.(map[string]any)
		if !ok {
			logger.Warn("command batch element is not a mapping, dropping")
			continue
		}
		action, ok := m["action"].(string)
		if !ok || action == "" {
			logger.Warn("command batch element missing action, dropping")
			continue
		}
		cmds = append(cmds, decodeCommand(m, action))
	}
	return cmds
}

func decodeCommand(m map[string]any, action string) cnc.Command {
	cmd := cnc.Command{Action: action}
	if v, ok := m["requestId"].(string); ok {
		cmd.RequestID = v
	}
	if v, ok := m["category"].(string); ok {
		cmd.Category = v
	}
	if v, ok := m["id"].(string); ok {
		cmd.ID = v
	}
	if v, ok := m["type"].(string); ok {
		cmd.Type = v
	}
	if v, ok := m["modulePath"].(string); ok {
		cmd.ModulePath = v
	}
	if v, ok := m["config"].(map[string]any); ok {
		cmd.Config = v
	}
	if v, ok := m["data"]; ok {
		cmd.Data = v
	}
	return cmd
}
