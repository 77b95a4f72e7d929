package controller

import (
	"context"

	"github.com/mbocsi/edgegateway/internal/cnc"
	"github.com/mbocsi/edgegateway/internal/configstore"
	"github.com/mbocsi/edgegateway/internal/connector"
)

// Execute dispatches one CnC command to its handler (spec.md §4.5's action
// table) and reports completion on req. It returns whether the command
// mutated the persisted config, so the caller can decide whether to
// schedule a write.
func (c *Controller) Execute(ctx context.Context, req *cnc.Request) bool {
	cmd := req.Command()
	switch cmd.Action {
	case "stop_connector":
		return c.execStopConnector(ctx, req)
	case "start_connector":
		return c.execStartConnector(ctx, req)
	case "restart_connector":
		return c.execRestartConnector(ctx, req)
	case "stop_all_connectors":
		return c.execStopAll(ctx, req)
	case "start_all_connectors":
		return c.execStartAll(ctx, req)
	case "restart_all_connectors":
		return c.execRestartAll(ctx, req)
	case "list_connectors":
		return c.execListConnectors(req)
	case "get_connector_config":
		return c.execGetConnectorConfig(req)
	case "send_data":
		return c.execSendData(req)
	case "update_config":
		return c.execUpdateConfig(req)
	case "delete_config":
		return c.execDeleteConfig(req)
	case "update_connector_type":
		return c.execUpdateConnectorType(req)
	case "maintenance_action":
		return c.execMaintenanceAction(ctx, req)
	default:
		req.CompleteError(newErr(KindUnknownAction, "unrecognized action: "+cmd.Action, nil))
		return false
	}
}

func validateCategory(s string) (connector.Category, error) {
	switch s {
	case string(connector.Cloud):
		return connector.Cloud, nil
	case string(connector.Device):
		return connector.Device, nil
	default:
		return "", newErr(KindInvalidCategory, "category must be \"cloud\" or \"device\", got "+s, nil)
	}
}

func bothCategories() []connector.Category { return []connector.Category{connector.Cloud, connector.Device} }

func categoriesFor(raw string) ([]connector.Category, error) {
	if raw == "" {
		return bothCategories(), nil
	}
	cat, err := validateCategory(raw)
	if err != nil {
		return nil, err
	}
	return []connector.Category{cat}, nil
}

// ---- single-slot actions ----

func (c *Controller) execStopConnector(ctx context.Context, req *cnc.Request) bool {
	cmd := req.Command()
	cat, err := validateCategory(cmd.Category)
	if err != nil {
		req.CompleteError(err)
		return false
	}
	rec, ok := c.getRecord(cat, cmd.ID)
	if !ok {
		req.CompleteError(newErr(KindNoSuchConnector, "no such connector", nil))
		return false
	}
	go c.awaitAndComplete(c.enqueueStopAsync(ctx, rec, cmd.RequestID), req)
	return false
}

func (c *Controller) execStartConnector(ctx context.Context, req *cnc.Request) bool {
	cmd := req.Command()
	cat, err := validateCategory(cmd.Category)
	if err != nil {
		req.CompleteError(err)
		return false
	}
	if _, ok := c.store.Get(string(cat), cmd.ID); !ok {
		req.CompleteError(newErr(KindNoSuchConfig, "no config entry for connector", nil))
		return false
	}
	rec := c.ensureRecord(cat, cmd.ID)
	go c.awaitAndComplete(c.enqueueInitAsync(ctx, rec, cmd.RequestID), req)
	return false
}

func (c *Controller) execRestartConnector(ctx context.Context, req *cnc.Request) bool {
	cmd := req.Command()
	cat, err := validateCategory(cmd.Category)
	if err != nil {
		req.CompleteError(err)
		return false
	}
	rec := c.ensureRecord(cat, cmd.ID)
	stopCh := c.enqueueStopAsync(ctx, rec, cmd.RequestID)
	initCh := c.enqueueInitAsync(ctx, rec, cmd.RequestID)
	go func() {
		stopErr := <-stopCh
		initErr := <-initCh
		if initErr != nil {
			req.CompleteError(initErr)
			return
		}
		_ = stopErr // stop failing (e.g. NotActive on a cold slot) doesn't block the restart
		req.CompleteOk(nil)
	}()
	return false
}

// ---- category-wide actions ----

func (c *Controller) execStopAll(ctx context.Context, req *cnc.Request) bool {
	cats, err := categoriesFor(req.Command().Category)
	if err != nil {
		req.CompleteError(err)
		return false
	}
	var chans []<-chan error
	for _, cat := range cats {
		for _, rec := range c.recordsIn(cat) {
			chans = append(chans, c.enqueueStopAsync(ctx, rec, req.RequestID()))
		}
	}
	go c.awaitAllAndComplete(chans, req)
	return false
}

func (c *Controller) execStartAll(ctx context.Context, req *cnc.Request) bool {
	cats, err := categoriesFor(req.Command().Category)
	if err != nil {
		req.CompleteError(err)
		return false
	}
	var chans []<-chan error
	for _, cat := range cats {
		for id := range c.store.Section(string(cat)) {
			rec := c.ensureRecord(cat, id)
			chans = append(chans, c.enqueueInitAsync(ctx, rec, req.RequestID()))
		}
	}
	go c.awaitAllAndComplete(chans, req)
	return false
}

func (c *Controller) execRestartAll(ctx context.Context, req *cnc.Request) bool {
	cats, err := categoriesFor(req.Command().Category)
	if err != nil {
		req.CompleteError(err)
		return false
	}
	go func() {
		var stopChans []<-chan error
		for _, cat := range cats {
			for _, rec := range c.recordsIn(cat) {
				stopChans = append(stopChans, c.enqueueStopAsync(ctx, rec, req.RequestID()))
			}
		}
		for _, ch := range stopChans {
			<-ch
		}
		var initChans []<-chan error
		for _, cat := range cats {
			for id := range c.store.Section(string(cat)) {
				rec := c.ensureRecord(cat, id)
				initChans = append(initChans, c.enqueueInitAsync(ctx, rec, req.RequestID()))
			}
		}
		c.awaitAllAndComplete(initChans, req)
	}()
	return false
}

func (c *Controller) awaitAndComplete(ch <-chan error, req *cnc.Request) {
	if err := <-ch; err != nil {
		req.CompleteError(err)
		return
	}
	req.CompleteOk(nil)
}

func (c *Controller) awaitAllAndComplete(chans []<-chan error, req *cnc.Request) {
	var firstErr error
	for _, ch := range chans {
		if err := <-ch; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		req.CompleteError(firstErr)
		return
	}
	req.CompleteOk(nil)
}

// ---- introspection / data / config actions ----

type connectorReport struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	State    string `json:"state"`
}

func (c *Controller) execListConnectors(req *cnc.Request) bool {
	cats, err := categoriesFor(req.Command().Category)
	if err != nil {
		req.CompleteError(err)
		return false
	}
	report := make([]connectorReport, 0)
	for _, cat := range cats {
		for id := range c.store.Section(string(cat)) {
			state := "WAITING"
			if rec, ok := c.getRecord(cat, id); ok {
				if inst := rec.Instance(); inst != nil && inst.IsActive() {
					state = "READY"
				}
			}
			report = append(report, connectorReport{ID: id, Category: string(cat), State: state})
		}
	}
	req.CompleteOk(report)
	return false
}

// sanitizeConfig redacts known credentialed fields before reply, per
// spec.md §6.
func sanitizeConfig(typeName string, cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	switch typeName {
	case "CncCloud":
		out["password"] = ""
	case "Http":
		if headers, ok := out["headers"].(map[string]any); ok {
			h := make(map[string]any, len(headers))
			for k, v := range headers {
				h[k] = v
			}
			h["authorization"] = ""
			out["headers"] = h
		}
	}
	return out
}

func (c *Controller) execGetConnectorConfig(req *cnc.Request) bool {
	cmd := req.Command()
	cat, err := validateCategory(cmd.Category)
	if err != nil {
		req.CompleteError(err)
		return false
	}
	if cmd.ID != "" {
		entry, ok := c.store.Get(string(cat), cmd.ID)
		if !ok {
			req.CompleteError(newErr(KindNoSuchConfig, "no config entry for connector", nil))
			return false
		}
		req.CompleteOk(map[string]any{
			"type":   entry.Type,
			"config": sanitizeConfig(entry.Type, entry.Config),
		})
		return false
	}

	section := c.store.Section(string(cat))
	out := make(map[string]any, len(section))
	for id, entry := range section {
		out[id] = map[string]any{
			"type":   entry.Type,
			"config": sanitizeConfig(entry.Type, entry.Config),
		}
	}
	req.CompleteOk(out)
	return false
}

func (c *Controller) execSendData(req *cnc.Request) bool {
	cmd := req.Command()
	cat, err := validateCategory(cmd.Category)
	if err != nil {
		req.CompleteError(err)
		return false
	}
	rec, ok := c.getRecord(cat, cmd.ID)
	if !ok {
		req.CompleteError(newErr(KindNoSuchConnector, "no such connector", nil))
		return false
	}
	inst := rec.Instance()
	if inst == nil {
		req.CompleteError(newErr(KindNotActive, "connector is not active", nil))
		return false
	}
	if err := inst.AddData(cmd.Data, cmd.RequestID); err != nil {
		req.CompleteError(err)
		return false
	}
	req.CompleteOk(nil)
	return false
}

func (c *Controller) execUpdateConfig(req *cnc.Request) bool {
	cmd := req.Command()
	cat, err := validateCategory(cmd.Category)
	if err != nil {
		req.CompleteError(err)
		return false
	}
	if cmd.ID == "" {
		req.CompleteError(newErr(KindInvalidArguments, "id is required", nil))
		return false
	}
	entry := configstore.ConnectorEntry{Type: cmd.Type, Config: cmd.Config}
	c.store.SetConnector(string(cat), cmd.ID, entry)
	req.CompleteOk(nil)
	return true
}

// execDeleteConfig implements delete_config from the command's category and
// id alone; the source's unused "config" parameter is dropped per spec.md
// §9.
func (c *Controller) execDeleteConfig(req *cnc.Request) bool {
	cmd := req.Command()
	cat, err := validateCategory(cmd.Category)
	if err != nil {
		req.CompleteError(err)
		return false
	}
	existed := c.store.DeleteConnector(string(cat), cmd.ID)
	req.CompleteOk(nil)
	return existed
}

func (c *Controller) execUpdateConnectorType(req *cnc.Request) bool {
	cmd := req.Command()
	if cmd.Type == "" || cmd.ModulePath == "" {
		req.CompleteError(newErr(KindInvalidArguments, "type and modulePath are required", nil))
		return false
	}
	c.store.SetConnectorType(cmd.Type, cmd.ModulePath)
	c.rebuildRegistry(c.store.ConnectorTypes())
	req.CompleteOk(nil)
	return true
}

func (c *Controller) execMaintenanceAction(ctx context.Context, req *cnc.Request) bool {
	cmd := req.Command()
	c.setShuttingDown(true)

	go func() {
		var chans []<-chan error
		for _, rec := range c.allRecords() {
			chans = append(chans, c.enqueueStopAsync(ctx, rec, cmd.RequestID))
		}
		for _, ch := range chans {
			<-ch
		}
		req.CompleteOk(nil)
		c.emitMaintenance(MaintenanceEvent{Command: cmd.Data, RequestID: cmd.RequestID})
	}()
	return false
}
