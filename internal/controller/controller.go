// Package controller implements the supervised runtime that owns the
// cloud/device connector collections, serializes their lifecycle
// operations, routes data/log events between them, and executes the
// command-and-control protocol (spec.md §4.7).
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/edgegateway/internal/cnc"
	"github.com/mbocsi/edgegateway/internal/configstore"
	"github.com/mbocsi/edgegateway/internal/connector"
	"github.com/mbocsi/edgegateway/internal/factory"
	"github.com/mbocsi/edgegateway/internal/logging"
	"github.com/mbocsi/edgegateway/internal/pipeline"
	"github.com/mbocsi/edgegateway/internal/router"
)

// Loader resolves a config-file module path/registry key into a
// constructor. Standing in for the source's dynamic module loader
// (spec.md §6, §9): a compiled implementation naturally uses a
// compile-time registry keyed by the resolved string.
type Loader func(resolvedPath string) (factory.Constructor, error)

// Config configures a Controller, spec.md §4.7.
type Config struct {
	// ModuleBasePath resolves relative ("./...") modulePath values.
	ModuleBasePath string
	// Loader is consulted for every connectorTypes entry on Init.
	Loader Loader
}

// MaintenanceEvent is the payload of the Controller's maintenance signal,
// spec.md §6.
type MaintenanceEvent struct {
	Command   any
	RequestID string
}

// Snapshot is one entry of GetCloudConnectors/GetDeviceConnectors,
// spec.md §4.7, enriched with LastSeen per SPEC_FULL.md §4.
type Snapshot struct {
	Instance      connector.Connector
	ActionPending bool
	LastResult    any
	LastSeen      time.Time
	Type          string
	Config        map[string]any
	HasConfig     bool
}

// Controller is the facade of spec.md §4.7.
type Controller struct {
	cfg      Config
	provider logging.Provider
	logger   logging.Logger

	registry *factory.Registry
	store    *configstore.Store
	writer   *configstore.Writer

	recMu  sync.RWMutex
	cloud  map[string]*record
	device map[string]*record

	stateMu      sync.Mutex
	active       bool
	shutdownFlag bool

	maintMu  sync.Mutex
	maintFns []func(MaintenanceEvent)
}

// New constructs an inactive Controller.
func New(cfg Config, provider logging.Provider) *Controller {
	if provider == nil {
		provider = logging.NopProvider{}
	}
	return &Controller{
		cfg:      cfg,
		provider: provider,
		logger:   provider.GetLogger("controller"),
		registry: factory.New(provider),
		cloud:    make(map[string]*record),
		device:   make(map[string]*record),
	}
}

func (c *Controller) IsActive() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.active
}

func (c *Controller) isShuttingDown() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.shutdownFlag
}

func (c *Controller) setShuttingDown(v bool) {
	c.stateMu.Lock()
	c.shutdownFlag = v
	c.stateMu.Unlock()
}

// OnMaintenance registers a subscriber for the maintenance signal
// (spec.md §4.7, §6). Registration is synchronous.
func (c *Controller) OnMaintenance(fn func(MaintenanceEvent)) {
	c.maintMu.Lock()
	c.maintFns = append(c.maintFns, fn)
	c.maintMu.Unlock()
}

func (c *Controller) emitMaintenance(ev MaintenanceEvent) {
	c.maintMu.Lock()
	fns := append([]func(MaintenanceEvent){}, c.maintFns...)
	c.maintMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// resolveModulePath joins a "./"-prefixed relative path with the
// configured base path; other values pass through unchanged (spec.md §6,
// property 11 in spec.md §8).
func resolveModulePath(modulePath, base string) string {
	if strings.HasPrefix(modulePath, "./") {
		return path.Join(base, strings.TrimPrefix(modulePath, "./"))
	}
	return modulePath
}

// Init reads, parses and validates the config file, rebuilds the factory
// registry, and brings up every configured connector in parallel
// (spec.md §4.7).
func (c *Controller) Init(ctx context.Context, configFilePath, requestID string) error {
	if requestID == "" {
		requestID = "na"
	}
	c.setShuttingDown(false)

	raw, err := os.ReadFile(configFilePath)
	if err != nil {
		return newErr(KindConfigRead, "failed to read config file", err)
	}

	doc, err := configstore.Parse(raw)
	if err != nil {
		if shapeErr, ok := err.(*configstore.ShapeError); ok {
			return newErr(KindConfigShape, shapeErr.Error(), shapeErr)
		}
		return newErr(KindConfigParse, "failed to parse config file", err)
	}

	c.store = configstore.NewStore(doc)
	c.writer = configstore.NewWriter(configFilePath, c.logger)

	c.rebuildRegistry(doc.ConnectorTypes)

	g, gctx := errgroup.WithContext(ctx)
	for id := range doc.CloudConnectors {
		rec := c.ensureRecord(connector.Cloud, id)
		ch := c.enqueueInitAsync(gctx, rec, requestID)
		g.Go(func() error { return <-ch })
	}
	for id := range doc.DeviceConnectors {
		rec := c.ensureRecord(connector.Device, id)
		ch := c.enqueueInitAsync(gctx, rec, requestID)
		g.Go(func() error { return <-ch })
	}

	if err := g.Wait(); err != nil {
		return newErr(KindStartupFailed, "one or more connectors failed to start", err)
	}

	c.stateMu.Lock()
	c.active = true
	c.stateMu.Unlock()
	return nil
}

// rebuildRegistry resolves module paths and asks the configured Loader for
// a constructor per type, then swaps the factory's type table.
func (c *Controller) rebuildRegistry(connectorTypes map[string]string) {
	typeMap := make(map[string]factory.Constructor, len(connectorTypes))
	if c.cfg.Loader != nil {
		for typeName, modulePath := range connectorTypes {
			resolved := resolveModulePath(modulePath, c.cfg.ModuleBasePath)
			ctor, err := c.cfg.Loader(resolved)
			if err != nil {
				c.logger.Warn("failed to resolve connector type", "type", typeName, "modulePath", modulePath, "error", err.Error())
				continue
			}
			typeMap[typeName] = ctor
		}
	}
	c.registry.Init(typeMap, c.provider)
}

// Stop sets shutdownFlag and stops every connector in both categories in
// parallel (spec.md §4.7).
func (c *Controller) Stop(ctx context.Context, requestID string) error {
	if requestID == "" {
		requestID = "na"
	}
	c.setShuttingDown(true)

	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range c.allRecords() {
		rec := rec
		ch := c.enqueueStopAsync(gctx, rec, requestID)
		g.Go(func() error { return <-ch })
	}

	err := g.Wait()
	c.stateMu.Lock()
	c.active = false
	c.stateMu.Unlock()
	if err != nil {
		return newErr(KindShutdownFailed, "one or more connectors failed to stop", err)
	}
	return nil
}

func (c *Controller) ensureRecord(cat connector.Category, id string) *record {
	m := c.mapFor(cat)
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if rec, ok := m[id]; ok {
		return rec
	}
	rec := &record{id: id, category: cat, pipeline: pipeline.New(32)}
	m[id] = rec
	return rec
}

func (c *Controller) getRecord(cat connector.Category, id string) (*record, bool) {
	m := c.mapFor(cat)
	c.recMu.RLock()
	defer c.recMu.RUnlock()
	rec, ok := m[id]
	return rec, ok
}

func (c *Controller) mapFor(cat connector.Category) map[string]*record {
	if cat == connector.Cloud {
		return c.cloud
	}
	return c.device
}

func (c *Controller) recordsIn(cat connector.Category) []*record {
	m := c.mapFor(cat)
	c.recMu.RLock()
	defer c.recMu.RUnlock()
	out := make([]*record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	return out
}

func (c *Controller) allRecords() []*record {
	return append(c.recordsIn(connector.Cloud), c.recordsIn(connector.Device)...)
}

// ActiveCloudConnectors implements router.CloudLister.
func (c *Controller) ActiveCloudConnectors() []connector.Connector {
	out := make([]connector.Connector, 0)
	for _, rec := range c.recordsIn(connector.Cloud) {
		if inst := rec.Instance(); inst != nil {
			out = append(out, inst)
		}
	}
	return out
}

// snapshotsFor builds the GetCloudConnectors/GetDeviceConnectors result for
// one category: records whose instance is non-nil (spec.md §4.7).
func (c *Controller) snapshotsFor(cat connector.Category) map[string]Snapshot {
	out := make(map[string]Snapshot)
	for _, rec := range c.recordsIn(cat) {
		inst, pending, lastResult, lastSeen := rec.snapshot()
		if inst == nil {
			continue
		}
		snap := Snapshot{Instance: inst, ActionPending: pending, LastResult: lastResult, LastSeen: lastSeen}
		if entry, ok := c.store.Get(string(cat), rec.id); ok {
			snap.Type = entry.Type
			snap.Config = entry.Config
			snap.HasConfig = true
		}
		out[rec.id] = snap
	}
	return out
}

func (c *Controller) GetCloudConnectors() map[string]Snapshot  { return c.snapshotsFor(connector.Cloud) }
func (c *Controller) GetDeviceConnectors() map[string]Snapshot { return c.snapshotsFor(connector.Device) }

// enqueueInitAsync enqueues an init step on rec's pipeline and returns a
// channel receiving its outcome, without blocking the caller.
func (c *Controller) enqueueInitAsync(ctx context.Context, rec *record, requestID string) <-chan error {
	ch := make(chan error, 1)
	rec.pipeline.Enqueue(func() {
		ch <- c.doInit(ctx, rec, requestID)
	})
	return ch
}

func (c *Controller) enqueueStopAsync(ctx context.Context, rec *record, requestID string) <-chan error {
	ch := make(chan error, 1)
	rec.pipeline.Enqueue(func() {
		ch <- c.doStop(ctx, rec, requestID)
	})
	return ch
}

// doInit is the init guard + step of spec.md §4.4, run on rec's pipeline
// worker so it never overlaps another step on the same slot.
func (c *Controller) doInit(ctx context.Context, rec *record, requestID string) (err error) {
	defer func() {
		rec.setActionPending(false)
		if err != nil {
			rec.setLastResult(errOrOK(err))
		}
	}()

	if rec.Instance() != nil {
		return newErr(KindAlreadyActive, fmt.Sprintf("%s connector %q is already active", rec.category, rec.id), nil)
	}
	if c.isShuttingDown() {
		return newErr(KindShuttingDown, "controller is shutting down, refusing to start new instances", nil)
	}

	entry, ok := c.store.Get(string(rec.category), rec.id)
	if !ok {
		return newErr(KindNoSuchConfig, fmt.Sprintf("no config entry for %s connector %q", rec.category, rec.id), nil)
	}

	inst, err := c.registry.Create(entry.Type, rec.id)
	if err != nil {
		return err
	}
	rec.setInstancePending(inst)

	res, err := inst.Init(ctx, entry.Config, requestID)
	if err != nil {
		rec.clearInstance()
		return err
	}
	rec.setLastResult(res)
	c.attachHandlers(rec, inst)
	return nil
}

// doStop is the stop guard + step of spec.md §4.4.
func (c *Controller) doStop(ctx context.Context, rec *record, requestID string) (err error) {
	inst := rec.Instance()
	if inst == nil {
		return newErr(KindNotActive, fmt.Sprintf("%s connector %q is not active", rec.category, rec.id), nil)
	}
	rec.setActionPending(true)

	res, stopErr := inst.Stop(ctx, requestID)

	rec.detachHandlers()
	rec.clearInstance()
	rec.setActionPending(false)

	if stopErr != nil {
		rec.setLastResult(stopErr)
		return stopErr
	}
	rec.setLastResult(res)
	return nil
}

func errOrOK(err error) any {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

// attachHandlers wires inst's data/log channels to the router's fanout
// sinks, exactly once per successful init (spec.md §4.4 point 5).
func (c *Controller) attachHandlers(rec *record, inst connector.Connector) {
	done := rec.markHandlersAttached()
	if done == nil {
		return
	}
	go func() {
		for {
			select {
			case ev, ok := <-inst.Data():
				if !ok {
					return
				}
				c.handleInstanceData(rec, ev)
			case <-done:
				return
			}
		}
	}()
	go func() {
		for {
			select {
			case ev, ok := <-inst.Log():
				if !ok {
					return
				}
				router.FanoutLog(c, ev.Payload, c.logger)
			case <-done:
				return
			}
		}
	}()
}

// handleInstanceData implements the router of spec.md §4.3: device data
// fans out to cloud connectors; cloud data is a CnC command batch.
func (c *Controller) handleInstanceData(rec *record, ev connector.DataEvent) {
	rec.touch()
	if rec.category == connector.Device {
		router.FanoutData(c, ev.Payload, ev.RequestID, c.logger)
		return
	}

	cmds := router.DecodeCommandBatch(ev.Payload, c.logger)
	if len(cmds) == 0 {
		return
	}
	inst := rec.Instance()
	if inst == nil {
		return
	}
	configMutated := false
	for _, cmd := range cmds {
		req := cnc.New(cmd, inst, c.provider.GetLogger(rec.id))
		req.Ack()
		if c.Execute(context.Background(), req) {
			configMutated = true
		}
	}
	if configMutated {
		c.writer.Schedule(c.store.Snapshot())
	}
}

func marshalForLog(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
