// Package configstore holds the config document in memory, validates and
// applies cloud-issued mutations, and serializes writes back to a single
// file with single-flight coalescing (spec.md §3, §4.6).
package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mbocsi/edgegateway/internal/logging"
)

// ConnectorEntry is one entry under cloudConnectors/deviceConnectors.
type ConnectorEntry struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// Document is the full persisted config, spec.md §3.
type Document struct {
	ConnectorTypes   map[string]string         `json:"connectorTypes"`
	CloudConnectors  map[string]ConnectorEntry `json:"cloudConnectors"`
	DeviceConnectors map[string]ConnectorEntry `json:"deviceConnectors"`
}

type ShapeError struct {
	MissingSection string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("ConfigShape: missing or invalid section %q", e.MissingSection)
}

// Parse decodes and shape-validates raw JSON bytes into a Document. All
// three top-level sections MUST be present and be mappings (spec.md §3).
func Parse(raw []byte) (*Document, error) {
	var loose struct {
		ConnectorTypes   json.RawMessage `json:"connectorTypes"`
		CloudConnectors  json.RawMessage `json:"cloudConnectors"`
		DeviceConnectors json.RawMessage `json:"deviceConnectors"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, err
	}

	doc := &Document{}
	if err := decodeSection(loose.ConnectorTypes, "connectorTypes", &doc.ConnectorTypes); err != nil {
		return nil, err
	}
	if err := decodeSection(loose.CloudConnectors, "cloudConnectors", &doc.CloudConnectors); err != nil {
		return nil, err
	}
	if err := decodeSection(loose.DeviceConnectors, "deviceConnectors", &doc.DeviceConnectors); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeSection[T any](raw json.RawMessage, name string, out *T) error {
	if len(raw) == 0 {
		return &ShapeError{MissingSection: name}
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return &ShapeError{MissingSection: name}
	}
	if _, ok := probe.(map[string]any); !ok {
		return &ShapeError{MissingSection: name}
	}
	return json.Unmarshal(raw, out)
}

// Clone copies the document's three sections and each entry's config map
// (used when handing a snapshot to the writer). Values nested inside a
// config map are shared with the original, not copied.
func (d *Document) Clone() *Document {
	cp := &Document{
		ConnectorTypes:   make(map[string]string, len(d.ConnectorTypes)),
		CloudConnectors:  make(map[string]ConnectorEntry, len(d.CloudConnectors)),
		DeviceConnectors: make(map[string]ConnectorEntry, len(d.DeviceConnectors)),
	}
	for k, v := range d.ConnectorTypes {
		cp.ConnectorTypes[k] = v
	}
	for k, v := range d.CloudConnectors {
		cp.CloudConnectors[k] = cloneEntry(v)
	}
	for k, v := range d.DeviceConnectors {
		cp.DeviceConnectors[k] = cloneEntry(v)
	}
	return cp
}

func cloneEntry(e ConnectorEntry) ConnectorEntry {
	cfg := make(map[string]any, len(e.Config))
	for k, v := range e.Config {
		cfg[k] = v
	}
	return ConnectorEntry{Type: e.Type, Config: cfg}
}

func sectionFor(cp *Document, cat string) *map[string]ConnectorEntry {
	if cat == "cloud" {
		return &cp.CloudConnectors
	}
	return &cp.DeviceConnectors
}

// Store holds the in-memory document, mutated synchronously by the command
// interpreter (spec.md §4.6 first paragraph).
type Store struct {
	mu  sync.Mutex
	doc *Document
}

// NewStore wraps doc (ownership transferred to the store).
func NewStore(doc *Document) *Store {
	return &Store{doc: doc}
}

// Snapshot returns a Clone of the current document, safe to read or hand
// to a writer without further locking.
func (s *Store) Snapshot() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Get returns one connector entry, and whether it exists.
func (s *Store) Get(category, id string) (ConnectorEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	section := sectionFor(s.doc, category)
	e, ok := (*section)[id]
	return e, ok
}

// Section returns a copy of an entire category's config section.
func (s *Store) Section(category string) map[string]ConnectorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	section := sectionFor(s.doc, category)
	out := make(map[string]ConnectorEntry, len(*section))
	for k, v := range *section {
		out[k] = cloneEntry(v)
	}
	return out
}

// SetConnector replaces configSection[id] = entry (update_config).
func (s *Store) SetConnector(category, id string, entry ConnectorEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	section := sectionFor(s.doc, category)
	(*section)[id] = cloneEntry(entry)
}

// DeleteConnector removes configSection[id] if present, reporting whether
// it existed (delete_config).
func (s *Store) DeleteConnector(category, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	section := sectionFor(s.doc, category)
	if _, ok := (*section)[id]; !ok {
		return false
	}
	delete(*section, id)
	return true
}

// SetConnectorType binds connectorTypes[type] = modulePath
// (update_connector_type).
func (s *Store) SetConnectorType(typeName, modulePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ConnectorTypes[typeName] = modulePath
}

// ConnectorTypes returns a copy of the connectorTypes map.
func (s *Store) ConnectorTypes() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.doc.ConnectorTypes))
	for k, v := range s.doc.ConnectorTypes {
		out[k] = v
	}
	return out
}

// Writer is the single-flight, coalescing serializer of spec.md §4.6:
// at most one write in flight; mutations arriving during a write coalesce
// into exactly one follow-up using the latest snapshot.
type Writer struct {
	path   string
	logger logging.Logger

	mu          sync.Mutex
	writing     bool
	pendingSnap *Document
}

// NewWriter targets path as the destination file. logger may be nil.
func NewWriter(path string, logger logging.Logger) *Writer {
	if logger == nil {
		logger = logging.Nop
	}
	return &Writer{path: path, logger: logger}
}

// Schedule requests a write of snap. If no write is in flight, one begins
// immediately. If one is in flight, snap becomes the (possibly replaced)
// pending follow-up snapshot; multiple calls during a write coalesce into
// one follow-up (spec.md §4.6, property 5 in spec.md §8).
func (w *Writer) Schedule(snap *Document) {
	w.mu.Lock()
	if w.writing {
		w.pendingSnap = snap
		w.mu.Unlock()
		return
	}
	w.writing = true
	w.mu.Unlock()
	go w.runWrite(snap)
}

func (w *Writer) runWrite(snap *Document) {
	for {
		if err := w.writeOnce(snap); err != nil {
			w.logger.Error("WriteFailed: config write failed", "path", w.path, "error", err.Error())
		}

		w.mu.Lock()
		next := w.pendingSnap
		w.pendingSnap = nil
		if next == nil {
			w.writing = false
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()
		snap = next
	}
}

func (w *Writer) writeOnce(snap *Document) error {
	b, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return err
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.path)
}
