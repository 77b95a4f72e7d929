package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const validRaw = `{
	"connectorTypes": {"WsCloud": "WsCloud"},
	"cloudConnectors": {"c1": {"type": "WsCloud", "config": {"url": "wss://x"}}},
	"deviceConnectors": {}
}`

func TestParse_ValidDocument(t *testing.T) {
	doc, err := Parse([]byte(validRaw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ConnectorTypes["WsCloud"] != "WsCloud" {
		t.Fatalf("unexpected connectorTypes: %+v", doc.ConnectorTypes)
	}
	if _, ok := doc.CloudConnectors["c1"]; !ok {
		t.Fatalf("expected cloudConnectors[c1] to be present")
	}
}

func TestParse_RejectsMissingSection(t *testing.T) {
	raw := `{"connectorTypes": {}, "cloudConnectors": {}}`
	_, err := Parse([]byte(raw))
	if err == nil {
		t.Fatal("expected ShapeError for missing deviceConnectors section")
	}
	shapeErr, ok := err.(*ShapeError)
	if !ok {
		t.Fatalf("expected *ShapeError, got %T", err)
	}
	if shapeErr.MissingSection != "deviceConnectors" {
		t.Fatalf("expected missing section deviceConnectors, got %q", shapeErr.MissingSection)
	}
}

func TestParse_RejectsWrongShapeSection(t *testing.T) {
	raw := `{"connectorTypes": [], "cloudConnectors": {}, "deviceConnectors": {}}`
	_, err := Parse([]byte(raw))
	if err == nil {
		t.Fatal("expected ShapeError for connectorTypes as array")
	}
}

func TestStore_SetAndDeleteConnector(t *testing.T) {
	doc, _ := Parse([]byte(validRaw))
	s := NewStore(doc)

	s.SetConnector("device", "d1", ConnectorEntry{Type: "MdnsDevice", Config: map[string]any{"service": "_x._tcp"}})
	entry, ok := s.Get("device", "d1")
	if !ok || entry.Type != "MdnsDevice" {
		t.Fatalf("expected d1 to be set, got %+v ok=%v", entry, ok)
	}

	if existed := s.DeleteConnector("device", "nope"); existed {
		t.Fatal("expected delete of unknown id to report false")
	}
	if existed := s.DeleteConnector("device", "d1"); !existed {
		t.Fatal("expected delete of known id to report true")
	}
	if _, ok := s.Get("device", "d1"); ok {
		t.Fatal("expected d1 to be gone after delete")
	}
}

func TestStore_SnapshotIsIndependentCopy(t *testing.T) {
	doc, _ := Parse([]byte(validRaw))
	s := NewStore(doc)

	snap := s.Snapshot()
	s.SetConnector("cloud", "c2", ConnectorEntry{Type: "HttpCloud", Config: map[string]any{}})

	if _, ok := snap.CloudConnectors["c2"]; ok {
		t.Fatal("expected snapshot taken before mutation to be unaffected by it")
	}
}

func TestWriter_WritesFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	w := NewWriter(path, nil)

	doc, _ := Parse([]byte(validRaw))
	w.Schedule(doc)

	waitForFile(t, path)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file to exist after write: %v", err)
	}
	var got Document
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("expected valid json, got error: %v", err)
	}
	if got.ConnectorTypes["WsCloud"] != "WsCloud" {
		t.Fatalf("unexpected written document: %+v", got)
	}
}

func TestWriter_SettlesAfterConcurrentSchedules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	w := NewWriter(path, nil)

	doc, _ := Parse([]byte(validRaw))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Schedule(doc.Clone())
		}()
	}
	wg.Wait()

	deadline := time.After(2 * time.Second)
	for {
		w.mu.Lock()
		writing := w.writing
		w.mu.Unlock()
		if !writing {
			break
		}
		select {
		case <-deadline:
			t.Fatal("writer never settled")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected final write to land: %v", err)
	}
}

func waitForFile(t *testing.T, path string) {
	deadline := time.After(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s to be written", path)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
