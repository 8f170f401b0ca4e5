package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMemoryRecordsInOrder(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	m.Emit(ctx, "pipeline_start", map[string]any{"incident_id": "i1"})
	m.Emit(ctx, "pipeline_end", nil)

	if got, want := m.Kinds(), []string{"pipeline_start", "pipeline_end"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Kinds() = %v, want %v", got, want)
	}

	events := m.Events()
	if events[0].Payload["incident_id"] != "i1" {
		t.Errorf("payload = %v", events[0].Payload)
	}
}

func TestMemoryCopiesPayload(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	payload := map[string]any{"k": "v"}
	m.Emit(context.Background(), "e", payload)
	payload["k"] = "mutated"

	if got := m.Events()[0].Payload["k"]; got != "v" {
		t.Errorf("payload captured by reference: %v", got)
	}
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a, b := NewMemory(), NewMemory()
	s := Multi{a, b, Nop{}}

	s.Emit(context.Background(), "execute_start", map[string]any{"plan_id": "p1"})

	for i, m := range []*Memory{a, b} {
		if got := m.Kinds(); len(got) != 1 || got[0] != "execute_start" {
			t.Errorf("sink %d kinds = %v", i, got)
		}
	}
}

func TestFileAppendsJSONL(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	f := NewFile(path)
	ctx := context.Background()

	f.Emit(ctx, "execute_start", map[string]any{"plan_id": "p1"})
	f.Emit(ctx, "execute_end", map[string]any{"status": "success"})

	fh, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer fh.Close()

	var kinds []string
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		var rec struct {
			Kind    string         `json:"kind"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("bad JSONL line %q: %v", sc.Text(), err)
		}
		kinds = append(kinds, rec.Kind)
	}
	if want := []string{"execute_start", "execute_end"}; !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}

func TestFileSwallowsErrors(t *testing.T) {
	t.Parallel()

	// a path under a regular file cannot be created; Emit must not panic
	base := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(base, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := NewFile(filepath.Join(base, "audit.jsonl"))
	f.Emit(context.Background(), "execute_start", nil)
}

func TestLogSinkNilLogger(t *testing.T) {
	t.Parallel()

	// nil logger falls back to nop; must not panic
	NewLog(nil).Emit(context.Background(), "pipeline_start", map[string]any{"a": 1})
}
