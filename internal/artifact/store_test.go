package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestWriteRead(t *testing.T) {
	store := newTestStore(t)

	doc := []byte(`{"sections":[]}`)
	if err := store.Write("proj1", "outline", doc); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read("proj1", "outline")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Read = %q, want %q", got, doc)
	}
}

func TestReadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Read("proj1", "outline")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Read on missing artifact = %v, want ErrNotFound", err)
	}
}

func TestWriteOverwrite(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("proj1", "outline", []byte("v1")); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if err := store.Write("proj1", "outline", []byte("v2")); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	got, err := store.Read("proj1", "outline")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Read after overwrite = %q, want %q", got, "v2")
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("proj1", "outline", []byte("doc")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(store.BaseDir(), "proj1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "outline.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("project dir = %v, want [outline.json]", names)
	}
}

func TestExists(t *testing.T) {
	store := newTestStore(t)

	if store.Exists("proj1", "outline") {
		t.Error("Exists before Write = true, want false")
	}
	if err := store.Write("proj1", "outline", []byte("doc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !store.Exists("proj1", "outline") {
		t.Error("Exists after Write = false, want true")
	}
}

func TestListStages(t *testing.T) {
	store := newTestStore(t)

	for _, stage := range []string{"timeline", "outline", "scoring"} {
		if err := store.Write("proj1", stage, []byte("doc")); err != nil {
			t.Fatalf("Write %s: %v", stage, err)
		}
	}

	// Stray files that are not published artifacts must be skipped.
	if err := os.WriteFile(filepath.Join(store.BaseDir(), "proj1", ".hidden.json"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.BaseDir(), "proj1", "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	stages, err := store.ListStages("proj1")
	if err != nil {
		t.Fatalf("ListStages: %v", err)
	}
	want := []string{"outline", "scoring", "timeline"}
	if !reflect.DeepEqual(stages, want) {
		t.Errorf("ListStages = %v, want %v", stages, want)
	}
}

func TestListStagesUnknownProject(t *testing.T) {
	store := newTestStore(t)

	stages, err := store.ListStages("nope")
	if err != nil {
		t.Fatalf("ListStages: %v", err)
	}
	if len(stages) != 0 {
		t.Errorf("ListStages = %v, want empty", stages)
	}
}

func TestListProjects(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("beta", "outline", []byte("doc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Write("alpha", "outline", []byte("doc")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	projects, err := store.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	want := []string{"alpha", "beta"}
	if !reflect.DeepEqual(projects, want) {
		t.Errorf("ListProjects = %v, want %v", projects, want)
	}
}
