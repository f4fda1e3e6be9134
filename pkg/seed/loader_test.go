package seed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyfrying/foodtruck/pkg/db"
)

func TestGetDefaultMenu(t *testing.T) {
	mf := GetDefaultMenu()
	if err := mf.Validate(); err != nil {
		t.Fatalf("seed:loader_test - default menu invalid: %v", err)
	}
	seen := map[string]bool{}
	for _, it := range mf.Items {
		seen[it.Category] = true
	}
	for _, c := range db.Categories {
		if !seen[c] {
			t.Errorf("seed:loader_test - default menu has no %s", c)
		}
	}
}

func TestParse_JSONAndYAML(t *testing.T) {
	jsonDoc := `{"schemaVersion":"1.2.0","items":[{"id":"t1","name":"Taco","price":4.5,"category":"mains","is_available":true}]}`
	yamlDoc := `
schemaVersion: 1.0.0
items:
  - id: t1
    name: Taco
    price: 4.5
    category: mains
    tags: spicy
    is_available: true
`
	for ext, doc := range map[string]string{".json": jsonDoc, ".yaml": yamlDoc, ".YML": yamlDoc} {
		mf, err := Parse([]byte(doc), ext)
		if err != nil {
			t.Fatalf("seed:loader_test - Parse(%s): %v", ext, err)
		}
		if len(mf.Items) != 1 || mf.Items[0].Price != 4.5 || !mf.Items[0].IsAvailable {
			t.Errorf("seed:loader_test - Parse(%s) = %+v", ext, mf.Items)
		}
	}
}

func TestValidate(t *testing.T) {
	item := func(mod func(*db.MenuItem)) db.MenuItem {
		it := db.MenuItem{ID: "a", Name: "A", Price: 1, Category: db.CategorySides}
		if mod != nil {
			mod(&it)
		}
		return it
	}
	tests := []struct {
		name    string
		file    MenuFile
		wantErr bool
	}{
		{"valid", MenuFile{SchemaVersion: "1.4.2", Items: []db.MenuItem{item(nil)}}, false},
		{"empty items", MenuFile{SchemaVersion: "1.0.0"}, false},
		{"major 2", MenuFile{SchemaVersion: "2.0.0"}, true},
		{"not semver", MenuFile{SchemaVersion: "latest"}, true},
		{"missing id", MenuFile{SchemaVersion: "1.0.0", Items: []db.MenuItem{item(func(i *db.MenuItem) { i.ID = "" })}}, true},
		{"duplicate id", MenuFile{SchemaVersion: "1.0.0", Items: []db.MenuItem{item(nil), item(nil)}}, true},
		{"missing name", MenuFile{SchemaVersion: "1.0.0", Items: []db.MenuItem{item(func(i *db.MenuItem) { i.Name = "" })}}, true},
		{"negative price", MenuFile{SchemaVersion: "1.0.0", Items: []db.MenuItem{item(func(i *db.MenuItem) { i.Price = -1 })}}, true},
		{"bad category", MenuFile{SchemaVersion: "1.0.0", Items: []db.MenuItem{item(func(i *db.MenuItem) { i.Category = "soup" })}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.file.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("seed:loader_test - Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMenuFile_PathOrder(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "explicit.yaml")
	fromEnv := filepath.Join(dir, "env.json")
	os.WriteFile(explicit, []byte("schemaVersion: 1.0.0\nname: explicit\nitems: []\n"), 0o644)
	os.WriteFile(fromEnv, []byte(`{"schemaVersion":"1.0.0","name":"env","items":[]}`), 0o644)
	t.Setenv(EnvSeedFile, fromEnv)

	mf, src, err := LoadMenuFile(explicit)
	if err != nil || mf.Name != "explicit" || src != explicit {
		t.Errorf("seed:loader_test - explicit path: %v %q %v", mf, src, err)
	}

	mf, src, err = LoadMenuFile()
	if err != nil || mf.Name != "env" || src != fromEnv {
		t.Errorf("seed:loader_test - env path: %v %q %v", mf, src, err)
	}

	if _, _, err := LoadMenuFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("seed:loader_test - expected error for missing explicit file")
	}
}

func TestLoadMenuFile_FallsBackToDefault(t *testing.T) {
	t.Setenv(EnvSeedFile, filepath.Join(t.TempDir(), "nope.json"))
	wd, _ := os.Getwd()
	os.Chdir(t.TempDir())
	t.Cleanup(func() { os.Chdir(wd) })

	mf, src, err := LoadMenuFile()
	if err != nil {
		t.Fatalf("seed:loader_test - unexpected error: %v", err)
	}
	if src != "" || mf.Name != "cyfrying-default" {
		t.Errorf("seed:loader_test - expected default menu, got %q from %q", mf.Name, src)
	}
}

type fakeUpserter struct {
	items map[string]db.MenuItem
	fail  string
}

func (f *fakeUpserter) UpsertMenuItem(_ context.Context, it db.MenuItem) (*db.MenuItem, error) {
	if it.ID == f.fail {
		return nil, errors.New("boom")
	}
	f.items[it.ID] = it
	return &it, nil
}

func TestSeedMenu(t *testing.T) {
	store := &fakeUpserter{items: map[string]db.MenuItem{}}
	mf := GetDefaultMenu()
	n, err := SeedMenu(context.Background(), store, mf)
	if err != nil || n != len(mf.Items) || len(store.items) != n {
		t.Fatalf("seed:loader_test - SeedMenu = %d, %v", n, err)
	}

	n, err = SeedMenu(context.Background(), store, mf)
	if err != nil || len(store.items) != len(mf.Items) {
		t.Errorf("seed:loader_test - reseed should upsert in place: %d, %v", n, err)
	}

	store.fail = mf.Items[2].ID
	n, err = SeedMenu(context.Background(), store, mf)
	if err == nil || n != 2 {
		t.Errorf("seed:loader_test - SeedMenu with failure = %d, %v", n, err)
	}
}
