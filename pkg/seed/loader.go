package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/cyfrying/foodtruck/pkg/db"
)

const logPrefix = "seed:loader"

// EnvSeedFile names the environment variable consulted after explicit paths.
const EnvSeedFile = "MENU_SEED_FILE"

// DefaultPaths are tried after explicit paths and MENU_SEED_FILE.
var DefaultPaths = []string{"config/menu.json", "config/menu.yaml", "menu.json", "menu.yaml"}

// LoadMenuFile loads the first readable and valid seed file. Explicit paths
// are tried first, then MENU_SEED_FILE, then DefaultPaths. When none is found
// the built-in default menu is returned with an empty source.
func LoadMenuFile(paths ...string) (*MenuFile, string, error) {
	all := make([]string, 0, len(paths)+len(DefaultPaths)+1)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv(EnvSeedFile); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, DefaultPaths...)

	for i, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			if i < len(paths) {
				// An explicitly requested file must exist.
				return nil, "", fmt.Errorf("%s - read %s: %w", logPrefix, p, err)
			}
			continue
		}
		mf, err := Parse(data, filepath.Ext(p))
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse seed file %s: %v", logPrefix, p, err))
			if i < len(paths) {
				return nil, "", err
			}
			continue
		}
		slog.Info(fmt.Sprintf("%s - Loaded menu seed from %s (%d items)", logPrefix, p, len(mf.Items)))
		return mf, p, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default menu seed", logPrefix))
	return GetDefaultMenu(), "", nil
}

// Parse decodes a seed document. ext selects YAML for .yaml/.yml, JSON otherwise.
func Parse(data []byte, ext string) (*MenuFile, error) {
	var mf MenuFile
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &mf); err != nil {
			return nil, fmt.Errorf("%s - decode yaml: %w", logPrefix, err)
		}
	default:
		if err := json.Unmarshal(data, &mf); err != nil {
			return nil, fmt.Errorf("%s - decode json: %w", logPrefix, err)
		}
	}
	if err := mf.Validate(); err != nil {
		return nil, err
	}
	return &mf, nil
}

// Validate checks the schema version and every item.
func (mf *MenuFile) Validate() error {
	v, err := semver.NewVersion(mf.SchemaVersion)
	if err != nil {
		return fmt.Errorf("%s - invalid schemaVersion %q: %w", logPrefix, mf.SchemaVersion, err)
	}
	c, err := semver.NewConstraint(SupportedSchema)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%s - schemaVersion %s does not satisfy %s", logPrefix, v, SupportedSchema)
	}
	seen := make(map[string]bool, len(mf.Items))
	for i, it := range mf.Items {
		switch {
		case it.ID == "":
			return fmt.Errorf("%s - item %d: missing id", logPrefix, i)
		case seen[it.ID]:
			return fmt.Errorf("%s - item %d: duplicate id %s", logPrefix, i, it.ID)
		case it.Name == "":
			return fmt.Errorf("%s - item %s: missing name", logPrefix, it.ID)
		case it.Price < 0:
			return fmt.Errorf("%s - item %s: negative price", logPrefix, it.ID)
		case !db.ValidCategory(it.Category):
			return fmt.Errorf("%s - item %s: invalid category %q", logPrefix, it.ID, it.Category)
		}
		seen[it.ID] = true
	}
	return nil
}

// MenuUpserter writes seed items.
type MenuUpserter interface {
	UpsertMenuItem(ctx context.Context, item db.MenuItem) (*db.MenuItem, error)
}

// SeedMenu upserts every item of mf by id and returns how many were written.
func SeedMenu(ctx context.Context, store MenuUpserter, mf *MenuFile) (int, error) {
	n := 0
	for _, it := range mf.Items {
		if _, err := store.UpsertMenuItem(ctx, it); err != nil {
			return n, fmt.Errorf("%s - upsert %s: %w", logPrefix, it.ID, err)
		}
		n++
	}
	slog.Info(fmt.Sprintf("%s - Seeded %d menu items", logPrefix, n))
	return n, nil
}

// GetDefaultMenu returns the built-in starter menu.
func GetDefaultMenu() *MenuFile {
	return &MenuFile{
		SchemaVersion: "1.0.0",
		Name:          "cyfrying-default",
		Items: []db.MenuItem{
			{ID: "item_fish_taco", Name: "Fish Taco", Description: "Beer-battered cod, slaw, lime crema", Price: 4.50, Category: db.CategoryMains, Tags: "popular", IsAvailable: true},
			{ID: "item_chicken_burrito", Name: "Chicken Burrito", Description: "Grilled chicken, rice, beans, salsa", Price: 9.00, Category: db.CategoryMains, IsAvailable: true},
			{ID: "item_loaded_fries", Name: "Loaded Fries", Description: "Cheese, jalapeños, sour cream", Price: 5.25, Category: db.CategorySides, Tags: "spicy", IsAvailable: true},
			{ID: "item_elote", Name: "Elote", Description: "Street corn with cotija", Price: 3.75, Category: db.CategorySides, IsAvailable: true},
			{ID: "item_horchata", Name: "Horchata", Price: 2.50, Category: db.CategoryBeverages, IsAvailable: true},
			{ID: "item_lemonade", Name: "Lemonade", Price: 2.25, Category: db.CategoryBeverages, IsAvailable: true},
		},
	}
}
