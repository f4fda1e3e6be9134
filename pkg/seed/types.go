// Package seed loads menu seed files (JSON or YAML) and upserts their items.
package seed

import "github.com/cyfrying/foodtruck/pkg/db"

// SupportedSchema is the semver constraint a seed file's schemaVersion must satisfy.
const SupportedSchema = "^1.0.0"

// MenuFile is the document stored in a seed file.
type MenuFile struct {
	SchemaVersion string        `json:"schemaVersion" yaml:"schemaVersion"`
	Name          string        `json:"name,omitempty" yaml:"name,omitempty"`
	Items         []db.MenuItem `json:"items" yaml:"items"`
}
