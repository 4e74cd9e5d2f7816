package gridstore

import (
	"context"
	"fmt"

	"github.com/mealrota/canteenbot/pkg/config"
)

// MappingError is a fatal configuration error: a logical field name could
// not be bound to exactly one store field. It names the table and field so
// an administrator can fix the configuration without a code change.
type MappingError struct {
	Table   string
	Logical string
	Name    string
	Reason  string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("field mapping failed: table=%s logical=%s name=%q %s", e.Table, e.Logical, e.Name, e.Reason)
}

// TableMapping binds one table's logical field keys to store field metadata
type TableMapping struct {
	Alias   string
	TableID string
	Fields  map[string]FieldMeta
}

// FieldID returns the store field id for a logical key
func (m TableMapping) FieldID(logical string) string {
	return m.Fields[logical].ID
}

// Schema holds the resolved mappings for every configured table
type Schema map[string]TableMapping

// Table returns the mapping for a table alias
func (s Schema) Table(alias string) TableMapping {
	return s[alias]
}

// ResolveSchema introspects every configured table and binds the configured
// logical field names to store field ids. Missing or duplicated field names
// are fatal.
func ResolveSchema(ctx context.Context, store Store, cfg *config.Config) (Schema, error) {
	schema := make(Schema, len(config.TableAliases()))

	for _, alias := range config.TableAliases() {
		tableID := cfg.Tables[alias]
		fields, err := store.ListFields(ctx, tableID)
		if err != nil {
			return nil, fmt.Errorf("failed to list fields of table %s (%s): %w", alias, tableID, err)
		}

		byName := make(map[string][]FieldMeta)
		for _, field := range fields {
			byName[field.Name] = append(byName[field.Name], field)
		}

		mapping := TableMapping{
			Alias:   alias,
			TableID: tableID,
			Fields:  make(map[string]FieldMeta),
		}
		for _, logical := range config.RequiredFields(alias) {
			name := cfg.FieldNames[alias][logical]
			metas := byName[name]
			switch {
			case len(metas) == 0:
				return nil, &MappingError{Table: alias, Logical: logical, Name: name, Reason: "not found"}
			case len(metas) > 1:
				return nil, &MappingError{Table: alias, Logical: logical, Name: name, Reason: "duplicated in schema"}
			}
			mapping.Fields[logical] = metas[0]
		}
		schema[alias] = mapping
	}

	return schema, nil
}
