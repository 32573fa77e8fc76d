package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/strata/internal/schema"
)

// columnTypes maps canonical attribute types to SQLite declared types. The
// mapping is one-to-one so Describe can recover the attribute type; the
// declared type also drives go-sqlite3's decoding of DATE/DATETIME/BOOLEAN.
var columnTypes = map[string]string{
	schema.TypeString:   "TEXT",
	schema.TypeInteger:  "INTEGER",
	schema.TypeFloat:    "REAL",
	schema.TypeBoolean:  "BOOLEAN",
	schema.TypeDate:     "DATE",
	schema.TypeDatetime: "DATETIME",
	schema.TypeJSON:     "JSON",
	schema.TypeBinary:   "BLOB",
}

// ColumnType returns the SQLite declared type for an attribute type.
func ColumnType(attrType string) (string, error) {
	canonical, ok := schema.CanonicalType(attrType)
	if !ok {
		return "", fmt.Errorf("unknown attribute type %q", attrType)
	}
	return columnTypes[canonical], nil
}

// AttributeType returns the canonical attribute type for a SQLite declared
// type. Unknown declarations fall back to SQLite's affinity rules.
func AttributeType(declType string) string {
	decl := strings.ToUpper(strings.TrimSpace(declType))
	for attr, col := range columnTypes {
		if col == decl {
			return attr
		}
	}
	switch {
	case strings.Contains(decl, "INT"):
		return schema.TypeInteger
	case strings.Contains(decl, "CHAR"), strings.Contains(decl, "CLOB"), strings.Contains(decl, "TEXT"):
		return schema.TypeString
	case strings.Contains(decl, "REAL"), strings.Contains(decl, "FLOA"), strings.Contains(decl, "DOUB"):
		return schema.TypeFloat
	case decl == "", strings.Contains(decl, "BLOB"):
		return schema.TypeBinary
	case strings.Contains(decl, "BOOL"):
		return schema.TypeBoolean
	case strings.Contains(decl, "TIME"):
		return schema.TypeDatetime
	}
	return schema.TypeString
}

// CompileCreateTable renders CREATE TABLE for a prepared schema. Primary
// keys come first, other columns alphabetically.
func (c *SQLCompiler) CompileCreateTable(table string, s schema.Schema) (string, error) {
	if len(s) == 0 {
		return "", fmt.Errorf("create table %s: no columns", table)
	}
	pks := s.PrimaryKeys()

	defs := make([]string, 0, len(s)+1)
	for _, name := range s.Names() {
		attr := s[name]
		colType, err := ColumnType(attr.Type)
		if err != nil {
			return "", fmt.Errorf("create table %s: column %s: %w", table, name, err)
		}
		def := Quote(name) + " " + colType
		if attr.PrimaryKey && len(pks) == 1 {
			def += " PRIMARY KEY"
			if attr.AutoIncrement {
				if colType != "INTEGER" {
					return "", fmt.Errorf("create table %s: autoincrement column %s must be an integer", table, name)
				}
				def += " AUTOINCREMENT"
			}
		}
		defs = append(defs, def)
	}

	if len(pks) > 1 {
		quoted := make([]string, len(pks))
		for i, pk := range pks {
			if s[pk].AutoIncrement {
				return "", fmt.Errorf("create table %s: autoincrement is not allowed in a composite primary key", table)
			}
			quoted[i] = Quote(pk)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", Quote(table), strings.Join(defs, ", ")), nil
}

// CompileDropTable renders DROP TABLE IF EXISTS.
func (c *SQLCompiler) CompileDropTable(table string) string {
	return "DROP TABLE IF EXISTS " + Quote(table)
}

// CompileAlter renders one schema change as ALTER TABLE.
// SQLite cannot add primary-key columns to an existing table.
func (c *SQLCompiler) CompileAlter(table string, ch schema.Change) (string, error) {
	switch ch.Op {
	case schema.AddAttribute:
		if ch.Attribute.PrimaryKey {
			return "", fmt.Errorf("alter table %s: cannot add primary key column %s", table, ch.Name)
		}
		colType, err := ColumnType(ch.Attribute.Type)
		if err != nil {
			return "", fmt.Errorf("alter table %s: column %s: %w", table, ch.Name, err)
		}
		return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", Quote(table), Quote(ch.Name), colType), nil
	case schema.RemoveAttribute:
		return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", Quote(table), Quote(ch.Name)), nil
	default:
		return "", fmt.Errorf("alter table %s: unknown change %q", table, ch.Op)
	}
}
