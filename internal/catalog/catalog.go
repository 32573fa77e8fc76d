// Package catalog loads declared collections from CUE.
//
// A catalog file declares collections under the top-level "collection"
// struct:
//
//	package models
//
//	collection: users: {
//		lock: "optimistic"
//		attributes: {
//			name:  string
//			age:   "integer"
//			email: {type: "string"}
//			slug:  {type: "string", primaryKey: true}
//		}
//	}
//
// An attribute is a CUE type (string, int, float, bool, bytes, a list or a
// struct), a type name understood by the schema package, or a descriptor
// struct with type, primaryKey and autoIncrement fields.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/strata/internal/lock"
	"github.com/roach88/strata/internal/schema"
)

// Model is one declared collection.
type Model struct {
	Collection schema.Collection
	// LockMode is empty unless the declaration names one.
	LockMode lock.Mode
	Pos      token.Pos
}

// Catalog is the set of models loaded from one or more sources, in
// declaration order.
type Catalog struct {
	Models []Model
	Files  int
}

// Collections returns the declared collections.
func (c *Catalog) Collections() []schema.Collection {
	out := make([]schema.Collection, len(c.Models))
	for i, m := range c.Models {
		out[i] = m.Collection
	}
	return out
}

// LockModes returns the declared per-collection lock modes.
func (c *Catalog) LockModes() map[string]string {
	out := make(map[string]string)
	for _, m := range c.Models {
		if m.LockMode != "" {
			out[m.Collection.Identity] = string(m.LockMode)
		}
	}
	return out
}

// Lookup returns the model named identity.
func (c *Catalog) Lookup(identity string) (Model, bool) {
	for _, m := range c.Models {
		if m.Collection.Identity == identity {
			return m, true
		}
	}
	return Model{}, false
}

func (c *Catalog) add(m Model) error {
	if prev, ok := c.Lookup(m.Collection.Identity); ok {
		return &Error{
			Path:    "collection." + m.Collection.Identity,
			Message: fmt.Sprintf("declared twice (first at %s)", prev.Pos),
			Pos:     m.Pos,
		}
	}
	c.Models = append(c.Models, m)
	return nil
}

// Load reads every path, which may be a .cue file or a directory holding
// one CUE package, and merges the declared collections. A collection
// declared by two sources is an error.
func Load(paths ...string) (*Catalog, error) {
	ctx := cuecontext.New()
	out := &Catalog{}
	for _, p := range paths {
		v, files, err := loadPath(ctx, p)
		if err != nil {
			return nil, err
		}
		c, err := Extract(v)
		if err != nil {
			return nil, err
		}
		for _, m := range c.Models {
			if err := out.add(m); err != nil {
				return nil, err
			}
		}
		out.Files += files
	}
	return out, nil
}

// Compile builds a catalog from CUE source. filename is used in positions.
func Compile(filename string, src []byte) (*Catalog, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	c, err := Extract(v)
	if err != nil {
		return nil, err
	}
	c.Files = 1
	return c, nil
}

func loadPath(ctx *cue.Context, path string) (cue.Value, int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, 0, fmt.Errorf("load models: %w", err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, 0, fmt.Errorf("load models: %w", err)
		}
		v := ctx.CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return cue.Value{}, 0, formatCUEError(err)
		}
		return v, 1, nil
	}

	files, err := findCUEFiles(path)
	if err != nil {
		return cue.Value{}, 0, fmt.Errorf("load models: scanning %s: %w", path, err)
	}
	if len(files) == 0 {
		return cue.Value{}, 0, fmt.Errorf("load models: no CUE files found in %s", path)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return cue.Value{}, 0, fmt.Errorf("load models: no CUE instances in %s", path)
	}
	if err := instances[0].Err; err != nil {
		return cue.Value{}, 0, formatCUEError(err)
	}
	v := ctx.BuildInstance(instances[0])
	if err := v.Err(); err != nil {
		return cue.Value{}, 0, formatCUEError(err)
	}
	return v, len(files), nil
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Extract reads the "collection" struct of a built CUE value. A value
// without one yields an empty catalog.
func Extract(v cue.Value) (*Catalog, error) {
	out := &Catalog{}
	collections := v.LookupPath(cue.ParsePath("collection"))
	if !collections.Exists() {
		return out, nil
	}

	iter, err := collections.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		m, err := CompileModel(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		if err := out.add(m); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CompileModel converts one collection declaration.
func CompileModel(identity string, v cue.Value) (Model, error) {
	if err := v.Err(); err != nil {
		return Model{}, formatCUEError(err)
	}
	path := "collection." + identity
	m := Model{
		Collection: schema.Collection{Identity: identity, Attributes: make(map[string]any)},
		Pos:        v.Pos(),
	}

	if lv := v.LookupPath(cue.ParsePath("lock")); lv.Exists() {
		s, err := lv.String()
		if err != nil {
			return Model{}, &Error{Path: path + ".lock", Message: "lock must be a string", Pos: lv.Pos()}
		}
		mode, err := lock.ParseMode(s)
		if err != nil {
			return Model{}, &Error{Path: path + ".lock", Message: err.Error(), Pos: lv.Pos()}
		}
		m.LockMode = mode
	}

	attrs := v.LookupPath(cue.ParsePath("attributes"))
	if !attrs.Exists() {
		return m, nil
	}
	iter, err := attrs.Fields()
	if err != nil {
		return Model{}, formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		desc, err := compileAttribute(path+".attributes."+name, iter.Value())
		if err != nil {
			return Model{}, err
		}
		m.Collection.Attributes[name] = desc
	}

	// Surface descriptor errors with a position instead of at sync time.
	if _, err := schema.Prepare(m.Collection, schema.Policy{}); err != nil {
		return Model{}, &Error{Path: path, Message: err.Error(), Pos: m.Pos}
	}
	return m, nil
}

// compileAttribute returns a descriptor the schema package accepts: a type
// name or a schema.Attribute.
func compileAttribute(path string, v cue.Value) (any, error) {
	if v.IsConcrete() && v.Kind() == cue.StringKind {
		s, _ := v.String()
		if _, ok := schema.CanonicalType(s); !ok {
			return nil, &Error{Path: path, Message: fmt.Sprintf("unknown type %q", s), Pos: v.Pos()}
		}
		return s, nil
	}

	if v.IncompleteKind() == cue.StructKind && isDescriptor(v) {
		return compileDescriptor(path, v)
	}

	t, err := kindType(v)
	if err != nil {
		return nil, &Error{Path: path, Message: err.Error(), Pos: v.Pos()}
	}
	return t, nil
}

func isDescriptor(v cue.Value) bool {
	for _, f := range []string{"type", "primaryKey", "autoIncrement"} {
		if v.LookupPath(cue.ParsePath(f)).Exists() {
			return true
		}
	}
	return false
}

func compileDescriptor(path string, v cue.Value) (schema.Attribute, error) {
	var a schema.Attribute
	if tv := v.LookupPath(cue.ParsePath("type")); tv.Exists() {
		s, err := tv.String()
		if err != nil {
			return a, &Error{Path: path + ".type", Message: "type must be a concrete string", Pos: tv.Pos()}
		}
		a.Type = s
	}
	for field, dst := range map[string]*bool{"primaryKey": &a.PrimaryKey, "autoIncrement": &a.AutoIncrement} {
		fv := v.LookupPath(cue.ParsePath(field))
		if !fv.Exists() {
			continue
		}
		b, err := fv.Bool()
		if err != nil {
			return a, &Error{Path: path + "." + field, Message: field + " must be a bool", Pos: fv.Pos()}
		}
		*dst = b
	}
	if a.Type == "" && !a.AutoIncrement {
		return a, &Error{Path: path, Message: "descriptor needs a type", Pos: v.Pos()}
	}
	return a, nil
}

// kindType maps a CUE kind to a canonical attribute type.
func kindType(v cue.Value) (string, error) {
	switch k := v.IncompleteKind(); k {
	case cue.StringKind:
		return schema.TypeString, nil
	case cue.IntKind:
		return schema.TypeInteger, nil
	case cue.FloatKind, cue.NumberKind:
		return schema.TypeFloat, nil
	case cue.BoolKind:
		return schema.TypeBoolean, nil
	case cue.BytesKind:
		return schema.TypeBinary, nil
	case cue.ListKind, cue.StructKind:
		return schema.TypeJSON, nil
	default:
		return "", fmt.Errorf("unsupported kind %v", k)
	}
}

// Error is a catalog error with its CUE path and source position.
type Error struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{Path: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
