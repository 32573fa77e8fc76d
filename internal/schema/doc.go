// Package schema models declared collections and reconciles them with what
// a store reports.
//
// Prepare turns a declared Collection into a Schema: shorthand descriptors
// become structured Attributes, an auto-incrementing integer "id" primary
// key is added when none is marked, and createdAt/updatedAt are added per
// Policy.
//
// The Synchronizer then applies one of two modes:
//
//	ModeDrop   drop, then define again (non-persistent stores)
//	ModeAlter  describe, Diff, apply one Change per Alter call (persistent stores)
//
// Alter never touches a field that stays declared. A field whose stored type
// differs from the declaration is reported as a Mismatch and left alone.
package schema
