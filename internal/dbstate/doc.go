// Package dbstate manages the data shape of a shared test database.
//
// States:
//   - empty (detection only) | schema-only | framework | full
//
// The Detector classifies the live database from introspection and never
// fails; introspection errors classify as unknown. The Engine applies one
// state script at a time inside a transaction it owns, holding the
// ServiceState lock for the whole transition, and moves the tracked state only
// after commit. Reset re-applies the script of the detected state and is
// rejected when that state is unknown or detection-only.
//
// Scripts must not issue their own COMMIT; the engine cannot roll back work a
// script has already committed.
//
// Backups do not take the transition lock unless configured as consistent, in
// which case they hold its shared side.
package dbstate
