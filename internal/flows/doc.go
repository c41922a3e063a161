// Package flows holds the multi-step operations of the engine as plain
// functions over a dependency struct.
//
// RunLogin is the login state machine. RunVerifyBackupCode and the reset
// flows follow the same shape: every collaborator is a function field, so
// tests drive each branch with stubs and the Engine stays a thin adapter.
//
// Flows hold no state between calls and do not import the root package.
package flows
