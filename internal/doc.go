// Package internal holds identifier and token helpers shared by the engine
// and its Redis-backed stores.
package internal
