// Package security summarizes an engine configuration into a report that
// operators can log at startup.
package security
