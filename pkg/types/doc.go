// Package types defines the entity data model, the EntityStore interface,
// the store configuration, and the standard errors shared by the anonymization
// engine, its store backends, and the CLI.
package types
