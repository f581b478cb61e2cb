// Package core defines the shared data model of a workflow-authoring
// dialogue: the Session snapshot exchanged with callers, the closed Stage set
// with its explicit transition table, the structured Workflow document, and
// the error taxonomy crossing the orchestrator boundary. The package contains
// no I/O; higher layers (stage engine, orchestrator, transports) build on
// these types.
package core
