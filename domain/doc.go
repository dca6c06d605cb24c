// Package domain provides canonical type definitions for the pipeline service.
//
// It is the foundation layer: pure data structures with JSON struct tags and
// type-safe enumerations, no business logic and no dependencies beyond the
// standard library. Every other package (the stage runner, the status store,
// the HTTP surface) imports these types, which keeps one consistent model
// between the run machinery and the wire format served to the dashboard.
//
// Entities cross component boundaries by value. A PipelineRun handed to the
// status store is a snapshot; mutating the executor's working copy afterwards
// must not be observable through the store. The Clone method on PipelineRun
// exists to enforce that handoff discipline.
package domain
