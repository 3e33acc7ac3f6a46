// Package prism is an in-memory OLAP engine for multi-cube queries.
//
// Usage:
//
//	import "github.com/spektr-org/prism/engine"
//
//	qc, err := engine.NewQuery(s).
//	    Select("tracks_count", "units_sold").
//	    Slice("customers.country", facts.With("France")).
//	    Granulate("tracks.genre", "media_types.name").
//	    Build(ctx)
//	rows, err := qc.Elements(ctx, nil, nil)
//
// A schema (package schema) declares dimensions of ordered levels and cubes
// that bind some of those levels to fact fields. Facts come from any
// facts.Scope; package helpers resolves CSV, JSON and sqlite sources named
// in a YAML schema file.
//
// Cubes that bind different dimensions answer one query together: each
// cube fetches at the closest grain it supports, and rows the cubes share
// are federated into virtual elements.
package prism

// Version is the release of the module.
const Version = "0.3.0"
