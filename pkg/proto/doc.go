// Package proto defines the data exchanged between pipeline components:
// generation plans, execution results, diagnoses and run records.
//
// The types are plain structs with JSON tags so the same values travel
// through the tool surface, the run record store and tests unchanged.
package proto
