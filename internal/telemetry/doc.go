// Package telemetry consumes fusion debug snapshots.
//
// Responsibilities: the transport-agnostic Sink interface, an in-memory
// sink, a SQLite recorder with embedded schema migrations and a debug SQL
// console, and offline innovation reports (ECharts HTML, PNG plots).
//
// Dependency rule: telemetry may import ekf; ekf never imports telemetry.
package telemetry
