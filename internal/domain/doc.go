// Package domain defines the core relay types and sentinel errors.
//
// Roles, delivery outcomes and the error taxonomy live here so the relay core, the
// WebSocket adapter and the metrics adapter share one vocabulary. No implementation code.
package domain
