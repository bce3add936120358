// Package domain defines the core types and interfaces shared by the broadcast core.
//
// Concept-oriented files (frame.go, terminal.go, session.go, events.go, errors.go) hold
// contracts only. Implementations live in player, registry, session, render, decode and the
// adapters, which keeps interfaces on the consumer side and avoids circular imports.
package domain
