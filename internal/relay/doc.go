// Package relay implements the producer-to-consumer fan-out engine using the actor pattern.
//
// A single goroutine owns the consumer registry and processes register, unregister,
// dispatch and probe commands from a channel, so the registry needs no mutex and every
// fan-out iterates a stable snapshot. Each consumer has its own writer goroutine fed by a
// bounded queue; a slow or dead consumer never blocks the relay loop or other consumers.
// Sessions classify each connection as producer or consumer from its first message.
package relay
