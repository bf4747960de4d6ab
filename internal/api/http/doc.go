// Package http exposes the host's control surface: script lifecycle
// operations, scheduler rate tuning, cart discovery and host statistics.
//
// Every lifecycle endpoint answers with the resulting script state; an
// operation that is not valid in the current state answers 409 with
// applied=false instead of failing.
package http
