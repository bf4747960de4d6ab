// Package server assembles the host: sandbox machine, script engine,
// scheduler strategy and the HTTP/WebSocket control surface.
package server
