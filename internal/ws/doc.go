// Package ws streams engine notifications to clients over WebSocket.
//
// Every event the engine emits on its bus (state changes, script errors,
// load failures, frame presentations) is forwarded to each connected client
// as a JSON message. Clients drive the script lifecycle over the same
// socket.
//
// Message Types (Client → Server):
//   - load, start, stop, pause, resume, toggle, restart, reload, step
//   - ping: keep-alive
//
// Message Types (Server → Client):
//   - system: connection established, current state
//   - ack: command result with the new state
//   - scriptStateChange, scriptError, scriptLoadError, framePresented
//   - error: unknown command
//
// Example Usage:
//
//	handler := ws.NewHandler(engine, logger, metrics)
//	router.GET("/stream", handler.HandleConnection)
package ws
