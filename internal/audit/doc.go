// Package audit implements asynchronous delivery of security-relevant events.
//
// # Components
//
//   - [Sink] receives events. Provided sinks write JSON lines, zerolog entries,
//     or a channel (tests).
//   - [Dispatcher] is a buffered relay. Emit never blocks the caller when
//     DropIfFull is set; sink failures are logged and otherwise ignored.
//   - [Event] is the audit record.
//
// # What this package must NOT do
//
//   - Decide which events to emit. That belongs to the engine.
//   - Import authbroker or any sibling internal package other than logger.
package audit
