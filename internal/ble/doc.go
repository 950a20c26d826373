// Package ble drives DALI lighting gateways over Bluetooth Low Energy.
//
// The gateways expose a Nordic UART Service; commands are written to
// the RX characteristic and acknowledgements arrive as notifications on
// the TX characteristic. This package owns everything between a logical
// command ("set DALLA2 to 60%") and the bytes on air:
//
//   - Transport: the BLE abstraction (real adapter or simulation)
//   - Pool: cached per-gateway connections with idle eviction
//   - AckTable: correlation of notification frames to waiting senders
//   - Controller: dispatch, rate limiting, group fan-out, escalation
//   - Monitor: rolling latency/success windows and bottleneck hints
//   - Reporter: periodic MQTT health publishing
//
// # Simulation
//
// When no adapter can be enabled at startup, or after three consecutive
// failed connect/scan cycles, the controller latches into simulation
// mode for the rest of its lifetime: commands succeed after a short
// artificial delay so the rest of the system keeps operating. Devices
// mapped with placeholder addresses are short-circuited the same way
// without counting as transport activity.
//
// # Concurrency
//
// A global permit pool bounds in-flight commands, sized by the host
// tier. Commands to the same gateway are serialised and spaced by a
// minimum interval; different gateways proceed in parallel up to the
// permit budget.
//
// All exported types are safe for concurrent use.
package ble
