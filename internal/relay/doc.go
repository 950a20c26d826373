// Package relay drives the GPIO relay board that switches mains power
// to the lighting circuits.
//
// Each DALI group is wired through one relay: groups G1 through G4 map
// to relays A through D, and the reserved relay-only group G0 maps to
// relay E. Group brightness commands mirror their on/off state onto
// the wired relay so a circuit is never left powered with its lights
// commanded dark.
//
// Lines are requested lazily from the GPIO character device on first
// use and held until Close. NewSimBoard returns an in-memory board for
// hosts without the relay hardware and for tests.
package relay
