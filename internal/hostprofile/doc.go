// Package hostprofile classifies the host machine into a capability
// tier that tunes the BLE command pipeline.
//
// Small single-board hosts (Pi Zero 2 class) struggle with concurrent
// BLE connections and tight command pacing, so the controller runs them
// with longer acknowledgement timeouts, wider command spacing, a smaller
// concurrency budget, and sequential group fan-out.
//
// Detection runs once per process and is cached. When detection cannot
// establish the host's resources it assumes the constrained tier; slower
// but safe beats fast but overloaded.
package hostprofile
