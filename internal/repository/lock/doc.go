// Package lock guards the scratch directory against concurrent packaging runs.
//
// A marker file holding the owner PID is created in the directory. A marker
// whose process is gone is considered stale and taken over.
package lock
