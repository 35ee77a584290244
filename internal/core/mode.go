// Package core is the orchestration layer.  It composes a transport,
// the recorder and the relay into the running proxy, and provides a
// builder that assembles it from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session/recorder/relay  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode.  It owns its full lifecycle from
// binding to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
