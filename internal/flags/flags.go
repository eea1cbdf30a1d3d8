// Package flags holds the process-wide mutable knobs the admin endpoints
// toggle at runtime: streaming mode and the three force-* generation
// overrides. Every request reads them; strict consistency across concurrent
// requests is not required, so plain atomics are sufficient.
package flags

import (
	"sync/atomic"

	"github.com/aistudio-bridge/bridge/internal/config"
	"github.com/aistudio-bridge/bridge/internal/protocol"
)

var (
	streamingMode   atomic.Value // protocol.StreamingMode
	forceThinking   atomic.Bool
	forceWebSearch  atomic.Bool
	forceURLContext atomic.Bool
)

func init() {
	streamingMode.Store(protocol.StreamingReal)
}

// Init seeds the knobs from the loaded configuration. Called once at
// startup and again on every config hot-reload.
func Init(cfg *config.Config) {
	if cfg.StreamingMode == "fake" {
		streamingMode.Store(protocol.StreamingFake)
	} else {
		streamingMode.Store(protocol.StreamingReal)
	}
	forceThinking.Store(cfg.ForceThinking)
	forceWebSearch.Store(cfg.ForceWebSearch)
	forceURLContext.Store(cfg.ForceURLContext)
}

func StreamingMode() protocol.StreamingMode {
	return streamingMode.Load().(protocol.StreamingMode)
}

func SetStreamingMode(mode protocol.StreamingMode) {
	streamingMode.Store(mode)
}

func ForceThinking() bool { return forceThinking.Load() }

func SetForceThinking(v bool) { forceThinking.Store(v) }

func ForceWebSearch() bool { return forceWebSearch.Load() }

func SetForceWebSearch(v bool) { forceWebSearch.Store(v) }

func ForceURLContext() bool { return forceURLContext.Load() }

func SetForceURLContext(v bool) { forceURLContext.Store(v) }
