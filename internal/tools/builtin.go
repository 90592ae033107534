package tools

import (
	"net/http"
	"time"

	"toolgate/internal/engine"
)

type BuiltinOptions struct {
	// Root confines the file and exec tools.
	Root        string
	Engine      engine.Engine
	HTTPClient  *http.Client
	ExecTimeout time.Duration
}

// Builtins returns the default tool catalog in registration order.
func Builtins(opts BuiltinOptions) []Tool {
	root := opts.Root
	if root == "" {
		root = "."
	}
	out := []Tool{
		Calculator{},
		ReadFile{Root: root},
		ListDirectory{Root: root},
		Exec{Dir: root, Timeout: opts.ExecTimeout},
		WebFetch{Client: opts.HTTPClient},
	}
	if opts.Engine.DB != nil {
		out = append(out, TicketTools(opts.Engine)...)
	}
	return out
}
