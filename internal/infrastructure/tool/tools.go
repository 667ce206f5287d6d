package tool

import (
	"time"

	domaintool "github.com/tetherhq/tether/gateway/internal/domain/tool"
	"go.uber.org/zap"
)

// DefaultRegistry assembles the built-in tool set offered to the model:
// bash, read, write, edit, search_web.
func DefaultRegistry(bashTimeout time.Duration, logger *zap.Logger) (*domaintool.InMemoryRegistry, error) {
	registry := domaintool.NewRegistry()
	builtins := []domaintool.Tool{
		NewBashTool(bashTimeout, logger),
		NewReadTool(logger),
		NewWriteTool(logger),
		NewEditTool(logger),
		NewSearchWebTool(logger),
	}
	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
