package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lineage-cli/internal/engine"
)

// initEngine opens the configured store and restores engine state from it.
func initEngine(ctx context.Context) (*engine.Engine, error) {
	e, err := engine.New(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "init engine")
	}
	return e, nil
}
