package modules

import "context"

// Module is a processing step that maps named inputs to named outputs.
type Module interface {
	Process(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

var _ Module = (*Solver)(nil)
