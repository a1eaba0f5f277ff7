package telemetry

import "github.com/klabs/labelqueue/internal/core"

// Noop discards every measurement. Used where a component's telemetry sink is unset.
type Noop struct{}

func (Noop) Record(name string, measurements map[string]float64, metadata map[string]string) {}

var _ core.Telemetry = Noop{}
