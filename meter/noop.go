package meter

import "github.com/ineyio/guestgate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ guestgate.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnDecision(guestgate.DecisionEvent)     {}
func (m *NoopMeter) OnStoreError(guestgate.StoreErrorEvent) {}
