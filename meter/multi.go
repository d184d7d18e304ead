package meter

import "github.com/ineyio/guestgate"

// MultiMeter fans events out to several meters in order.
type MultiMeter []guestgate.Meter

var _ guestgate.Meter = (MultiMeter)(nil)

// Multi combines meters, skipping nil entries.
func Multi(meters ...guestgate.Meter) MultiMeter {
	out := make(MultiMeter, 0, len(meters))
	for _, m := range meters {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func (mm MultiMeter) OnDecision(e guestgate.DecisionEvent) {
	for _, m := range mm {
		m.OnDecision(e)
	}
}

func (mm MultiMeter) OnStoreError(e guestgate.StoreErrorEvent) {
	for _, m := range mm {
		m.OnStoreError(e)
	}
}
