package meter

import (
	"log/slog"

	"github.com/ineyio/guestgate"
)

// LogMeter logs admission decisions using slog.
// Limit rejections are routine and logged at Info; store failures are
// logged at Error so they can be alerted on.
type LogMeter struct {
	Logger *slog.Logger
}

var _ guestgate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnDecision(e guestgate.DecisionEvent) {
	switch {
	case e.Admitted:
		m.Logger.Info("admitted",
			"decision_id", e.ID,
			"ip", e.ClientIP,
			"cost_units", e.CostUnits,
			"ledger_total", e.LedgerTotal,
			"ledger_cap", e.LedgerCap,
			"device_used", e.Advisory.Used,
			"duration_ms", e.Duration.Milliseconds(),
		)
	case e.Reason.Alertable():
		m.Logger.Error("rejected",
			"decision_id", e.ID,
			"ip", e.ClientIP,
			"reason", string(e.Reason),
			"policy", e.Policy,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	default:
		m.Logger.Info("rejected",
			"decision_id", e.ID,
			"ip", e.ClientIP,
			"reason", string(e.Reason),
			"policy", e.Policy,
			"ledger_total", e.LedgerTotal,
			"duration_ms", e.Duration.Milliseconds(),
		)
	}
}

func (m *LogMeter) OnStoreError(e guestgate.StoreErrorEvent) {
	m.Logger.Warn("store_error",
		"decision_id", e.DecisionID,
		"policy", e.Policy,
		"error", e.Error,
	)
}
