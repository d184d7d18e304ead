package meter_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/guestgate"
	"github.com/ineyio/guestgate/meter"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestLogMeter_Levels(t *testing.T) {
	var buf bytes.Buffer
	m := meter.NewLogMeter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	m.OnDecision(guestgate.DecisionEvent{ID: "a", Admitted: true, ClientIP: "203.0.113.7"})
	m.OnDecision(guestgate.DecisionEvent{ID: "b", Reason: guestgate.ReasonBotSuspected, Policy: "fingerprint_diversity"})
	m.OnDecision(guestgate.DecisionEvent{ID: "c", Reason: guestgate.ReasonStoreUnavailable, Error: errors.New("down")})
	m.OnStoreError(guestgate.StoreErrorEvent{DecisionID: "c", Policy: "global_daily", Error: errors.New("down")})

	lines := logLines(t, &buf)
	require.Len(t, lines, 4)

	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "admitted", lines[0]["msg"])
	assert.Equal(t, "203.0.113.7", lines[0]["ip"])

	assert.Equal(t, "INFO", lines[1]["level"])
	assert.Equal(t, "bot_suspected", lines[1]["reason"])

	assert.Equal(t, "ERROR", lines[2]["level"])
	assert.Equal(t, "store_unavailable", lines[2]["reason"])

	assert.Equal(t, "WARN", lines[3]["level"])
	assert.Equal(t, "global_daily", lines[3]["policy"])
}

func TestMulti_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	m := meter.Multi(
		meter.NewLogMeter(slog.New(slog.NewJSONHandler(&a, nil))),
		nil,
		meter.NewLogMeter(slog.New(slog.NewJSONHandler(&b, nil))),
	)
	require.Len(t, m, 2)

	m.OnDecision(guestgate.DecisionEvent{ID: "x", Admitted: true})
	m.OnStoreError(guestgate.StoreErrorEvent{DecisionID: "x"})

	assert.Len(t, logLines(t, &a), 2)
	assert.Len(t, logLines(t, &b), 2)
}
