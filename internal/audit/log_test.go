package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zashboard.app/internal/auth"
	"zashboard.app/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	obs.SetOutput(&buf, "info", "json")
	t.Cleanup(func() { obs.SetupLogger("info", "json") })

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithSession(ctx, auth.SessionClaims{UserID: "user-42"})

	require.NoError(t, LogEvent(ctx, "role.assigned", map[string]any{"role_id": "role_1"}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit", entry["type"])
	assert.Equal(t, "audit", entry["component"])
	assert.Equal(t, "role.assigned", entry["event"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "user-42", entry["user_id"])
	assert.Equal(t, map[string]any{"role_id": "role_1"}, entry["fields"])
}

func TestLogEventRequiresName(t *testing.T) {
	assert.Error(t, LogEvent(context.Background(), "  ", nil))
}
