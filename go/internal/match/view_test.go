package match

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/brainbuffer/go/internal/match/protocol"
)

func TestView_ResultAndShareText(t *testing.T) {
	h := newHarness(t, ModeOnline)
	h.online(content(1, 1, 2, 3))
	h.m.HandleMessage(protocol.Result{Status: protocol.StatusLost, MyScore: 40, OpScore: 90, Summary: "ada wins"})

	v := h.m.View()
	require.NotNil(t, v.Result)
	assert.Equal(t, OutcomeLost, v.Result.Outcome)
	assert.Equal(t, "ada", v.OpponentName)
	assert.Equal(t, "I scored 40 on BrainBuffer! High Score: 40. Can you beat me?", v.ShareText())
}

func TestView_JSON(t *testing.T) {
	h := newHarness(t, ModeOffline)
	require.NoError(t, h.m.Start())
	h.toActive()

	data, err := json.Marshal(h.m.View())
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "ACTIVE", fields["state"])
	assert.Equal(t, "ACTIVE", fields["phase"])
	assert.Contains(t, fields, "targets")
	assert.Contains(t, fields, "deadline")
	assert.NotContains(t, fields, "opponent_name", "offline views carry no opponent")
}
