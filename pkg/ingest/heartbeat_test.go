package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeartbeatBasic(t *testing.T) {
	body := "42\nOnline: 1,2,main\nOffline: 3\nTime: 17m Packs: 4250"

	hb, err := ParseHeartbeat(body)
	require.NoError(t, err)
	assert.Equal(t, "42", hb.RawIdentity)
	assert.Equal(t, 3, hb.InstancesOnline)
	assert.Equal(t, 1, hb.InstancesOffline)
	assert.Equal(t, 17, hb.TimeRunningMinutes)
	assert.EqualValues(t, 4250, hb.PacksCumulative)
	assert.True(t, hb.MainActive)
}

func TestParseHeartbeatWithSelectAndSubsystem(t *testing.T) {
	body := "<@123456>\nOnline: main\nOffline: 1,2\nTime: 5m Packs: 100\nSelect: fire,water\nSub:alpha\nOnline: 1,2,3\nOffline:"

	hb, err := ParseHeartbeat(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"fire", "water"}, hb.SelectedPacks)
	require.Len(t, hb.Subsystems, 1)
	assert.Equal(t, "alpha", hb.Subsystems[0].Name)
	assert.Equal(t, 3, hb.Subsystems[0].InstancesOnline)
}

func TestParseHeartbeatRejectsNonHeartbeat(t *testing.T) {
	_, err := ParseHeartbeat("just a regular chat message\nwith multiple\nlines\nof text")
	assert.ErrorIs(t, err, ErrNotHeartbeat)
}

func TestResolveIdentity(t *testing.T) {
	id, isID, _ := ResolveIdentity("42")
	assert.True(t, isID)
	assert.EqualValues(t, 42, id)

	id, isID, _ = ResolveIdentity("<@98765>")
	assert.True(t, isID)
	assert.EqualValues(t, 98765, id)

	_, isID, name := ResolveIdentity("SomeWorkerName")
	assert.False(t, isID)
	assert.Equal(t, "SomeWorkerName", name)
}
