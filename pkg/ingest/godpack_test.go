package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognizeGodPackDiscovery(t *testing.T) {
	assert.True(t, RecognizeGodPackDiscovery("God pack found! Ace (123456789)", 1))
	assert.False(t, RecognizeGodPackDiscovery("God pack found! Ace (123456789)", 0))
	assert.False(t, RecognizeGodPackDiscovery("just chatting", 1))
	assert.True(t, RecognizeGodPackDiscovery("RARE PACK FOUND", 2))
}

func TestParseGodPackDiscovery(t *testing.T) {
	body := "God pack found\nAce (123456789) [3P] [2/5]"

	gp, err := ParseGodPackDiscovery(body)
	require.NoError(t, err)
	assert.Equal(t, "Ace", gp.AccountName)
	assert.Equal(t, "123456789", gp.FriendCode)
	assert.Equal(t, 3, gp.PackSlotCount)
	assert.Equal(t, 2, gp.Ratio)
}

func TestParseGodPackDiscoveryUnknownRatioDefaultsToSentinel(t *testing.T) {
	body := "GP found\nSomeone (987654321) 4 packs"
	gp, err := ParseGodPackDiscovery(body)
	require.NoError(t, err)
	assert.Equal(t, 4, gp.PackSlotCount)
	assert.Equal(t, -1, gp.Ratio)
}

func TestParseGodPackDiscoveryClampsPackSlotCount(t *testing.T) {
	body := "GP found\nSomeone (111222333) 9 packs [9/5]"
	gp, err := ParseGodPackDiscovery(body)
	require.NoError(t, err)
	assert.Equal(t, 5, gp.PackSlotCount)
	assert.Equal(t, 5, gp.Ratio)
}

func TestExpiresAtAfterTodaysReset(t *testing.T) {
	ts := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	expires := ExpiresAt(ts, 6)
	assert.Equal(t, time.Date(2025, 1, 5, 6, 0, 0, 0, time.UTC), expires)
}

func TestExpiresAtBeforeTodaysReset(t *testing.T) {
	ts := time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC)
	expires := ExpiresAt(ts, 6)
	assert.Equal(t, time.Date(2025, 1, 4, 6, 0, 0, 0, time.UTC), expires)
}
