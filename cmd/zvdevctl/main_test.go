package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robn/zvdev/internal/activity"
)

func TestActivityKindByNameAcceptsZFSSynonyms(t *testing.T) {
	cases := map[string]activity.Kind{
		"scrub":        activity.Scrub,
		"trim":         activity.Trim,
		"free":         activity.Removal,
		"remove":       activity.Removal,
		"replace":      activity.Resilver,
		"raidz_expand": activity.RaidzExpand,
	}
	for name, want := range cases {
		got, ok := activityKindByName(name)
		require.True(t, ok, name)
		require.Equal(t, want, got, name)
	}
}

func TestActivityKindByNameRejectsUnknown(t *testing.T) {
	_, ok := activityKindByName("bogus")
	require.False(t, ok)
}

func TestActivityKindByNameDoesNotAliasDiscardToTrim(t *testing.T) {
	// "discard" means checkpoint-discard, handled separately in
	// waitCmd.Execute against the checkpoint record, not against Trim.
	_, ok := activityKindByName("discard")
	require.False(t, ok)
}
