package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFingerprintStable(t *testing.T) {
	deadline := time.Date(2026, 10, 1, 23, 59, 59, 0, time.UTC)
	a := CanonicalGrant{
		Source:        "ukri",
		SourceID:      "opp-1",
		Title:         "AI for Manufacturing",
		Funder:        "UKRI",
		URL:           "https://www.ukri.org/opportunity/opp-1",
		FundingAmount: "£2 million",
		Deadline:      &deadline,
	}
	b := a

	require.Equal(t, a.FingerprintHash(), b.FingerprintHash())
	require.Len(t, a.FingerprintHash(), 64)
}

func TestFingerprintChangesWithContent(t *testing.T) {
	base := CanonicalGrant{Source: "ukri", SourceID: "opp-1", Title: "AI for Manufacturing"}

	changedTitle := base
	changedTitle.Title = "AI for Healthcare"
	require.NotEqual(t, base.FingerprintHash(), changedTitle.FingerprintHash())

	deadline := time.Date(2026, 10, 1, 23, 59, 59, 0, time.UTC)
	changedDeadline := base
	changedDeadline.Deadline = &deadline
	require.NotEqual(t, base.FingerprintHash(), changedDeadline.FingerprintHash())
}

func TestNormalize(t *testing.T) {
	g := CanonicalGrant{
		Source:   "  UKRI ",
		SourceID: " opp-1 ",
		Title:    "  AI for Manufacturing  ",
		Funder:   "   ",
	}
	g.Normalize()

	require.Equal(t, "ukri", g.Source)
	require.Equal(t, "opp-1", g.SourceID)
	require.Equal(t, "AI for Manufacturing", g.Title)
	require.Equal(t, UnknownSentinel, g.Funder)
	require.Equal(t, UnknownSentinel, g.FundingAmount)
}

func TestComputedStatus(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -1)
	future := now.AddDate(0, 1, 0)

	require.Equal(t, StatusClosed, (&Grant{Deadline: &past}).ComputedStatus(now))
	require.Equal(t, StatusOpen, (&Grant{Deadline: &future}).ComputedStatus(now))
	require.Equal(t, StatusOpen, (&Grant{OpeningDate: &past}).ComputedStatus(now))
	require.Equal(t, StatusUnknown, (&Grant{}).ComputedStatus(now))
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "ai-for-manufacturing-ukri", Slugify("AI for Manufacturing", "ukri"))
	require.Equal(t, "fordermittel-fur-kmus-nihr", Slugify("Fördermittel für KMUs!", "nihr"))
	require.Equal(t, "ukri", Slugify("", "ukri"))
}
