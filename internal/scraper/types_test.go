package scraper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordSetCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	set := NewRecordSet()
	require.True(t, set.Add("222-0000000-0000002"))
	require.True(t, set.Add("111-0000000-0000001"))
	require.False(t, set.Add("222-0000000-0000002"))
	require.False(t, set.Add(""))
	require.Len(t, set, 2)
	require.True(t, set.Contains("111-0000000-0000001"))
	require.Equal(t, []string{"111-0000000-0000001", "222-0000000-0000002"}, set.Sorted())
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "created", OutcomeCreated.String())
	require.Equal(t, "skipped_existing", OutcomeSkippedExisting.String())
	require.Equal(t, "skipped_incomplete", OutcomeSkippedIncomplete.String())
	require.Equal(t, "unknown", Outcome(0).String())
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil", nil, false},
		{"auth", &AuthError{User: "a@example.com", Reason: "bad password"}, true},
		{"wrapped auth", fmt.Errorf("open session: %w", &AuthError{User: "a"}), true},
		{"discovery", &DiscoveryError{Year: 2021, URL: "https://x", Err: errors.New("boom")}, true},
		{"session lost", fmt.Errorf("fetch: %w", ErrSessionLost), true},
		{"parse", &ParseError{RecordID: "1", Err: errors.New("bad date")}, false},
		{"conversion", &ConversionError{RecordID: "1", Err: errors.New("exit 1")}, false},
		{"delivery", &DeliveryError{RecordID: "1", Err: errors.New("smtp")}, false},
		{"canceled", context.Canceled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.fatal, IsFatal(tc.err))
		})
	}
}

func TestErrorMessagesCarryContext(t *testing.T) {
	t.Parallel()

	err := &ParseError{RecordID: "111-2222222-3333333", Snippet: "Marchember 3", Err: errors.New("bad month")}
	require.Contains(t, err.Error(), "111-2222222-3333333")
	require.Contains(t, err.Error(), "Marchember 3")

	auth := &AuthError{User: "me@example.com", Reason: "Your password is incorrect"}
	require.Equal(t, "login failed for me@example.com: Your password is incorrect", auth.Error())
}
