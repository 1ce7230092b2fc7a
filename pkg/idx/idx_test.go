package idx_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tabsession/pkg/idx"
)

func TestNewAndParse(t *testing.T) {
	id := idx.New()
	require.NotEmpty(t, id.String())

	parsed, err := idx.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
	require.False(t, id.IsZero())
	require.Empty(t, id.Prefix())
}

func TestPrefixed(t *testing.T) {
	tab := idx.NewTab()
	evt := idx.NewEvent()

	require.Equal(t, idx.PrefixTab, tab.Prefix())
	require.Equal(t, idx.PrefixEvent, evt.Prefix())
	require.NotEqual(t, idx.NewTab(), tab)

	_, err := idx.Parse(tab.String())
	require.NoError(t, err)
	_, err = idx.Parse(evt.String())
	require.NoError(t, err)
}

func TestParseRejects(t *testing.T) {
	for _, s := range []string{"", "   ", "tab_", "tab_nope", "not-a-ulid"} {
		_, err := idx.Parse(s)
		require.ErrorIs(t, err, idx.ErrInvalid, s)
	}
}

func TestTimeExtraction(t *testing.T) {
	tm := time.Unix(1700000000, 0).UTC()
	id := idx.NewAt(tm)

	require.WithinDuration(t, tm, id.Time(), time.Millisecond)
	require.True(t, idx.ID("tab_garbage").Time().IsZero())
}
