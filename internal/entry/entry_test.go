package entry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccount() *Entry {
	return New(KindAccount, "9f2d1c3a", "uid=jdoe,ou=people,dc=example,dc=com", "jdoe@example.com",
		map[string][]string{
			"mail":         {"jdoe@example.com"},
			"cn":           {"John Doe"},
			"memberOf":     {"cn=eng,dc=example,dc=com", "cn=all,dc=example,dc=com"},
			"provBoolAttr": {"TRUE"},
			"provIntAttr":  {"42"},
			"provTimeAttr": {"20260115093000Z"},
			"provInterval": {"30m"},
		})
}

func TestEntry_Accessors(t *testing.T) {
	e := newTestAccount()

	assert.Equal(t, KindAccount, e.Kind())
	assert.Equal(t, "9f2d1c3a", e.ID())
	assert.Equal(t, "uid=jdoe,ou=people,dc=example,dc=com", e.DN())
	assert.Equal(t, "jdoe@example.com", e.Name())
	assert.Equal(t, "John Doe", e.Attr("cn"))
	assert.Equal(t, "", e.Attr("missing"))
	assert.Len(t, e.MultiAttr("memberOf"), 2)
	assert.True(t, e.HasAttr("mail"))
	assert.False(t, e.HasAttr("missing"))
	assert.True(t, e.BoolAttr("provBoolAttr", false))
	assert.True(t, e.BoolAttr("missing", true))
	assert.Equal(t, 42, e.IntAttr("provIntAttr", 7))
	assert.Equal(t, 7, e.IntAttr("missing", 7))
	assert.Equal(t, 30*time.Minute, e.DurationAttr("provInterval", 0))
}

func TestEntry_TimeAttr(t *testing.T) {
	e := newTestAccount()
	ts := e.TimeAttr("provTimeAttr")
	require.False(t, ts.IsZero())
	assert.Equal(t, 2026, ts.Year())
	assert.True(t, e.TimeAttr("missing").IsZero())
}

func TestEntry_MultiAttrReturnsCopy(t *testing.T) {
	e := newTestAccount()
	vs := e.MultiAttr("memberOf")
	vs[0] = "mutated"
	assert.Equal(t, "cn=eng,dc=example,dc=com", e.MultiAttr("memberOf")[0])
}

func TestEntry_ReloadReplacesSnapshot(t *testing.T) {
	e := newTestAccount()
	gen := e.Generation()

	e.Reload(map[string][]string{"mail": {"jdoe@example.com"}, "cn": {"Jane Doe"}})

	assert.Equal(t, "Jane Doe", e.Attr("cn"))
	assert.False(t, e.HasAttr("memberOf"))
	assert.Equal(t, gen+1, e.Generation())
}

func TestEntry_ConcurrentReloadAndRead(t *testing.T) {
	e := newTestAccount()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e.Reload(map[string][]string{"cn": {"John Doe"}})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = e.Attr("cn")
				_ = e.AttrSnapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, "John Doe", e.Attr("cn"))
}

func TestLaterTimestamp(t *testing.T) {
	assert.Equal(t, "20260201120000Z", LaterTimestamp("20260101120000Z", "20260201120000Z"))
	assert.Equal(t, "20260201120000Z", LaterTimestamp("20260201120000Z", "20260101120000Z"))
	assert.Equal(t, "20260101120000Z", LaterTimestamp("", "20260101120000Z"))
	assert.Equal(t, "20260101120000Z", LaterTimestamp("20260101120000Z", ""))
}

func TestFormatTime_LexicographicOrder(t *testing.T) {
	earlier := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	later := earlier.Add(time.Second)
	assert.Less(t, FormatTime(earlier), FormatTime(later))
	assert.Less(t, FormatTimeMs(earlier), FormatTimeMs(later))
}

func TestParseTime_BothPrecisions(t *testing.T) {
	ts, err := ParseTime("20260115093000Z")
	require.NoError(t, err)
	assert.Equal(t, 30, ts.Minute())

	ts, err = ParseTime("20260115093000.500Z")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, time.Duration(ts.Nanosecond()))

	_, err = ParseTime("not-a-timestamp")
	assert.Error(t, err)
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30", 30 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"45s", 45 * time.Second},
		{"10m", 10 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := ParseInterval(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	_, err := ParseInterval("soon")
	assert.Error(t, err)
}
