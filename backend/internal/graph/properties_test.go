package graph

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperties_SortedAndDeterministic(t *testing.T) {
	p := NewProperties(
		P("percentage", Int(40)),
		P("active", Bool(true)),
		P("since", Date(time.Date(2019, 3, 1, 15, 4, 5, 0, time.UTC))),
		P("name", String("Acme")),
	)
	p.Set("percentage", Int(41))
	p.Set("ratio", Float(0.25))

	assert.Equal(t, []string{"active", "name", "percentage", "ratio", "since"}, p.Keys())

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t,
		`{"active":{"kind":"bool","value":true},`+
			`"name":{"kind":"string","value":"Acme"},`+
			`"percentage":{"kind":"int","value":41},`+
			`"ratio":{"kind":"float","value":0.25},`+
			`"since":{"kind":"date","value":"2019-03-01"}}`,
		string(data))

	var back Properties
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, p.Equal(back))
}

func TestProperties_KindsSurviveJSON(t *testing.T) {
	// An integral float must stay a float and a numeric string must stay a string.
	at := time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.FixedZone("EAT", 3*3600))
	p := NewProperties(
		P("f", Float(40)),
		P("s", String("40")),
		P("at", DateTime(at)),
	)
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var back Properties
	require.NoError(t, json.Unmarshal(data, &back))

	f, _ := back.Get("f")
	assert.Equal(t, KindFloat, f.Kind())
	s, _ := back.Get("s")
	assert.Equal(t, KindString, s.Kind())
	got, _ := back.Get("at")
	ts, ok := got.AsTime()
	require.True(t, ok)
	assert.True(t, ts.Equal(at))
}

func TestProperties_CopySemantics(t *testing.T) {
	p := NewProperties(P("a", Int(1)))
	c := p.With("b", Int(2))
	c.Set("a", Int(9))

	v, _ := p.Get("a")
	assert.True(t, v.Equal(Int(1)))
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 2, c.Len())

	w := c.Without("a")
	assert.Equal(t, []string{"b"}, w.Keys())
	assert.Equal(t, []string{"a", "b"}, c.Keys())
}

func TestPropertiesFromNative(t *testing.T) {
	day := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	p, err := PropertiesFromNative(map[string]any{
		"name":  "Acme",
		"count": int64(3),
		"ratio": 0.5,
		"ok":    false,
		"day":   dbtype.Date(day),
		"gone":  nil,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"count", "day", "name", "ok", "ratio"}, p.Keys())

	native := p.Native()
	assert.Equal(t, int64(3), native["count"])
	assert.Equal(t, dbtype.Date(day), native["day"])

	_, err = PropertiesFromNative(map[string]any{"tags": []any{"a", "b"}})
	assert.Error(t, err)
}

func TestProperties_LocalTemporalsRoundTrip(t *testing.T) {
	wall := time.Date(2024, 3, 1, 10, 30, 0, 500, time.Local)
	clock := time.Date(0, 1, 1, 8, 15, 0, 0, time.FixedZone("", 3*3600))
	p, err := PropertiesFromNative(map[string]any{
		"ldt": dbtype.LocalDateTime(wall),
		"lt":  dbtype.LocalTime(wall),
		"tm":  dbtype.Time(clock),
	})
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"ldt": {"kind": "localdatetime", "value": "2024-03-01T10:30:00.0000005"},
		"lt":  {"kind": "localtime", "value": "10:30:00.0000005"},
		"tm":  {"kind": "time", "value": "08:15:00+03:00"}
	}`, string(data))

	var back Properties
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(p))

	native := back.Native()
	ldt, ok := native["ldt"].(dbtype.LocalDateTime)
	require.True(t, ok, "localdatetime must stay zoneless, got %T", native["ldt"])
	assert.Equal(t, dbtype.LocalDateTime(wall).String(), ldt.String())
	lt, ok := native["lt"].(dbtype.LocalTime)
	require.True(t, ok, "got %T", native["lt"])
	assert.Equal(t, "10:30:00.0000005", lt.String())
	tm, ok := native["tm"].(dbtype.Time)
	require.True(t, ok, "got %T", native["tm"])
	_, offset := tm.Time().Zone()
	assert.Equal(t, 3*3600, offset)

	// same instant, different offset
	assert.False(t, OffsetTime(clock).Equal(OffsetTime(clock.In(time.UTC))))
}

func TestPropertiesFromNative_RejectsNonScalars(t *testing.T) {
	for name, raw := range map[string]any{
		"tags":  []any{"a", "b"},
		"tenor": dbtype.Duration{Months: 6},
		"nest":  map[string]any{"a": int64(1)},
	} {
		_, err := PropertiesFromNative(map[string]any{name: raw})
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), fmt.Sprintf("property %q has non-scalar type", name))
	}
}

func TestValue_UnmarshalRejects(t *testing.T) {
	var v Value
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"list","value":[]}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"int","value":"x"}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"date","value":"01/02/2020"}`), &v))

	_, err := json.Marshal(Value{})
	assert.Error(t, err)
}
