package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Kind names the scalar type held by a Value.
type Kind string

const (
	KindString   Kind = "string"
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindBool     Kind = "bool"
	KindDate     Kind = "date"
	KindDateTime Kind = "datetime"

	KindLocalDateTime Kind = "localdatetime"
	KindLocalTime     Kind = "localtime"
	KindTime          Kind = "time"
)

const (
	dateLayout          = "2006-01-02"
	localDateTimeLayout = "2006-01-02T15:04:05.999999999"
	localTimeLayout     = "15:04:05.999999999"
	offsetTimeLayout    = "15:04:05.999999999Z07:00"
)

// Value is a single scalar property value. The zero Value is invalid.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

func String(v string) Value { return Value{kind: KindString, s: v} }
func Int(v int64) Value     { return Value{kind: KindInt, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func Bool(v bool) Value     { return Value{kind: KindBool, b: v} }

// Date keeps only the calendar day of t.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func DateTime(t time.Time) Value { return Value{kind: KindDateTime, t: t} }

// LocalDateTime keeps the wall clock of t and drops its zone.
func LocalDateTime(t time.Time) Value {
	return Value{kind: KindLocalDateTime, t: time.Date(t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)}
}

// LocalTime keeps the time of day of t and drops its date and zone.
func LocalTime(t time.Time) Value {
	return Value{kind: KindLocalTime, t: time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)}
}

// OffsetTime keeps the time of day of t and its UTC offset.
func OffsetTime(t time.Time) Value {
	_, offset := t.Zone()
	return Value{kind: KindTime, t: time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		time.FixedZone("", offset))}
}

func (k Kind) temporal() bool {
	switch k {
	case KindDate, KindDateTime, KindLocalDateTime, KindLocalTime, KindTime:
		return true
	}
	return false
}

func (k Kind) layout() string {
	switch k {
	case KindDate:
		return dateLayout
	case KindLocalDateTime:
		return localDateTimeLayout
	case KindLocalTime:
		return localTimeLayout
	case KindTime:
		return offsetTimeLayout
	}
	return time.RFC3339Nano
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsValid() bool { return v.kind != "" }

// AsString returns the string form for string values and "" otherwise.
func (v Value) AsString() string {
	if v.kind == KindString {
		return v.s
	}
	return ""
}

func (v Value) AsInt() (int64, bool)      { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)  { return v.f, v.kind == KindFloat }
func (v Value) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind.temporal() }

// Equal compares kind and payload. Floats compare bitwise so NaN equals itself.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindBool:
		return v.b == o.b
	case KindTime:
		_, a := v.t.Zone()
		_, b := o.t.Zone()
		return v.t.Equal(o.t) && a == b
	case KindDate, KindDateTime, KindLocalDateTime, KindLocalTime:
		return v.t.Equal(o.t)
	}
	return true
}

// Native converts to the type the Neo4j driver expects as a query parameter.
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindDate:
		return dbtype.Date(v.t)
	case KindDateTime:
		return v.t
	case KindLocalDateTime:
		return dbtype.LocalDateTime(v.t)
	case KindLocalTime:
		return dbtype.LocalTime(v.t)
	case KindTime:
		return dbtype.Time(v.t)
	}
	return nil
}

// FromNative converts a value returned by the Neo4j driver.
func FromNative(x any) (Value, error) {
	switch n := x.(type) {
	case string:
		return String(n), nil
	case int64:
		return Int(n), nil
	case int:
		return Int(int64(n)), nil
	case float64:
		return Float(n), nil
	case bool:
		return Bool(n), nil
	case dbtype.Date:
		return Date(n.Time()), nil
	case dbtype.LocalDateTime:
		return LocalDateTime(n.Time()), nil
	case dbtype.LocalTime:
		return LocalTime(n.Time()), nil
	case dbtype.Time:
		return OffsetTime(n.Time()), nil
	case time.Time:
		return DateTime(n), nil
	case nil:
		return Value{}, fmt.Errorf("null property value")
	}
	return Value{}, fmt.Errorf("non-scalar type %T", x)
}

type wireValue struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes as {"kind": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindString:
		payload = v.s
	case KindInt:
		payload = v.i
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("float property %v is not representable in JSON", v.f)
		}
		payload = v.f
	case KindBool:
		payload = v.b
	case KindDate, KindDateTime, KindLocalDateTime, KindLocalTime, KindTime:
		payload = v.t.Format(v.kind.layout())
	default:
		return nil, fmt.Errorf("cannot encode invalid property value")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Kind: v.kind, Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		*v = String(s)
	case KindInt:
		var i int64
		if err := json.Unmarshal(w.Value, &i); err != nil {
			return err
		}
		*v = Int(i)
	case KindFloat:
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return err
		}
		*v = Float(f)
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case KindDate, KindDateTime, KindLocalDateTime, KindLocalTime, KindTime:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		t, err := time.Parse(w.Kind.layout(), s)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", w.Kind, s, err)
		}
		switch w.Kind {
		case KindDate:
			*v = Date(t)
		case KindDateTime:
			*v = DateTime(t)
		case KindLocalDateTime:
			*v = LocalDateTime(t)
		case KindLocalTime:
			*v = LocalTime(t)
		case KindTime:
			*v = OffsetTime(t)
		}
	default:
		return fmt.Errorf("unknown property kind %q", w.Kind)
	}
	return nil
}

// String renders the value for logs.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindDate, KindDateTime, KindLocalDateTime, KindLocalTime, KindTime:
		return v.t.Format(v.kind.layout())
	}
	return "<invalid>"
}
