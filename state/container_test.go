package state

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	Count int    `json:"count"`
	Text  string `json:"text"`
}

func TestContainer(t *testing.T) {
	initial := testState{Count: 0, Text: ""}

	t.Run("initial value", func(t *testing.T) {
		c := NewContainer(initial)
		require.Equal(t, initial, c.Get())
	})
	t.Run("replace", func(t *testing.T) {
		c := NewContainer(initial)
		c.Replace(testState{Count: 1, Text: "test"})
		require.Equal(t, testState{Count: 1, Text: "test"}, c.Get())
	})
	t.Run("merge keeps absent fields", func(t *testing.T) {
		c := NewContainer(testState{Count: 0, Text: "kept"})
		require.NoError(t, c.Merge(Partial{"count": 1}))
		require.Equal(t, testState{Count: 1, Text: "kept"}, c.Get())
	})
	t.Run("merge with every field", func(t *testing.T) {
		c := NewContainer(initial)
		require.NoError(t, c.Merge(Partial{"count": 1, "text": "test"}))
		require.Equal(t, testState{Count: 1, Text: "test"}, c.Get())
	})
	t.Run("merge rejects unknown fields", func(t *testing.T) {
		c := NewContainer(testState{Count: 3})
		require.Error(t, c.Merge(Partial{"missing": true}))
		require.Equal(t, testState{Count: 3}, c.Get())
	})
	t.Run("merge matches field names exactly", func(t *testing.T) {
		c := NewContainer(testState{Count: 1, Text: "a"})
		err := c.Merge(Partial{"COUNT": 5})
		require.Equal(t, ErrUnknownField, errors.Cause(err))
		require.Equal(t, testState{Count: 1, Text: "a"}, c.Get())
	})
	t.Run("merge rejects mistyped values", func(t *testing.T) {
		c := NewContainer(testState{Count: 3})
		require.Error(t, c.Merge(Partial{"count": "three"}))
		require.Equal(t, testState{Count: 3}, c.Get())
	})
	t.Run("merge rejects empty field names", func(t *testing.T) {
		c := NewContainer(map[string]interface{}{"a": 1.0})
		require.Equal(t, ErrEmptyField, c.Merge(Partial{"": 1}))
	})
	t.Run("merge on map state with dotted keys", func(t *testing.T) {
		c := NewContainer(map[string]interface{}{"a": 1.0})
		require.NoError(t, c.Merge(Partial{"b.c": "x"}))
		require.Equal(t, map[string]interface{}{"a": 1.0, "b.c": "x"}, c.Get())
	})
	t.Run("merge on nil map state", func(t *testing.T) {
		var initial map[string]interface{}
		c := NewContainer(initial)
		require.NoError(t, c.Merge(Partial{"a": "b"}))
		require.Equal(t, map[string]interface{}{"a": "b"}, c.Get())
	})
}

func TestContainer_ReplaceBinary(t *testing.T) {
	c := NewContainer(testState{Count: 7, Text: "seven"})
	t.Run("valid payload", func(t *testing.T) {
		require.NoError(t, c.ReplaceBinary([]byte(`{"count":1,"text":"test"}`)))
		require.Equal(t, testState{Count: 1, Text: "test"}, c.Get())
	})
	for name, payload := range map[string]string{
		"not json":      `{"count":`,
		"not an object": `[1,2]`,
		"null":          `null`,
		"unknown field": `{"count":1,"other":2}`,
		"wrong type":    `{"count":"1"}`,
		"trailing data": `{"count":1} {"count":2}`,
		"missing field": `{"count":1}`,
		"case mismatch": `{"COUNT":1,"text":"x"}`,
		"duplicated":    `{"count":1,"text":"x","TEXT":"y"}`,
	} {
		t.Run("rejects "+name, func(t *testing.T) {
			require.Error(t, c.ReplaceBinary([]byte(payload)))
			require.Equal(t, testState{Count: 1, Text: "test"}, c.Get())
		})
	}
}

type embedded struct {
	Inner string `json:"inner"`
}

type shapedState struct {
	embedded
	Name     string
	Tagged   int    `json:"tagged"`
	Optional string `json:"optional,omitempty"`
	Skipped  bool   `json:"-"`
	private  int
}

func TestContainer_Shape(t *testing.T) {
	c := NewContainer(shapedState{Name: "a"})

	t.Run("merge accepts every encoded name", func(t *testing.T) {
		require.NoError(t, c.Merge(Partial{"inner": "x", "Name": "b", "tagged": 2, "optional": "o"}))
		require.Equal(t, shapedState{embedded: embedded{Inner: "x"}, Name: "b", Tagged: 2, Optional: "o"}, c.Get())
	})
	t.Run("merge rejects names encoding/json would not emit", func(t *testing.T) {
		for _, field := range []string{"Skipped", "private", "embedded", "name", "Tagged"} {
			require.Equal(t, ErrUnknownField, errors.Cause(c.Merge(Partial{field: 1})), field)
		}
	})
	t.Run("omitempty fields are not required", func(t *testing.T) {
		require.NoError(t, c.ReplaceBinary([]byte(`{"inner":"","Name":"c","tagged":0}`)))
		require.Equal(t, shapedState{Name: "c"}, c.Get())
	})
	t.Run("maps accept any field", func(t *testing.T) {
		m := NewContainer(map[string]int{"a": 1})
		require.NoError(t, m.ReplaceBinary([]byte(`{"b":2}`)))
		require.Equal(t, map[string]int{"b": 2}, m.Get())
	})
}

func TestContainer_MarshalBinary(t *testing.T) {
	c := NewContainer(testState{Count: 2, Text: "two"})
	payload, err := c.MarshalBinary()
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2,"text":"two"}`, string(payload))

	var nilMap map[string]string
	_, err = Encode(nilMap)
	require.Equal(t, ErrNotObject, err)
}

func TestContainer_Events(t *testing.T) {
	c := NewContainer(testState{})
	events, cancel := c.Events()
	defer cancel()

	c.Replace(testState{Count: 1})
	ev := <-events
	require.Equal(t, testState{}, ev.Old)
	require.Equal(t, testState{Count: 1}, ev.New)

	require.NoError(t, c.Merge(Partial{"text": "x"}))
	ev = <-events
	require.Equal(t, testState{Count: 1, Text: "x"}, ev.New)

	require.Error(t, c.Merge(Partial{"nope": 1}))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event for rejected merge: %+v", ev)
	default:
	}
}

func TestPartialFromJSON(t *testing.T) {
	p, err := PartialFromJSON([]byte(`{"text":"hello","count":4}`))
	require.NoError(t, err)
	require.Equal(t, []string{"count", "text"}, p.Fields())

	c := NewContainer(testState{Count: 1, Text: "a"})
	require.NoError(t, c.Merge(p))
	require.Equal(t, testState{Count: 4, Text: "hello"}, c.Get())

	_, err = PartialFromJSON([]byte(`"text"`))
	require.Equal(t, ErrNotObject, err)
	_, err = PartialFromJSON([]byte(`{`))
	require.Error(t, err)
}
