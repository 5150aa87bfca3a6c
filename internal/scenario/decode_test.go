package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeArray(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []bool
		ok   bool
	}{
		{name: "bare array", in: "[true, false]", want: []bool{true, false}, ok: true},
		{name: "fenced", in: "```json\n[true]\n```", want: []bool{true}, ok: true},
		{name: "fenced without language", in: "```\n[false, false]\n```", want: []bool{false, false}, ok: true},
		{name: "embedded in prose", in: "Here you go: [true, true] as requested.", want: []bool{true, true}, ok: true},
		{name: "no array", in: "the first goal is complete", ok: false},
		{name: "malformed", in: "[true, maybe]", ok: false},
		{name: "empty", in: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []bool
			ok := decodeArray(tt.in, &got)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDecodeObject(t *testing.T) {
	var sc Scenario
	ok := decodeObject("```json\n{\"scenario_title\":\"Cafe\",\"goals\":[{\"goal\":\"Order\",\"completed\":false}]}\n```", &sc)
	require.True(t, ok)
	assert.Equal(t, "Cafe", sc.Title)
	require.Len(t, sc.Goals, 1)
	assert.Equal(t, "Order", sc.Goals[0].Goal)
}

func TestDecodeObject_GreedyMatchKeepsNestedObjects(t *testing.T) {
	// The outer object contains nested objects; the match must span all of
	// them, not stop at the first closing brace.
	in := `Sure! {"scenario_title":"Taxi","goals":[{"goal":"a","completed":false},{"goal":"b","completed":true}],"opening_line":"Hi"}`
	var sc Scenario
	require.True(t, decodeObject(in, &sc))
	assert.Len(t, sc.Goals, 2)
	assert.Equal(t, "Hi", sc.OpeningLine)
}

func TestDecodeObject_NoObject(t *testing.T) {
	var sc Scenario
	assert.False(t, decodeObject("no json here", &sc))
}
