package sourcemap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Inheritance(t *testing.T) {
	records, err := Decode("0:10:1:-;0:10:-1:-")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, Record{Start: 0, Length: 10, SourceID: 1, Jump: JumpNone}, records[0])
	assert.Equal(t, Record{Start: 0, Length: 10, SourceID: -1, Jump: JumpNone}, records[1])
	assert.True(t, records[0].Mapped())
	assert.False(t, records[1].Mapped())
}

func TestDecode_EmptyFieldsInheritFromPrevious(t *testing.T) {
	records, err := Decode("5:20:0:i;;:3;8::::2;::1:o")
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, Record{Start: 5, Length: 20, SourceID: 0, Jump: JumpInto}, records[0])
	assert.Equal(t, records[0], records[1])
	assert.Equal(t, Record{Start: 5, Length: 3, SourceID: 0, Jump: JumpInto}, records[2])
	assert.Equal(t, Record{Start: 8, Length: 3, SourceID: 0, Jump: JumpInto}, records[3])
	assert.Equal(t, Record{Start: 8, Length: 3, SourceID: 1, Jump: JumpOutOf}, records[4])
}

func TestDecode_FirstRecordDefaults(t *testing.T) {
	records, err := Decode(":;1:2:0")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, Record{Start: -1, Length: -1, SourceID: -1, Jump: JumpNone}, records[0])
	assert.Equal(t, Record{Start: 1, Length: 2, SourceID: 0, Jump: JumpNone}, records[1])
}

func TestDecode_Empty(t *testing.T) {
	records, err := Decode("")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecode_InvalidNumber(t *testing.T) {
	_, err := Decode("0:10:1:-;x:1:1")
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestDecode_InvalidJump(t *testing.T) {
	_, err := Decode("0:10:1:q")
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestTrimUnmapped(t *testing.T) {
	records, err := Decode("0:10:0;1:2:0;1:2:-1;;")
	require.NoError(t, err)
	require.Len(t, records, 5)

	trimmed := TrimUnmapped(records)
	assert.Len(t, trimmed, 2)

	assert.Empty(t, TrimUnmapped([]Record{{SourceID: -1}}))
}

func TestSpan_Inside(t *testing.T) {
	outer := Span{Start: 10, Stop: 50}

	assert.True(t, Span{Start: 10, Stop: 50}.Inside(outer))
	assert.True(t, Span{Start: 20, Stop: 30}.Inside(outer))
	assert.False(t, Span{Start: 5, Stop: 30}.Inside(outer))
	assert.False(t, Span{Start: 20, Stop: 51}.Inside(outer))
	assert.Equal(t, 40, outer.Len())
}

func TestJumpKind_Text(t *testing.T) {
	data, err := json.Marshal(map[string]JumpKind{"a": JumpInto, "b": JumpOutOf, "c": JumpNone})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"i","b":"o","c":"-"}`, string(data))

	var decoded map[string]JumpKind
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, JumpOutOf, decoded["b"])
}
