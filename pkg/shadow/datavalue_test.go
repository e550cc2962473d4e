package shadow

import "testing"

func TestDataValue_EncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    DataValue
	}{
		{"null", Null()},
		{"bool-true", NewBool(true)},
		{"bool-false", NewBool(false)},
		{"int", NewInt(-42)},
		{"uint", NewUint(42)},
		{"float32", NewFloat32(1.5)},
		{"float64", NewFloat64(3.25)},
		{"string", NewString("matterkit")},
		{"bytes", NewBytes([]byte{1, 2, 3})},
		{"empty-bytes", NewBytes(nil)},
		{"struct", NewStruct(
			Field{Tag: 0, Value: NewUint(1)},
			Field{Tag: 1, Value: NewString("on")},
		)},
		{"array", NewArray(NewUint(1), NewUint(2), NewUint(3))},
		{"nested", NewStruct(
			Field{Tag: 0, Value: NewArray(NewBool(true), NewBool(false))},
			Field{Tag: 1, Value: NewStruct(Field{Tag: 0, Value: NewInt(-1)})},
		)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := EncodeDataValue(tc.v)
			if err != nil {
				t.Fatalf("EncodeDataValue: %v", err)
			}
			got, err := DecodeDataValue(data)
			if err != nil {
				t.Fatalf("DecodeDataValue: %v", err)
			}
			if !got.Equal(tc.v) {
				t.Errorf("round-trip mismatch: got %+v, want %+v", got, tc.v)
			}
		})
	}
}

func TestDataValue_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b DataValue
		want bool
	}{
		{"null-equal", Null(), Null(), true},
		{"different-kind", NewInt(1), NewUint(1), false},
		{"int-equal", NewInt(5), NewInt(5), true},
		{"int-differ", NewInt(5), NewInt(6), false},
		{"bytes-equal", NewBytes([]byte{1, 2}), NewBytes([]byte{1, 2}), true},
		{"bytes-differ-length", NewBytes([]byte{1, 2}), NewBytes([]byte{1, 2, 3}), false},
		{"bytes-differ-content", NewBytes([]byte{1, 2}), NewBytes([]byte{1, 3}), false},
		{
			"struct-equal",
			NewStruct(Field{Tag: 0, Value: NewUint(1)}),
			NewStruct(Field{Tag: 0, Value: NewUint(1)}),
			true,
		},
		{
			"struct-differ-tag",
			NewStruct(Field{Tag: 0, Value: NewUint(1)}),
			NewStruct(Field{Tag: 1, Value: NewUint(1)}),
			false,
		},
		{
			"array-differ-length",
			NewArray(NewUint(1)),
			NewArray(NewUint(1), NewUint(2)),
			false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Equal(tc.b); got != tc.want {
				t.Errorf("Equal() = %v, want %v", got, tc.want)
			}
		})
	}
}
