package types

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestHexBytes(t *testing.T) {
	c := qt.New(t)

	c.Run("Bytes", func(c *qt.C) {
		hb := HexBytes{0x01, 0x02, 0x03}
		out := (&hb).Bytes()
		c.Assert(out, qt.DeepEquals, []byte{0x01, 0x02, 0x03})

		out[0] = 0xFF
		c.Assert(hb[0], qt.Equals, byte(0xFF))
	})

	c.Run("String", func(c *qt.C) {
		testCases := []struct {
			name string
			in   HexBytes
			want string
		}{
			{name: "nil slice", in: nil, want: ""},
			{name: "empty", in: HexBytes{}, want: ""},
			{name: "non-empty", in: HexBytes{0x00, 0xAB, 0xCD}, want: "00abcd"},
		}

		for _, tc := range testCases {
			tc := tc
			c.Run(tc.name, func(c *qt.C) {
				c.Assert(tc.in.String(), qt.Equals, tc.want)
			})
		}
	})

	c.Run("Equal", func(c *qt.C) {
		c.Assert(HexBytes{0x01, 0x02}.Equal(HexBytes{0x01, 0x02}), qt.IsTrue)
		c.Assert(HexBytes{0x01, 0x02}.Equal(HexBytes{0x01, 0x03}), qt.IsFalse)
		c.Assert(HexBytes{0x01}.Equal(HexBytes{0x01, 0x02}), qt.IsFalse)
	})

	c.Run("JSON round-trip", func(c *qt.C) {
		hb := HexBytes{0xde, 0xad, 0xbe, 0xef}
		enc, err := json.Marshal(hb)
		c.Assert(err, qt.IsNil)
		c.Assert(string(enc), qt.Equals, `"deadbeef"`)

		var got HexBytes
		c.Assert(json.Unmarshal(enc, &got), qt.IsNil)
		c.Assert(got, qt.DeepEquals, hb)
	})

	c.Run("UnmarshalJSON accepts 0x prefix", func(c *qt.C) {
		var got HexBytes
		c.Assert(json.Unmarshal([]byte(`"0xdeadbeef"`), &got), qt.IsNil)
		c.Assert(got, qt.DeepEquals, HexBytes{0xde, 0xad, 0xbe, 0xef})
	})

	c.Run("UnmarshalJSON rejects malformed input", func(c *qt.C) {
		var got HexBytes
		c.Assert(json.Unmarshal([]byte(`deadbeef`), &got), qt.Not(qt.IsNil))
	})
}

func TestHexStringToHexBytes(t *testing.T) {
	c := qt.New(t)

	b, err := HexStringToHexBytes("0xdeadbeef")
	c.Assert(err, qt.IsNil)
	c.Assert(b, qt.DeepEquals, HexBytes{0xde, 0xad, 0xbe, 0xef})

	b, err = HexStringToHexBytes("deadbeef")
	c.Assert(err, qt.IsNil)
	c.Assert(b, qt.DeepEquals, HexBytes{0xde, 0xad, 0xbe, 0xef})

	_, err = HexStringToHexBytes("zz")
	c.Assert(err, qt.Not(qt.IsNil))

	c.Assert(func() { HexStringToHexBytesMustUnmarshal("zz") }, qt.PanicMatches, ".*invalid.*")
}
