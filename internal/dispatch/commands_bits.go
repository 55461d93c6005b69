package dispatch

import (
	"math/bits"
	"strconv"
	"strings"

	"github.com/joeycumines/swapkv/internal/acl"
	"github.com/joeycumines/swapkv/internal/keyspace"
	"github.com/joeycumines/swapkv/internal/resp"
)

func registerBits(t *Table) {
	t.Register(&Command{
		Name: "SETBIT", Arity: 4, Flags: FlagWrite | FlagSlow,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategoryString, acl.CategorySlow},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		Handler: cmdSetBit,
	})
	t.Register(&Command{
		Name: "GETBIT", Arity: 3, Flags: FlagRead | FlagFast,
		Categories: []acl.Category{acl.CategoryRead, acl.CategoryString, acl.CategoryFast},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		Handler: cmdGetBit,
	})
	t.Register(&Command{
		Name: "BITCOUNT", Arity: -2, Flags: FlagRead | FlagSlow,
		Categories: []acl.Category{acl.CategoryRead, acl.CategoryString, acl.CategorySlow},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		Handler: cmdBitCount,
	})
	t.Register(&Command{
		Name: "BITPOS", Arity: -3, Flags: FlagRead | FlagSlow,
		Categories: []acl.Category{acl.CategoryRead, acl.CategoryString, acl.CategorySlow},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		Handler: cmdBitPos,
	})
	t.Register(&Command{
		Name: "BITOP", Arity: -4, Flags: FlagWrite | FlagSlow,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategoryString, acl.CategorySlow},
		FirstKey:   2, LastKey: -1, KeyStep: 1,
		Handler: cmdBitOp,
	})
	t.Register(&Command{
		Name: "BITFIELD", Arity: -2, Flags: FlagWrite | FlagSlow,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategoryString, acl.CategorySlow},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		Handler: cmdBitField,
	})
}

// stringValue returns key's byte payload (empty if absent), materializing
// a fresh String Value on write if forWrite and key doesn't already hold
// one. Returns (nil, false) if key holds a non-string value.
func stringValue(db *keyspace.Database, key string, forWrite bool) (*keyspace.Value, bool) {
	v, ok := db.Get(key, true)
	if ok {
		if v.Kind != keyspace.KindString {
			return nil, false
		}
		return v, true
	}
	if !forWrite {
		return keyspace.NewString(nil), true
	}
	v = keyspace.NewString(nil)
	db.Set(key, v)
	return v, true
}

func cmdSetBit(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	offset, err := strconv.ParseInt(argv[2], 10, 64)
	bitVal := argv[3]
	if err != nil || offset < 0 || (bitVal != "0" && bitVal != "1") {
		writeErr(conn, TagErr, "bit offset is not an integer or out of range")
		return
	}
	v, ok := stringValue(db, argv[1], true)
	if !ok {
		writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
		return
	}
	byteIdx := int(offset / 8)
	bitIdx := uint(7 - offset%8)
	if byteIdx >= len(v.Str) {
		grown := make([]byte, byteIdx+1)
		copy(grown, v.Str)
		v.Str = grown
	}
	old := (v.Str[byteIdx] >> bitIdx) & 1
	if bitVal == "1" {
		v.Str[byteIdx] |= 1 << bitIdx
	} else {
		v.Str[byteIdx] &^= 1 << bitIdx
	}
	v.Dirty = true
	conn.Writer.Integer(int64(old))
}

func cmdGetBit(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	offset, err := strconv.ParseInt(argv[2], 10, 64)
	if err != nil || offset < 0 {
		writeErr(conn, TagErr, "bit offset is not an integer or out of range")
		return
	}
	v, ok := stringValue(db, argv[1], false)
	if !ok {
		writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
		return
	}
	byteIdx := int(offset / 8)
	if byteIdx >= len(v.Str) {
		conn.Writer.Integer(0)
		return
	}
	bitIdx := uint(7 - offset%8)
	conn.Writer.Integer(int64((v.Str[byteIdx] >> bitIdx) & 1))
}

func cmdBitCount(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	v, ok := stringValue(db, argv[1], false)
	if !ok {
		writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
		return
	}
	data := v.Str
	if len(argv) >= 4 {
		start, _ := strconv.Atoi(argv[2])
		end, _ := strconv.Atoi(argv[3])
		data = sliceRange(data, start, end)
	}
	var n int64
	for _, b := range data {
		n += int64(bits.OnesCount8(b))
	}
	conn.Writer.Integer(n)
}

func cmdBitPos(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	bitVal, err := strconv.Atoi(argv[2])
	if err != nil || (bitVal != 0 && bitVal != 1) {
		writeErr(conn, TagErr, "The bit argument must be 1 or 0.")
		return
	}
	v, ok := stringValue(db, argv[1], false)
	if !ok {
		writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
		return
	}
	data := v.Str
	if len(argv) >= 5 {
		start, _ := strconv.Atoi(argv[3])
		end, _ := strconv.Atoi(argv[4])
		data = sliceRange(data, start, end)
	}
	for i, b := range data {
		for bi := 0; bi < 8; bi++ {
			got := int((b >> uint(7-bi)) & 1)
			if got == bitVal {
				conn.Writer.Integer(int64(i*8 + bi))
				return
			}
		}
	}
	conn.Writer.Integer(-1)
}

func sliceRange(data []byte, start, end int) []byte {
	n := len(data)
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	if start > end || n == 0 {
		return nil
	}
	return data[start : end+1]
}

func cmdBitOp(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	op := strings.ToUpper(argv[1])
	dest := argv[2]
	srcs := argv[3:]

	var inputs [][]byte
	maxLen := 0
	for _, k := range srcs {
		v, ok := stringValue(db, k, false)
		if !ok {
			writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
			return
		}
		inputs = append(inputs, v.Str)
		if len(v.Str) > maxLen {
			maxLen = len(v.Str)
		}
	}
	out := make([]byte, maxLen)
	switch op {
	case "AND":
		for i := range out {
			out[i] = 0xFF
		}
		for _, in := range inputs {
			for i := range out {
				var b byte
				if i < len(in) {
					b = in[i]
				}
				out[i] &= b
			}
		}
	case "OR":
		for _, in := range inputs {
			for i := range out {
				if i < len(in) {
					out[i] |= in[i]
				}
			}
		}
	case "XOR":
		for _, in := range inputs {
			for i := range out {
				if i < len(in) {
					out[i] ^= in[i]
				}
			}
		}
	case "NOT":
		if len(inputs) != 1 {
			writeErr(conn, TagErr, "BITOP NOT must be called with a single source key.")
			return
		}
		for i := range out {
			out[i] = ^inputs[0][i]
		}
	default:
		writeErr(conn, TagSyntax, "syntax error")
		return
	}
	db.Set(dest, keyspace.NewString(out))
	conn.Writer.Integer(int64(len(out)))
}

// cmdBitField implements the GET/SET/INCRBY subset of BITFIELD's
// mini-language on unsigned integers, enough to exercise the command's
// shape without the full signed/overflow-wrap type grammar.
func cmdBitField(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	v, ok := stringValue(db, argv[1], true)
	if !ok {
		writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
		return
	}

	var replies []int64
	args := argv[2:]
	for i := 0; i < len(args); {
		switch strings.ToUpper(args[i]) {
		case "GET":
			width, offset := parseBitfieldType(args[i+1]), parseBitfieldOffset(args[i+2])
			replies = append(replies, int64(readUintBits(v, offset, width)))
			i += 3
		case "SET":
			width, offset := parseBitfieldType(args[i+1]), parseBitfieldOffset(args[i+2])
			val, _ := strconv.ParseInt(args[i+3], 10, 64)
			old := readUintBits(v, offset, width)
			writeUintBits(v, offset, width, uint64(val))
			replies = append(replies, int64(old))
			i += 4
		case "INCRBY":
			width, offset := parseBitfieldType(args[i+1]), parseBitfieldOffset(args[i+2])
			delta, _ := strconv.ParseInt(args[i+3], 10, 64)
			cur := readUintBits(v, offset, width)
			next := uint64(int64(cur) + delta)
			writeUintBits(v, offset, width, next)
			replies = append(replies, int64(next))
			i += 4
		default:
			i = len(args)
		}
	}
	v.Dirty = true
	conn.Writer.Array(len(replies))
	for _, r := range replies {
		conn.Writer.Integer(r)
	}
}

func parseBitfieldType(tok string) int {
	tok = strings.TrimPrefix(strings.TrimPrefix(tok, "u"), "i")
	n, _ := strconv.Atoi(tok)
	if n <= 0 || n > 64 {
		n = 8
	}
	return n
}

func parseBitfieldOffset(tok string) int64 {
	n, _ := strconv.ParseInt(strings.TrimPrefix(tok, "#"), 10, 64)
	return n
}

func readUintBits(v *keyspace.Value, offset int64, width int) uint64 {
	var out uint64
	for i := 0; i < width; i++ {
		bitOff := offset + int64(i)
		byteIdx := int(bitOff / 8)
		if byteIdx >= len(v.Str) {
			continue
		}
		bitIdx := uint(7 - bitOff%8)
		bit := (v.Str[byteIdx] >> bitIdx) & 1
		out = out<<1 | uint64(bit)
	}
	return out
}

func writeUintBits(v *keyspace.Value, offset int64, width int, val uint64) {
	needed := int((offset+int64(width))/8) + 1
	if needed > len(v.Str) {
		grown := make([]byte, needed)
		copy(grown, v.Str)
		v.Str = grown
	}
	for i := 0; i < width; i++ {
		bitOff := offset + int64(i)
		byteIdx := int(bitOff / 8)
		bitIdx := uint(7 - bitOff%8)
		bit := (val >> uint(width-1-i)) & 1
		if bit == 1 {
			v.Str[byteIdx] |= 1 << bitIdx
		} else {
			v.Str[byteIdx] &^= 1 << bitIdx
		}
	}
}
