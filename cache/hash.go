package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/chazu/vmdecomp/ir"
)

// Hash computes the content hash of a code entry's instruction stream plus
// its local/argument counts (SPEC_FULL.md §4.4) — the same "hash the
// compiled unit's structural bytes" shape vm.HashClass and
// compiler/hash.HashMethod use for classes and methods in the teacher
// repo, adapted from "hash a compiled method's normalized AST" to "hash a
// code entry's instruction bytes" (there is no separate normalization
// pass here: two entries with the same instruction stream are the same
// input to the pipeline by construction).
func Hash(e *ir.CodeEntry) [32]byte {
	var buf []byte

	writeU32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	writeString := func(s string) {
		writeU32(uint32(len(s)))
		buf = append(buf, s...)
	}

	writeU32(uint32(e.LocalCount))
	writeU32(uint32(e.ArgumentCount))
	writeU32(uint32(len(e.Instructions)))

	for _, inst := range e.Instructions {
		buf = append(buf, byte(inst.Opcode), byte(inst.Extended), byte(inst.Compare), byte(inst.Type1), byte(inst.Type2))
		writeU32(uint32(inst.Address))

		var shortBuf [2]byte
		binary.BigEndian.PutUint16(shortBuf[:], uint16(inst.Value.Short))
		buf = append(buf, shortBuf[:]...)
		var intBuf [4]byte
		binary.BigEndian.PutUint32(intBuf[:], uint32(inst.Value.Int))
		buf = append(buf, intBuf[:]...)
		var longBuf [8]byte
		binary.BigEndian.PutUint64(longBuf[:], uint64(inst.Value.Long))
		buf = append(buf, longBuf[:]...)
		var doubleBuf [8]byte
		binary.BigEndian.PutUint64(doubleBuf[:], math.Float64bits(inst.Value.Double))
		buf = append(buf, doubleBuf[:]...)
		if inst.Value.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}

		if inst.Variable != nil {
			writeString(inst.Variable.Name)
		} else {
			writeU32(0)
		}
		if inst.Function != nil {
			writeString(inst.Function.Name)
		} else {
			writeU32(0)
		}
		if inst.Type1 == ir.TypeString {
			writeString(inst.Value.String)
		}
	}

	return sha256.Sum256(buf)
}
