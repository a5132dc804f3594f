package cdc

import (
	"github.com/cespare/xxhash/v2"
)

// HashSeed is the fixed hash seed used for both pk_hash (CDC buffer
// rows) and __pgs_row_id (DVM row fingerprints), so the two subsystems
// agree on what a "row" hashes to. RowHash feeds it to xxhash64; the SQL
// that computes pk_hash and __pgs_row_id feeds it to hashtextextended.
const HashSeed = 0x517CC1B727220A95

// ColSep separates encoded column values before hashing.
const ColSep = 0x1E

// NullMarker is substituted for a NULL column value so that NULL is
// distinguishable from an empty string or a "missing column".
const NullMarker = "\x00NULL\x00"

// RowHash computes xxhash64(seed=HashSeed, col_1 || 0x1E || … || col_n)
// over the string encoding of cols, substituting NullMarker for nil
// entries. CDC's pk_hash and DVM's __pgs_row_id are not computed by this
// function: they are computed in SQL with hashtextextended over the same
// seed, separator and NULL marker, so their values differ from RowHash's.
func RowHash(cols []*string) uint64 {
	d := xxhash.NewWithSeed(HashSeed)
	for i, c := range cols {
		if i > 0 {
			d.Write(sepByte)
		}
		if c == nil {
			d.Write([]byte(NullMarker))
		} else {
			d.Write([]byte(*c))
		}
	}
	return d.Sum64()
}

// RowHashStrings is a convenience wrapper over plain strings (no column is
// ever NULL), used by callers that already know no value is NULL.
func RowHashStrings(cols []string) uint64 {
	ptrs := make([]*string, len(cols))
	for i := range cols {
		v := cols[i]
		ptrs[i] = &v
	}
	return RowHash(ptrs)
}

var sepByte = []byte{ColSep}
