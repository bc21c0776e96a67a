package book

import (
	"hash/crc32"
	"strings"
)

// ChecksumFn validates the venue-supplied checksum against the top topN
// levels of the book. Implementations must not mutate the book.
type ChecksumFn func(b *Book, expected int64, topN int) bool

// CRC32Signed computes the IEEE CRC32 of s and reinterprets the unsigned
// 32-bit result as a signed 32-bit integer, preserving the bit pattern.
// Venues publish the checksum in that signed form.
func CRC32Signed(s string) int64 {
	return int64(int32(crc32.ChecksumIEEE([]byte(s))))
}

// ChecksumInput builds the canonical checksum string: the top-N bid and ask
// price/quantity strings interleaved per level and joined with ':'. The
// venue's original textual representation is used, not the normalised ticks.
func ChecksumInput(b *Book, topN int) string {
	var sb strings.Builder
	sb.Grow(topN * 64)

	first := true
	appendTok := func(tok string) {
		if !first {
			sb.WriteByte(':')
		}
		first = false
		sb.WriteString(tok)
	}

	bids, asks := b.Bids(), b.Asks()
	for i := 0; i < topN; i++ {
		if i < len(bids) {
			appendTok(bids[i].Price)
			appendTok(bids[i].Quantity)
		}
		if i < len(asks) {
			appendTok(asks[i].Price)
			appendTok(asks[i].Quantity)
		}
	}
	return sb.String()
}

// CheckCRC32 is the Bitget/OKX-style checksum: CRC32 over the ':'-joined
// top-N levels, compared in signed 32-bit form.
func CheckCRC32(b *Book, expected int64, topN int) bool {
	return CRC32Signed(ChecksumInput(b, topN)) == expected
}
