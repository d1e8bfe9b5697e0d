package router

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// BlockSize is the number of consecutive tokens per KV cache block.
// Router and worker must agree on this constant; it is not negotiated.
const BlockSize = 16

// Tokenize is a deterministic placeholder for the real tokenizer: router and
// worker only need a pure, stable tokenize(text) -> []int. It splits on
// whitespace and maps each word to its 32-bit FNV-1a hash, so that identical
// text always yields identical token ids.
func Tokenize(text string) []int {
	fields := strings.Fields(text)
	tokens := make([]int, len(fields))
	for i, f := range fields {
		tokens[i] = int(fnv32(f))
	}
	return tokens
}

// fnv32 is a small stable string hash used only to turn words into token ids
// for the placeholder tokenizer above; it has no cryptographic role.
func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// hashTokenChunk returns the canonical SHA-256 hex digest of a token chunk,
// joined with "|" between decimal token ids.
func hashTokenChunk(chunk []int) string {
	var b strings.Builder
	for i, tok := range chunk {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(tok))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ComputeBlockHashes partitions tokens into consecutive chunks of BlockSize
// and hashes each full chunk independently (no carry-over from prior blocks).
// Any trailing partial chunk (fewer than BlockSize tokens) is dropped.
func ComputeBlockHashes(tokens []int) []string {
	n := len(tokens) / BlockSize
	if n == 0 {
		return nil
	}
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		chunk := tokens[i*BlockSize : (i+1)*BlockSize]
		hashes = append(hashes, hashTokenChunk(chunk))
	}
	return hashes
}

// ComputePrefixHash hashes the first n tokens of the sequence as a single
// unit, regardless of block boundaries. Retained for compatibility with
// older router/client integrations that key on a whole-prefix hash instead
// of a block sequence.
func ComputePrefixHash(tokens []int, n int) string {
	if n > len(tokens) {
		n = len(tokens)
	}
	return hashTokenChunk(tokens[:n])
}
