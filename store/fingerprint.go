package store

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes every key/value pair under prefix in key order. Two
// stores with identical contents under prefix produce the same fingerprint,
// which lets tests prove a reverted invocation left no trace.
func Fingerprint(r Backend, prefix []byte) (uint64, error) {
	digest := xxhash.New()
	var lenBuf [8]byte

	err := r.Iterate(prefix, func(key, value []byte) bool {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(key)))
		_, _ = digest.Write(lenBuf[:])
		_, _ = digest.Write(key)
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(value)))
		_, _ = digest.Write(lenBuf[:])
		_, _ = digest.Write(value)
		return true
	})
	if err != nil {
		return 0, err
	}
	return digest.Sum64(), nil
}
