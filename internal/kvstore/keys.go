package kvstore

import (
	"fmt"

	"github.com/google/orderedcode"
)

// Key encodes parts with orderedcode so that byte order matches the
// natural order of the parts. Parts are strings, int64 or uint64.
func Key(parts ...interface{}) []byte {
	key, err := orderedcode.Append(nil, parts...)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode key %v: %v", parts, err))
	}
	return []byte(key)
}

// ParseKey decodes a key produced by Key into pointers of matching types.
// Trailing parts not requested are ignored.
func ParseKey(key []byte, parts ...interface{}) error {
	_, err := orderedcode.Parse(string(key), parts...)
	return err
}

// MaxInt64 bounds open-ended height ranges.
const MaxInt64 = int64(^uint64(0) >> 1)
