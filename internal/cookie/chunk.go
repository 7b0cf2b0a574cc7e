package cookie

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// DefaultChunkSize keeps every chunk, including attributes, below the
// 4096 byte limit browsers enforce per cookie.
const DefaultChunkSize = 3180

const base64Prefix = "base64-"

// EncodeValue encodes a raw session payload into a cookie-safe value.
func EncodeValue(raw []byte) string {
	return base64Prefix + base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeValue reverses EncodeValue. Values without the base64 prefix are
// treated as URL-escaped raw payloads written by older clients.
func DecodeValue(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty cookie value")
	}

	if encoded, ok := strings.CutPrefix(value, base64Prefix); ok {
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, err
		}
		return raw, nil
	}

	raw, err := url.QueryUnescape(value)
	if err != nil {
		return nil, err
	}

	return []byte(raw), nil
}

func chunkName(name string, i int) string {
	return name + "." + strconv.Itoa(i)
}

// ReadChunked returns the value stored under name, joining name.0..name.N
// chunks when the unchunked form is absent.
func ReadChunked(s Store, name string) (string, bool) {
	if v, ok := s.Get(name); ok && v != "" {
		return v, true
	}

	var b strings.Builder
	for i := 0; ; i++ {
		v, ok := s.Get(chunkName(name, i))
		if !ok {
			break
		}
		b.WriteString(v)
	}

	if b.Len() == 0 {
		return "", false
	}

	return b.String(), true
}

// WriteChunked stores value under name, splitting it into chunks when it
// exceeds chunkSize. Leftovers of the other form are removed.
func WriteChunked(s Store, name, value string, chunkSize int, opts Options) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if len(value) <= chunkSize {
		s.Set(name, value, opts)
		removeChunks(s, name, 0, opts)
		return
	}

	n := 0
	for start := 0; start < len(value); start += chunkSize {
		end := min(start+chunkSize, len(value))
		s.Set(chunkName(name, n), value[start:end], opts)
		n++
	}

	if _, ok := s.Get(name); ok {
		s.Remove(name, opts)
	}
	removeChunks(s, name, n, opts)
}

// RemoveChunked removes name and all of its chunks.
func RemoveChunked(s Store, name string, opts Options) {
	if _, ok := s.Get(name); ok {
		s.Remove(name, opts)
	}
	removeChunks(s, name, 0, opts)
}

func removeChunks(s Store, name string, from int, opts Options) {
	for i := from; ; i++ {
		cn := chunkName(name, i)
		if _, ok := s.Get(cn); !ok {
			return
		}
		s.Remove(cn, opts)
	}
}
