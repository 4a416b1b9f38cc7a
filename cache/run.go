package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Fingerprint hashes values deterministically. Map keys are sorted before
// encoding so equal maps always produce equal fingerprints.
func Fingerprint(values ...any) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(values); err != nil {
		return "", fmt.Errorf("encode fingerprint: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// SubKey is the sub-key for a call with params: DefaultSubKey without params,
// otherwise their fingerprint.
func SubKey(params ...any) string {
	if len(params) == 0 {
		return DefaultSubKey
	}
	fp, err := Fingerprint(params...)
	if err != nil {
		// Unencodable params fall back to their printed form.
		sum := sha256.Sum256([]byte(fmt.Sprintf("%#v", params)))
		return hex.EncodeToString(sum[:])
	}
	return fp
}

// Run returns the live value under (category, key, subKey) or computes, stores
// and returns it. Concurrent misses for the same slot share one computation.
// cached reports whether the value came from the store.
func (e *Engine) Run(category Category, key, subKey string, opts Options, fn func() (any, error)) (value any, cached bool, err error) {
	if subKey == "" {
		subKey = DefaultSubKey
	}
	if v, ok := e.Get(category, key, subKey); ok {
		return v, true, nil
	}
	v, err, _ := e.group.Do(string(category)+"\x00"+key+"\x00"+subKey, func() (any, error) {
		if v, ok := e.Get(category, key, subKey); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		e.Store(category, key, subKey, v, opts)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// RunMethod memoizes fn under the method category, keyed by name and the
// fingerprint of params.
func (e *Engine) RunMethod(name string, params []any, opts Options, fn func() (any, error)) (any, error) {
	v, _, err := e.Run(CategoryMethod, name, SubKey(params...), opts, fn)
	return v, err
}
