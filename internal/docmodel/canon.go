package docmodel

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize serializes v deterministically: object keys sorted
// lexicographically, no insignificant whitespace, numbers formatted in a
// fixed decimal form. Two trees that are equal ignoring field order always
// canonicalize to identical bytes — this is the basis for content-hashing
// (§3 source stamp) and for history/current key derivation (§4.3).
func Canonicalize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return writeCanonicalString(buf, val)
	case json.Number:
		return writeCanonicalNumber(buf, val)
	case float64:
		return writeCanonicalNumber(buf, json.Number(strconv.FormatFloat(val, 'g', -1, 64)))
	case int:
		buf.WriteString(strconv.Itoa(val))
		return nil
	case map[string]interface{}:
		return writeCanonicalObject(buf, val)
	case []interface{}:
		return writeCanonicalArray(buf, val)
	default:
		return fmt.Errorf("docmodel: cannot canonicalize value of type %T", v)
	}
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	encoded, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(encoded)
	return nil
}

// writeCanonicalNumber normalizes numeric payloads to a fixed decimal form
// per the design notes (§9): no exponent notation, no trailing zeros,
// integral values rendered without a decimal point. Plain integer literals
// (including ones wider than float64's 53-bit mantissa) are formatted via
// math/big so large ids surviving DecodeJSON's json.Number path don't lose
// precision by round-tripping through float64.
func writeCanonicalNumber(buf *bytes.Buffer, n json.Number) error {
	s := string(n)
	if isPlainInteger(s) {
		bi, ok := new(big.Int).SetString(s, 10)
		if ok {
			buf.WriteString(bi.String())
			return nil
		}
	}

	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("docmodel: invalid number %q: %w", n, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("docmodel: non-finite number %q cannot be canonicalized", n)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// isPlainInteger reports whether s is a bare integer literal (optional
// leading '-', digits only) with no fractional part or exponent.
func isPlainInteger(s string) bool {
	if s == "" {
		return false
	}
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func writeCanonicalObject(buf *bytes.Buffer, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeCanonicalArray(buf *bytes.Buffer, arr []interface{}) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// SHA1Hex returns the hex-encoded SHA-1 digest of v's canonical serialization.
// Used both for source hashes (§3) and for history/current keys (§4.3).
func SHA1Hex(v interface{}) (string, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(canon)
	return hex.EncodeToString(sum[:]), nil
}

// DecodeJSON unmarshals raw into the generic tree representation, decoding
// numbers as json.Number so canonicalization never loses precision.
func DecodeJSON(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v map[string]interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return v, nil
}
