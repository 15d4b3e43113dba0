package flow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// SignatureField is excluded from the signed message.
const SignatureField = "s"

// Mode selects how the secret is combined with the message.
type Mode int

const (
	// ModeHMAC is HMAC-SHA256 keyed with the secret (order creation, callbacks).
	ModeHMAC Mode = iota
	// ModeDigest is SHA-256 over message||secret (status queries).
	ModeDigest
)

// Params are request parameters with values already in wire form.
type Params map[string]string

// Set stores v using the gateway's stringification: integers in base 10,
// floats in shortest plain form, decimals via String.
func (p Params) Set(key string, v any) {
	p[key] = FormatValue(v)
}

func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case decimal.Decimal:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Message builds the canonical string: keys sorted ascending, key=value
// joined by '&', raw values.
func Message(p Params) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		if k == SignatureField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(p[k])
	}
	return sb.String()
}

func Sign(p Params, secret string, mode Mode) string {
	msg := Message(p)
	switch mode {
	case ModeDigest:
		sum := sha256.Sum256([]byte(msg + secret))
		return hex.EncodeToString(sum[:])
	default:
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(msg))
		return hex.EncodeToString(mac.Sum(nil))
	}
}

// Verify recomputes the signature and compares in constant time.
func Verify(p Params, secret string, mode Mode, received string) bool {
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(received)))
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(Sign(p, secret, mode))
	return hmac.Equal(want, got)
}

// Values returns p plus its signature as url.Values.
func (p Params) Values(secret string, mode Mode) url.Values {
	v := url.Values{}
	for k, val := range p {
		if k == SignatureField {
			continue
		}
		v.Set(k, val)
	}
	v.Set(SignatureField, Sign(p, secret, mode))
	return v
}
