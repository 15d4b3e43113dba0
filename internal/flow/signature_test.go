package flow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMessageSortsKeysAndSkipsSignature(t *testing.T) {
	p := Params{"subject": "Terrario Bosque", "amount": "90000", "apiKey": "k", "s": "ignored"}
	assert.Equal(t, "amount=90000&apiKey=k&subject=Terrario Bosque", Message(p))
}

func TestSignDeterministicAndOrderIndependent(t *testing.T) {
	a := Params{}
	a.Set("apiKey", "key-1")
	a.Set("commerceOrder", "o-1")
	a.Set("amount", int64(90000))

	b := Params{}
	b.Set("amount", 90000)
	b.Set("commerceOrder", "o-1")
	b.Set("apiKey", "key-1")

	for _, mode := range []Mode{ModeHMAC, ModeDigest} {
		first := Sign(a, "secret", mode)
		assert.Equal(t, first, Sign(a, "secret", mode))
		assert.Equal(t, first, Sign(b, "secret", mode))
		assert.Len(t, first, 64)
	}
	assert.NotEqual(t, Sign(a, "secret", ModeHMAC), Sign(a, "secret", ModeDigest))
	assert.NotEqual(t, Sign(a, "secret", ModeHMAC), Sign(a, "other", ModeHMAC))
}

func TestSignMatchesReferenceConstructions(t *testing.T) {
	p := Params{"b": "2", "a": "1"}
	msg := "a=1&b=2"

	mac := hmac.New(sha256.New, []byte("sk"))
	mac.Write([]byte(msg))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), Sign(p, "sk", ModeHMAC))

	sum := sha256.Sum256([]byte(msg + "sk"))
	assert.Equal(t, hex.EncodeToString(sum[:]), Sign(p, "sk", ModeDigest))
}

func TestVerify(t *testing.T) {
	p := Params{"token": "tok", "commerceOrder": "o-9"}
	sig := Sign(p, "sk", ModeHMAC)

	assert.True(t, Verify(p, "sk", ModeHMAC, sig))
	assert.True(t, Verify(p, "sk", ModeHMAC, strings.ToUpper(sig)))

	withSig := Params{"token": "tok", "commerceOrder": "o-9", "s": sig}
	assert.True(t, Verify(withSig, "sk", ModeHMAC, sig))

	assert.False(t, Verify(p, "wrong", ModeHMAC, sig))
	assert.False(t, Verify(p, "sk", ModeHMAC, "zz-not-hex"))
	assert.False(t, Verify(p, "sk", ModeHMAC, ""))
	tampered := Params{"token": "tok", "commerceOrder": "o-10"}
	assert.False(t, Verify(tampered, "sk", ModeHMAC, sig))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "90000", FormatValue(90000))
	assert.Equal(t, "90000", FormatValue(int64(90000)))
	assert.Equal(t, "45.5", FormatValue(45.50))
	assert.Equal(t, "100", FormatValue(100.0))
	assert.Equal(t, "0.1", FormatValue(0.1))
	assert.Equal(t, "1000000", FormatValue(1e6))
	assert.Equal(t, "12.3", FormatValue(decimal.RequireFromString("12.30")))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "raw value", FormatValue("raw value"))
}

func TestValuesCarriesSignature(t *testing.T) {
	p := Params{"apiKey": "k", "token": "t"}
	v := p.Values("sk", ModeDigest)
	assert.Equal(t, "k", v.Get("apiKey"))
	assert.Equal(t, Sign(p, "sk", ModeDigest), v.Get("s"))
}
