package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// HMACAuth signs Binance USD-M futures requests. The signature is the hex
// HMAC-SHA256 of the encoded query string keyed by the API secret.
type HMACAuth struct {
	Key    string
	Secret string
	// RecvWindow is sent with every signed request when positive.
	RecvWindow time.Duration
}

// APIKeyHeader carries the API key on every authenticated request.
const APIKeyHeader = "X-MBX-APIKEY"

// SignQuery adds timestamp, recvWindow and signature to params using the
// current time and returns the encoded query string.
func (h *HMACAuth) SignQuery(params url.Values) string {
	return h.SignQueryAt(params, time.Now())
}

// SignQueryAt is SignQuery with an explicit timestamp.
func (h *HMACAuth) SignQueryAt(params url.Values, at time.Time) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(at.UnixMilli(), 10))
	if h.RecvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(h.RecvWindow.Milliseconds(), 10))
	}
	payload := params.Encode()
	return payload + "&signature=" + Sign(h.Secret, payload)
}

// Headers returns the headers for an authenticated request.
func (h *HMACAuth) Headers() map[string]string {
	return map[string]string{APIKeyHeader: h.Key}
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// String redacts the credentials.
func (h *HMACAuth) String() string {
	return "HMACAuth{Key: ***, Secret: ***}"
}
