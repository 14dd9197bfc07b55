package rest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

const maxClockSkew = 5 * time.Minute

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"elapsed": time.Since(start).String(),
		}).Debug("handled request")
	})
}

// hmacAuthMiddleware authenticates requests carrying X-Auth-Timestamp and
// X-Auth-Signature headers, where the signature is the hex-encoded
// HMAC-SHA256 of timestamp||body under the shared secret. The timestamp is
// a unix-seconds value and must be within maxClockSkew of server time.
func hmacAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timestamp := r.Header.Get("X-Auth-Timestamp")
			signature := r.Header.Get("X-Auth-Signature")
			if len(timestamp) == 0 || len(signature) == 0 {
				writeUnauthorized(w, "missing auth headers")
				return
			}

			ts, err := strconv.ParseInt(timestamp, 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid auth timestamp")
				return
			}
			skew := time.Since(time.Unix(ts, 0))
			if skew < -maxClockSkew || skew > maxClockSkew {
				writeUnauthorized(w, "auth timestamp out of range")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeUnauthorized(w, "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !verifySignature(secret, timestamp, body, signature) {
				writeUnauthorized(w, "invalid auth signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func verifySignature(secret, timestamp string, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, computeSignature(secret, timestamp, body))
}

func computeSignature(secret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return mac.Sum(nil)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msg})
}
