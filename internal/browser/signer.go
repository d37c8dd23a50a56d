package browser

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/fetchframe/webextract-api/internal/crypto"
)

// requestSignature is attached to every call made to the render service.
type requestSignature struct {
	Signature string
	Timestamp string
}

// signRequest signs a render request the same way the dead-lettered
// captcha-solving client signed its requests: HMAC-SHA256 over
// timestamp|jobID|bodyHash.
func signRequest(secret, jobID string, body []byte) requestSignature {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	msg := ts + "|" + jobID + "|" + bodyHash(body)
	return requestSignature{
		Signature: crypto.Sign([]byte(secret), []byte(msg)),
		Timestamp: ts,
	}
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
