package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
)

// ValidateSignature checks an X-Twilio-Signature header against the request.
// Twilio signs the full callback URL concatenated with every POST parameter
// name and value in lexicographic order, HMAC-SHA1 with the auth token,
// base64-encoded.
func ValidateSignature(authToken, callbackURL string, form url.Values, signature string) bool {
	keys := make([]string, 0, len(form))
	for key := range form {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	payload := callbackURL
	for _, key := range keys {
		// Twilio uses only the first value of repeated parameters.
		payload += key + form.Get(key)
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
