package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"testing"
)

func sign(authToken, callbackURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for key := range form {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	payload := callbackURL
	for _, key := range keys {
		payload += key + form.Get(key)
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateSignature(t *testing.T) {
	const token = "12345"
	const callback = "https://api.example.org/webhook/sms"
	form := url.Values{}
	form.Set("From", "+15551230001")
	form.Set("To", "+15551239999")
	form.Set("Body", "A3 grounding")
	form.Set("MessageSid", "SM0001")

	sig := sign(token, callback, form)
	if !ValidateSignature(token, callback, form, sig) {
		t.Fatal("expected valid signature to pass")
	}
}

func TestValidateSignatureRejectsTampering(t *testing.T) {
	const token = "12345"
	const callback = "https://api.example.org/webhook/sms"
	form := url.Values{}
	form.Set("From", "+15551230001")
	form.Set("Body", "A3 grounding")

	sig := sign(token, callback, form)

	form.Set("Body", "B9 epee")
	if ValidateSignature(token, callback, form, sig) {
		t.Fatal("expected tampered body to fail")
	}
}

func TestValidateSignatureRejectsWrongToken(t *testing.T) {
	const callback = "https://api.example.org/webhook/sms"
	form := url.Values{}
	form.Set("From", "+15551230001")

	sig := sign("12345", callback, form)
	if ValidateSignature("67890", callback, form, sig) {
		t.Fatal("expected wrong token to fail")
	}
}
