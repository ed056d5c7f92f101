package webhook

import (
	"context"
	"encoding/xml"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"stripcall/internal/adapters/twilio"
	"stripcall/internal/domain"
	"stripcall/internal/infra/metrics"
	"stripcall/internal/usecase/inbound"
)

// dedupTTL keeps a webhook delivery id long enough to swallow Twilio retries.
const dedupTTL = 10 * time.Minute

// Classifier is the inbound report pipeline, satisfied by inbound.Service.
type Classifier interface {
	Handle(ctx context.Context, from, to, body string) (inbound.Outcome, error)
}

// Handler terminates the Twilio SMS webhook: validates the request signature,
// deduplicates redeliveries by MessageSid and replies with TwiML.
type Handler struct {
	classifier Classifier
	cache      domain.Cache
	authToken  string
	baseURL    string
	log        zerolog.Logger
}

func NewHandler(classifier Classifier, cache domain.Cache, authToken, baseURL string, log zerolog.Logger) *Handler {
	return &Handler{
		classifier: classifier,
		cache:      cache,
		authToken:  authToken,
		baseURL:    baseURL,
		log:        log,
	}
}

// ServeSMS handles POST /webhook/sms.
func (h *Handler) ServeSMS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if h.authToken != "" {
		signed := h.baseURL + r.URL.Path
		if !twilio.ValidateSignature(h.authToken, signed, r.PostForm, r.Header.Get("X-Twilio-Signature")) {
			h.log.Warn().Str("url", signed).Msg("webhook signature rejected")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	from := lastTenDigits(r.PostFormValue("From"))
	to := lastTenDigits(r.PostFormValue("To"))
	body := r.PostFormValue("Body")
	sid := r.PostFormValue("MessageSid")

	// outcome stays zero when the dedup guard suppresses the call
	var outcome inbound.Outcome
	run := func() error {
		var err error
		outcome, err = h.classifier.Handle(r.Context(), from, to, body)
		return err
	}

	var err error
	if sid == "" || h.cache == nil {
		err = run()
	} else {
		err = h.cache.Once("sms:sid:"+sid, dedupTTL, run)
	}
	metrics.InboundOutcomes.WithLabelValues(outcome.String()).Inc()
	if err != nil {
		h.log.Error().Err(err).Str("outcome", outcome.String()).Msg("inbound sms failed")
	}

	reply, ok := replyFor(outcome)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeTwiML(w, reply)
}

// replyFor maps an outcome to the reporter-visible reply. Follow-ups and
// suppressed duplicates get a bare 200 with no message, as the reporter
// already knows the thread is live.
func replyFor(outcome inbound.Outcome) (string, bool) {
	switch outcome {
	case inbound.OutcomeNewProblem:
		return "Got it", true
	case inbound.OutcomeUserProvisionFailed:
		return "Sorry, could not register this number", true
	case inbound.OutcomeNoEventForHotline:
		return "Sorry, no event is using this number", true
	case inbound.OutcomeProblemCreateFailed:
		return "Sorry, could not record the problem", true
	case inbound.OutcomeDispatchFailed:
		return "Sorry, could not notify the crew", true
	default:
		return "", false
	}
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

func writeTwiML(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(twimlResponse{Message: message})
}

// lastTenDigits normalizes a phone number the way the store keys users and
// hotlines, dropping country code and formatting.
func lastTenDigits(tn string) string {
	digits := make([]byte, 0, len(tn))
	for i := 0; i < len(tn); i++ {
		if tn[i] >= '0' && tn[i] <= '9' {
			digits = append(digits, tn[i])
		}
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return string(digits)
}
