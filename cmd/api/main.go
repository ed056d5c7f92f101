package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"stripcall/internal/adapters/fcm"
	"stripcall/internal/adapters/repo"
	"stripcall/internal/adapters/twilio"
	"stripcall/internal/adapters/webhook"
	"stripcall/internal/domain"
	"stripcall/internal/infra/cache"
	"stripcall/internal/infra/config"
	"stripcall/internal/infra/db"
	httpinfra "stripcall/internal/infra/http"
	"stripcall/internal/infra/log"
	"stripcall/internal/infra/metrics"
	crewusecase "stripcall/internal/usecase/crew"
	"stripcall/internal/usecase/dispatch"
	"stripcall/internal/usecase/inbound"
	problemsusecase "stripcall/internal/usecase/problems"
	receiptsusecase "stripcall/internal/usecase/receipts"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: database connect failed")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	var dedup domain.Cache
	if cfg.RedisAddr != "" {
		dedup = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	pushGateway := fcm.NewClient(fcm.Config{
		Key:     cfg.FCM.Key,
		BaseURL: cfg.FCM.BaseURL,
		Timeout: cfg.FCM.Timeout,
	})
	smsGateway := twilio.NewClient(twilio.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		Timeout:    cfg.Twilio.Timeout,
	})

	dispatcher := dispatch.NewService(store, store, store, store, store,
		pushGateway, smsGateway, logger.With().Str("component", "dispatch").Logger())
	classifier := inbound.NewService(store, store, store, dispatcher,
		logger.With().Str("component", "inbound").Logger())
	receiptsService := receiptsusecase.NewService(store, store, store,
		logger.With().Str("component", "receipts").Logger())
	crewService := crewusecase.NewService(store, store,
		logger.With().Str("component", "crew").Logger())
	problemsService := problemsusecase.NewService(store,
		logger.With().Str("component", "problems").Logger())
	smsWebhook := webhook.NewHandler(classifier, dedup,
		cfg.Twilio.AuthToken, cfg.Twilio.WebhookBase,
		logger.With().Str("component", "webhook").Logger())

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	r := server.Router

	r.Post("/webhook/sms", smsWebhook.ServeSMS)

	r.Post("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := callerFromHeader(w, r)
		if !ok {
			return
		}
		defer r.Body.Close()
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ProblemID == 0 || req.Text == "" {
			writeError(w, http.StatusBadRequest, "problem_id and text are required")
			return
		}
		member, err := crewService.Active(r.Context(), callerID)
		if err != nil {
			writeDomainError(w, logger, err, "resolve crew")
			return
		}
		problem, err := problemsService.Get(r.Context(), req.ProblemID)
		if err != nil {
			writeDomainError(w, logger, err, "load problem")
			return
		}
		if problem.EventID != member.EventID ||
			(problem.CrewType != member.CrewType && problem.ReporterID != callerID) {
			writeError(w, http.StatusForbidden, "problem is outside your crew")
			return
		}
		result, err := dispatcher.Dispatch(r.Context(), dispatch.Input{
			SenderID:  callerID,
			EventID:   problem.EventID,
			CrewType:  problem.CrewType,
			ProblemID: problem.ID,
			Text:      req.Text,
		})
		if err != nil {
			writeDomainError(w, logger, err, "dispatch message")
			return
		}
		writeJSON(w, dispatchResponse(result))
	})

	r.Get("/api/v1/poll", func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := callerFromHeader(w, r)
		if !ok {
			return
		}
		member, err := crewService.Active(r.Context(), callerID)
		if err != nil {
			writeDomainError(w, logger, err, "resolve crew")
			return
		}
		result, err := receiptsService.Poll(r.Context(), callerID, member.EventID, member.CrewType)
		if err != nil {
			writeDomainError(w, logger, err, "poll")
			return
		}
		writeJSON(w, result)
	})

	r.Post("/api/v1/receipts/{messageID}/ack", func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := callerFromHeader(w, r)
		if !ok {
			return
		}
		messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid message id")
			return
		}
		affected, err := receiptsService.Acknowledge(r.Context(), callerID, messageID)
		if err != nil {
			writeDomainError(w, logger, err, "acknowledge")
			return
		}
		writeJSON(w, map[string]any{"acknowledged": affected})
	})

	r.Post("/api/v1/problems", func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := callerFromHeader(w, r)
		if !ok {
			return
		}
		defer r.Body.Close()
		var req problemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		member, err := crewService.Active(r.Context(), callerID)
		if err != nil {
			writeDomainError(w, logger, err, "resolve crew")
			return
		}
		crewType := req.CrewType
		if crewType == "" {
			crewType = member.CrewType
		}
		id, err := problemsService.Create(r.Context(), callerID, member.EventID, crewType, req.Strip, req.Category)
		if err != nil {
			writeDomainError(w, logger, err, "create problem")
			return
		}
		writeJSON(w, map[string]any{"problem_id": id})
	})

	r.Post("/api/v1/problems/{problemID}/resolve", func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := callerFromHeader(w, r)
		if !ok {
			return
		}
		problemID, err := strconv.ParseInt(chi.URLParam(r, "problemID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid problem id")
			return
		}
		defer r.Body.Close()
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		affected, err := problemsService.Resolve(r.Context(), callerID, problemID, req.ResolutionCode)
		if err != nil {
			writeDomainError(w, logger, err, "resolve problem")
			return
		}
		if !affected {
			writeError(w, http.StatusNotFound, "problem not found or already resolved")
			return
		}
		writeJSON(w, map[string]any{"resolved": true})
	})

	r.Put("/api/v1/problems/{problemID}", func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := callerFromHeader(w, r)
		if !ok {
			return
		}
		problemID, err := strconv.ParseInt(chi.URLParam(r, "problemID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid problem id")
			return
		}
		defer r.Body.Close()
		var req problemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		member, err := crewService.Active(r.Context(), callerID)
		if err != nil {
			writeDomainError(w, logger, err, "resolve crew")
			return
		}
		crewType := req.CrewType
		if crewType == "" {
			crewType = member.CrewType
		}
		affected, err := problemsService.Update(r.Context(), callerID, problemID, crewType, req.Strip, req.Category)
		if err != nil {
			writeDomainError(w, logger, err, "update problem")
			return
		}
		if !affected {
			writeError(w, http.StatusNotFound, "problem not found in this crew")
			return
		}
		writeJSON(w, map[string]any{"updated": true})
	})

	r.Post("/api/v1/crew/join", func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := callerFromHeader(w, r)
		if !ok {
			return
		}
		defer r.Body.Close()
		var req joinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := crewService.LinkPushToken(r.Context(), callerID, req.PushToken); err != nil {
			writeDomainError(w, logger, err, "link push token")
			return
		}
		member, err := crewService.Join(r.Context(), callerID, req.EventID)
		if err != nil {
			writeDomainError(w, logger, err, "join crew")
			return
		}
		writeJSON(w, member)
	})

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		logger.Info().Str("addr", addr).Msg("api: start")
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: server stopped")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

type sendMessageRequest struct {
	ProblemID int64  `json:"problem_id"`
	Text      string `json:"text"`
}

type problemRequest struct {
	CrewType string `json:"crew_type"`
	Strip    string `json:"strip"`
	Category string `json:"category"`
}

type resolveRequest struct {
	ResolutionCode int `json:"resolution_code"`
}

type joinRequest struct {
	EventID   int64  `json:"event_id"`
	PushToken string `json:"push_token"`
}

func dispatchResponse(result dispatch.Result) map[string]any {
	sms := make([]map[string]any, 0, len(result.SMS))
	for _, s := range result.SMS {
		entry := map[string]any{"user_id": s.UserID, "ok": s.Err == nil}
		if s.Err != nil {
			entry["error"] = s.Err.Error()
		}
		sms = append(sms, entry)
	}
	return map[string]any{
		"message_id": result.MessageID,
		"receipts":   result.Receipts,
		"push_sent":  result.PushErr == nil,
		"sms":        sms,
	}
}

// callerID reads the authenticated user from the X-User-ID header. The
// gateway in front of the service owns authentication.
func callerFromHeader(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnauthorized, "missing or invalid X-User-ID")
		return 0, false
	}
	return id, true
}

func writeDomainError(w http.ResponseWriter, logger zerolog.Logger, err error, op string) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrEventNotFound),
		errors.Is(err, domain.ErrCrewNotFound),
		errors.Is(err, domain.ErrProblemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnreachableParticipants):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error().Err(err).Str("op", op).Msg("api: request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
