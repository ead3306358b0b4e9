// Package handler содержит HTTP-обработчики API сервиса inntektsmelding.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/inntektsmelding-service/internal/middleware"
	"github.com/mmeshcher/inntektsmelding-service/internal/model"
	"github.com/mmeshcher/inntektsmelding-service/internal/repository"
	"github.com/mmeshcher/inntektsmelding-service/internal/service"
	"github.com/mmeshcher/inntektsmelding-service/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	HandleIncomingRequest(ctx context.Context, in service.IncomingRequest) (uuid.UUID, bool, error)
	SubmitIncomeStatement(ctx context.Context, caller service.CallerIdentity, sub service.Submission) (int64, error)
	SubmitOverrideStatement(ctx context.Context, caller service.CallerIdentity, sub service.Submission) (int64, error)
	ExpireByExternalCase(ctx context.Context, externalCaseID string) (int64, error)
	GetDialogData(ctx context.Context, publicID uuid.UUID) (*service.DialogData, error)
	GetRequestsByCaseNumber(ctx context.Context, caseNumber string) ([]model.Request, error)
}

// Handler реализует HTTP-обработчики API сервиса inntektsmelding.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type createRequestRequest struct {
	ClaimantID  string `json:"aktoer_id"`
	EmployerID  string `json:"orgnummer"`
	BenefitType string `json:"ytelse"`
	StartDate   string `json:"startdato"`
	CaseNumber  string `json:"saksnummer"`
}

type createRequestResponse struct {
	RequestID string `json:"foresporsel_uuid"`
}

// CreateRequest обрабатывает запрос кейсовой системы на получение inntektsmelding.
// Повторный вызов с теми же данными возвращает существующий запрос со статусом 200.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if caller.Channel != service.ChannelSystem {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req createRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.ClaimantID == "" || req.CaseNumber == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidOrganizationNumber(req.EmployerID) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	benefitType, err := model.ParseBenefitType(req.BenefitType)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	startDate, err := time.Parse(time.DateOnly, req.StartDate)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	publicID, created, err := h.service.HandleIncomingRequest(r.Context(), service.IncomingRequest{
		ClaimantID:    req.ClaimantID,
		EmployerID:    req.EmployerID,
		BenefitType:   benefitType,
		EffectiveDate: startDate,
		CaseNumber:    req.CaseNumber,
	})
	if err != nil {
		h.logger.Error("create request error", zap.Error(err), zap.String("caseNumber", req.CaseNumber))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	writeJSON(w, status, createRequestResponse{RequestID: publicID.String()})
}

type requestResponse struct {
	RequestID   string `json:"foresporsel_uuid"`
	ClaimantID  string `json:"aktoer_id"`
	EmployerID  string `json:"orgnummer"`
	BenefitType string `json:"ytelse"`
	StartDate   string `json:"startdato"`
	CaseNumber  string `json:"saksnummer"`
	Status      string `json:"status"`
	CreatedAt   string `json:"opprettet"`
}

func toRequestResponse(req model.Request) requestResponse {
	return requestResponse{
		RequestID:   req.PublicID.String(),
		ClaimantID:  req.ClaimantID,
		EmployerID:  req.EmployerID,
		BenefitType: req.BenefitType.String(),
		StartDate:   req.EffectiveDate.Format(time.DateOnly),
		CaseNumber:  req.CaseNumber,
		Status:      string(req.Status),
		CreatedAt:   req.CreatedAt.Format(time.RFC3339),
	}
}

// GetRequestsByCase возвращает запросы по номеру дела кейсовой системы.
func (h *Handler) GetRequestsByCase(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok || caller.Channel != service.ChannelSystem {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	caseNumber := r.URL.Query().Get("saksnummer")
	if caseNumber == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	requests, err := h.service.GetRequestsByCaseNumber(r.Context(), caseNumber)
	if err != nil {
		h.logger.Error("get requests error", zap.Error(err), zap.String("caseNumber", caseNumber))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(requests) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]requestResponse, 0, len(requests))
	for _, req := range requests {
		resp = append(resp, toRequestResponse(req))
	}

	writeJSON(w, http.StatusOK, resp)
}

type expireRequest struct {
	ExternalCaseID string `json:"sak_id"`
}

type expireResponse struct {
	Expired int64 `json:"utgaatt"`
}

// ExpireRequests переводит в EXPIRED все открытые запросы указанного внешнего дела.
func (h *Handler) ExpireRequests(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok || caller.Channel != service.ChannelSystem {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req expireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.ExternalCaseID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	affected, err := h.service.ExpireByExternalCase(r.Context(), req.ExternalCaseID)
	if err != nil {
		h.logger.Error("expire requests error", zap.Error(err), zap.String("externalCaseID", req.ExternalCaseID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, expireResponse{Expired: affected})
}

type dialogPersonResponse struct {
	FirstName string `json:"fornavn"`
	LastName  string `json:"etternavn"`
	BirthDate string `json:"foedselsdato"`
}

type dialogResponse struct {
	Request requestResponse      `json:"foresporsel"`
	Person  dialogPersonResponse `json:"person"`
}

// GetDialog возвращает данные запроса и заявителя для диалоговой формы работодателя.
func (h *Handler) GetDialog(w http.ResponseWriter, r *http.Request) {
	publicID, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	data, err := h.service.GetDialogData(r.Context(), publicID)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get dialog error", zap.Error(err), zap.String("requestID", publicID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dialogResponse{
		Request: toRequestResponse(*data.Request),
		Person: dialogPersonResponse{
			FirstName: data.Person.FirstName,
			LastName:  data.Person.LastName,
			BirthDate: data.Person.BirthDate.Format(time.DateOnly),
		},
	})
}

type contactPersonRequest struct {
	Name        string `json:"navn"`
	PhoneNumber string `json:"telefon"`
}

type refundPeriodRequest struct {
	From           string          `json:"fom"`
	To             *string         `json:"tom,omitempty"`
	AmountPerMonth decimal.Decimal `json:"beloep_pr_mnd"`
}

type lapsedBenefitRequest struct {
	From     string          `json:"fom"`
	To       *string         `json:"tom,omitempty"`
	Type     string          `json:"type"`
	IsLapsed bool            `json:"bortfalt"`
	Amount   decimal.Decimal `json:"beloep"`
}

type submissionRequest struct {
	RequestID      string                 `json:"foresporsel_uuid"`
	ClaimantID     string                 `json:"aktoer_id"`
	EmployerID     string                 `json:"orgnummer"`
	BenefitType    string                 `json:"ytelse"`
	StartDate      string                 `json:"startdato"`
	MonthlyIncome  decimal.Decimal        `json:"maanedsinntekt"`
	ContactPerson  *contactPersonRequest  `json:"kontaktperson,omitempty"`
	RefundPeriods  []refundPeriodRequest  `json:"refusjonsperioder,omitempty"`
	LapsedBenefits []lapsedBenefitRequest `json:"naturalytelser,omitempty"`
}

type submissionResponse struct {
	IncomeStatementID int64 `json:"inntektsmelding_id"`
}

func parseSubmission(req submissionRequest) (service.Submission, error) {
	if req.ClaimantID == "" {
		return service.Submission{}, errors.New("aktoer_id is required")
	}
	if !validation.IsValidOrganizationNumber(req.EmployerID) {
		return service.Submission{}, errors.New("invalid orgnummer")
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		return service.Submission{}, err
	}

	benefitType, err := model.ParseBenefitType(req.BenefitType)
	if err != nil {
		return service.Submission{}, err
	}

	startDate, err := time.Parse(time.DateOnly, req.StartDate)
	if err != nil {
		return service.Submission{}, err
	}

	sub := service.Submission{
		RequestID:     requestID,
		ClaimantID:    req.ClaimantID,
		EmployerID:    req.EmployerID,
		BenefitType:   benefitType,
		StartDate:     startDate,
		MonthlyIncome: req.MonthlyIncome,
	}

	if req.ContactPerson != nil {
		sub.ContactPerson = &model.ContactPerson{
			Name:        req.ContactPerson.Name,
			PhoneNumber: req.ContactPerson.PhoneNumber,
		}
	}

	for _, in := range req.RefundPeriods {
		from, to, err := parseDates(in.From, in.To)
		if err != nil {
			return service.Submission{}, err
		}
		sub.RefundPeriods = append(sub.RefundPeriods, service.RefundPeriodInput{
			From:           from,
			To:             to,
			AmountPerMonth: in.AmountPerMonth,
		})
	}

	for _, in := range req.LapsedBenefits {
		from, to, err := parseDates(in.From, in.To)
		if err != nil {
			return service.Submission{}, err
		}
		benefit, err := model.ParseLapsedBenefitType(in.Type)
		if err != nil {
			return service.Submission{}, err
		}
		sub.LapsedBenefits = append(sub.LapsedBenefits, service.LapsedBenefitInput{
			From:     from,
			To:       to,
			Type:     benefit,
			IsLapsed: in.IsLapsed,
			Amount:   in.Amount,
		})
	}

	return sub, nil
}

func parseDates(from string, to *string) (time.Time, *time.Time, error) {
	fromDate, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return time.Time{}, nil, err
	}
	if to == nil {
		return fromDate, nil, nil
	}
	toDate, err := time.Parse(time.DateOnly, *to)
	if err != nil {
		return time.Time{}, nil, err
	}
	return fromDate, &toDate, nil
}

// SubmitIncomeStatement принимает inntektsmelding работодателя и завершает запрос.
func (h *Handler) SubmitIncomeStatement(w http.ResponseWriter, r *http.Request) {
	h.handleSubmission(w, r, h.service.SubmitIncomeStatement)
}

// SubmitOverride принимает inntektsmelding кейсовой системы в обход диалога работодателя.
func (h *Handler) SubmitOverride(w http.ResponseWriter, r *http.Request) {
	h.handleSubmission(w, r, h.service.SubmitOverrideStatement)
}

func (h *Handler) handleSubmission(w http.ResponseWriter, r *http.Request, submit func(context.Context, service.CallerIdentity, service.Submission) (int64, error)) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sub, err := parseSubmission(req)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := submit(r.Context(), caller, sub)
	if err != nil {
		h.writeSubmissionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, submissionResponse{IncomeStatementID: id})
}

func (h *Handler) writeSubmissionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrChannelNotAllowed):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, service.ErrMissingContactPerson):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, model.ErrInvalidRange),
		errors.Is(err, model.ErrConflictingPeriod),
		errors.Is(err, model.ErrInvalidMonetaryState),
		errors.Is(err, model.ErrAmountOutOfBounds):
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	case errors.Is(err, repository.ErrRequestNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrStateMismatch):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	default:
		h.logger.Error("submit income statement error", zap.Error(err), zap.String("uri", r.RequestURI))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
