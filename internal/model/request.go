package model

import (
	"time"

	"github.com/google/uuid"
)

// Request представляет запрос (forespørsel) кейсовой системы на получение
// inntektsmelding от работодателя по одному сотруднику.
type Request struct {
	ID             int64
	PublicID       uuid.UUID
	ClaimantID     string
	EmployerID     string
	BenefitType    BenefitType
	EffectiveDate  time.Time
	CaseNumber     string
	Status         RequestStatus
	ExternalCaseID *string
	ExternalTaskID *string
	CreatedAt      time.Time
}

// NewRequest создаёт запрос в начальном статусе UNDER_PROCESSING с новым публичным идентификатором.
func NewRequest(claimantID, employerID string, benefitType BenefitType, effectiveDate time.Time, caseNumber string) *Request {
	return &Request{
		PublicID:      uuid.New(),
		ClaimantID:    claimantID,
		EmployerID:    employerID,
		BenefitType:   benefitType,
		EffectiveDate: effectiveDate,
		CaseNumber:    caseNumber,
		Status:        RequestStatusUnderProcessing,
	}
}

// IsOpen сообщает, находится ли запрос в обработке.
func (r *Request) IsOpen() bool {
	return r.Status == RequestStatusUnderProcessing
}
