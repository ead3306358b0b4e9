package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrConflictingPeriod возвращается при добавлении периода возмещения, пересекающегося с уже добавленным.
var (
	ErrConflictingPeriod = errors.New("conflicting refund period")
	// ErrInvalidMonetaryState возвращается для полностью утраченной натуральной льготы с нулевой суммой.
	ErrInvalidMonetaryState = errors.New("lapsed benefit with zero amount")
	// ErrAmountOutOfBounds возвращается для отрицательной суммы или суммы вне допустимой разрядности.
	ErrAmountOutOfBounds = errors.New("amount out of bounds")
)

// Суммы ограничены 20 целыми и 2 дробными разрядами.
const maxAmountIntegerDigits = 20

// ValidateAmount проверяет, что сумма неотрицательна и укладывается в допустимую разрядность.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative amount %s", ErrAmountOutOfBounds, amount)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: more than two fraction digits in %s", ErrAmountOutOfBounds, amount)
	}
	if len(amount.Abs().Truncate(0).String()) > maxAmountIntegerDigits {
		return fmt.Errorf("%w: more than %d integer digits in %s", ErrAmountOutOfBounds, maxAmountIntegerDigits, amount)
	}
	return nil
}

// ContactPerson содержит контактное лицо работодателя для данного inntektsmelding.
type ContactPerson struct {
	Name        string
	PhoneNumber string
}

// RefundPeriod описывает период и месячную сумму возмещения работодателю.
type RefundPeriod struct {
	ID             int64
	Period         Period
	AmountPerMonth decimal.Decimal
}

// LapsedBenefit описывает утраченную или уменьшенную натуральную льготу.
type LapsedBenefit struct {
	ID       int64
	Period   Period
	Type     LapsedBenefitType
	IsLapsed bool
	Amount   decimal.Decimal
}

// IncomeStatement представляет inntektsmelding — структурированные сведения
// работодателя о доходе, возмещениях и натуральных льготах сотрудника.
// Дочерние записи принадлежат исключительно этому агрегату и не хранят обратных ссылок.
type IncomeStatement struct {
	ID            int64
	ClaimantID    string
	BenefitType   BenefitType
	EmployerID    string
	StartDate     time.Time
	MonthlyIncome decimal.Decimal
	ContactPerson *ContactPerson
	CreatedAt     time.Time

	RefundPeriods  []RefundPeriod
	LapsedBenefits []LapsedBenefit
}

// NewIncomeStatement создаёт агрегат без дочерних записей. Дочерние записи
// добавляются через AddRefundPeriod и AddLapsedBenefit, которые применяют инварианты.
func NewIncomeStatement(claimantID string, benefitType BenefitType, employerID string, startDate time.Time, monthlyIncome decimal.Decimal, contact *ContactPerson) (*IncomeStatement, error) {
	if err := ValidateAmount(monthlyIncome); err != nil {
		return nil, fmt.Errorf("monthly income: %w", err)
	}
	return &IncomeStatement{
		ClaimantID:    claimantID,
		BenefitType:   benefitType,
		EmployerID:    employerID,
		StartDate:     startDate,
		MonthlyIncome: monthlyIncome,
		ContactPerson: contact,
	}, nil
}

// AddRefundPeriod добавляет период возмещения, сохраняя порядок вставки.
// Возвращает ErrConflictingPeriod, если период пересекается с уже добавленным.
func (s *IncomeStatement) AddRefundPeriod(period Period, amountPerMonth decimal.Decimal) error {
	if err := ValidateAmount(amountPerMonth); err != nil {
		return fmt.Errorf("refund amount: %w", err)
	}
	for _, existing := range s.RefundPeriods {
		if existing.Period.Overlaps(period) {
			return fmt.Errorf("%w: %s overlaps %s", ErrConflictingPeriod, period, existing.Period)
		}
	}
	s.RefundPeriods = append(s.RefundPeriods, RefundPeriod{Period: period, AmountPerMonth: amountPerMonth})
	return nil
}

// AddLapsedBenefit добавляет натуральную льготу. Полностью утраченная льгота
// с нулевой суммой отклоняется с ErrInvalidMonetaryState. Пересечения периодов
// между льготами не проверяются: разные типы льгот могут сосуществовать.
func (s *IncomeStatement) AddLapsedBenefit(entry LapsedBenefit) error {
	if err := ValidateAmount(entry.Amount); err != nil {
		return fmt.Errorf("lapsed benefit amount: %w", err)
	}
	if entry.IsLapsed && entry.Amount.IsZero() {
		return fmt.Errorf("%w: %s in %s", ErrInvalidMonetaryState, entry.Type, entry.Period)
	}
	s.LapsedBenefits = append(s.LapsedBenefits, entry)
	return nil
}
