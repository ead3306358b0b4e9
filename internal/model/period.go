// Package model содержит доменные сущности сервиса inntektsmelding.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange возвращается при создании периода, у которого дата окончания раньше даты начала.
var ErrInvalidRange = errors.New("period end before start")

// EndOfTime — сентинельная дата "конца времён" для открытых периодов.
var EndOfTime = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Period представляет неизменяемый период дат с включёнными границами.
type Period struct {
	From time.Time
	To   time.Time
}

// NewPeriod создаёт период [from, to]. Возвращает ErrInvalidRange, если to раньше from.
func NewPeriod(from, to time.Time) (Period, error) {
	if from.IsZero() {
		return Period{}, fmt.Errorf("%w: from date is required", ErrInvalidRange)
	}
	if to.IsZero() {
		return Period{}, fmt.Errorf("%w: to date is required", ErrInvalidRange)
	}
	if to.Before(from) {
		return Period{}, fmt.Errorf("%w: %s before %s", ErrInvalidRange, to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	return Period{From: from, To: to}, nil
}

// PeriodFrom создаёт открытый период, ограниченный датой EndOfTime.
func PeriodFrom(from time.Time) (Period, error) {
	return NewPeriod(from, EndOfTime)
}

// Overlaps сообщает, пересекаются ли периоды. Границы включительны:
// смежные периоды с общей датой считаются пересекающимися.
func (p Period) Overlaps(other Period) bool {
	fromBeforeOrEqual := p.From.Before(other.To) || p.From.Equal(other.To)
	toAfterOrEqual := p.To.After(other.From) || p.To.Equal(other.From)
	return fromBeforeOrEqual && toAfterOrEqual
}

// IsOpenEnded сообщает, является ли период открытым.
func (p Period) IsOpenEnded() bool {
	return p.To.Equal(EndOfTime)
}

func (p Period) String() string {
	if p.IsOpenEnded() {
		return fmt.Sprintf("[%s, ...]", p.From.Format(time.DateOnly))
	}
	return fmt.Sprintf("[%s, %s]", p.From.Format(time.DateOnly), p.To.Format(time.DateOnly))
}
