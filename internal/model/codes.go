package model

import "fmt"

// BenefitType описывает тип пособия (ytelsetype), по которому запрашивается inntektsmelding.
type BenefitType string

const (
	BenefitForeldrepenger          BenefitType = "FORELDREPENGER"
	BenefitSvangerskapspenger      BenefitType = "SVANGERSKAPSPENGER"
	BenefitPleiepengerSyktBarn     BenefitType = "PLEIEPENGER_SYKT_BARN"
	BenefitPleiepengerNaerstaaende BenefitType = "PLEIEPENGER_NAERSTAAENDE"
	BenefitOmsorgspenger           BenefitType = "OMSORGSPENGER"
	BenefitOpplaeringspenger       BenefitType = "OPPLAERINGSPENGER"
)

// BenefitTypes перечисляет все поддерживаемые типы пособий.
var BenefitTypes = []BenefitType{
	BenefitForeldrepenger,
	BenefitSvangerskapspenger,
	BenefitPleiepengerSyktBarn,
	BenefitPleiepengerNaerstaaende,
	BenefitOmsorgspenger,
	BenefitOpplaeringspenger,
}

// ParseBenefitType преобразует строковое значение в BenefitType.
func ParseBenefitType(s string) (BenefitType, error) {
	for _, t := range BenefitTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown benefit type %q", s)
}

func (t BenefitType) String() string {
	return string(t)
}

// NotificationCategory возвращает категорию (merkelapp) для системы уведомлений работодателя.
// Новый тип пособия обязан получить явную ветку: неизвестное значение приводит к панике.
func (t BenefitType) NotificationCategory() string {
	switch t {
	case BenefitForeldrepenger:
		return "INNTEKTSMELDING_FP"
	case BenefitSvangerskapspenger:
		return "INNTEKTSMELDING_SVP"
	case BenefitPleiepengerSyktBarn:
		return "INNTEKTSMELDING_PSB"
	case BenefitPleiepengerNaerstaaende:
		return "INNTEKTSMELDING_PILS"
	case BenefitOmsorgspenger:
		return "INNTEKTSMELDING_OMP"
	case BenefitOpplaeringspenger:
		return "INNTEKTSMELDING_OPP"
	}
	panic(fmt.Sprintf("unhandled benefit type %q", string(t)))
}

// DocumentTitle возвращает название документа для архивирования и текста задачи.
// Неизвестное значение приводит к панике, как и в NotificationCategory.
func (t BenefitType) DocumentTitle() string {
	switch t {
	case BenefitForeldrepenger:
		return "Inntektsmelding foreldrepenger"
	case BenefitSvangerskapspenger:
		return "Inntektsmelding svangerskapspenger"
	case BenefitPleiepengerSyktBarn:
		return "Inntektsmelding pleiepenger sykt barn"
	case BenefitPleiepengerNaerstaaende:
		return "Inntektsmelding pleiepenger i livets sluttfase"
	case BenefitOmsorgspenger:
		return "Inntektsmelding omsorgspenger"
	case BenefitOpplaeringspenger:
		return "Inntektsmelding opplæringspenger"
	}
	panic(fmt.Sprintf("unhandled benefit type %q", string(t)))
}

// RequestStatus описывает статус обработки запроса на inntektsmelding.
type RequestStatus string

const (
	RequestStatusUnderProcessing RequestStatus = "UNDER_PROCESSING"
	RequestStatusDone            RequestStatus = "DONE"
	RequestStatusExpired         RequestStatus = "EXPIRED"
)

// LapsedBenefitType описывает тип натуральной льготы (naturalytelse).
type LapsedBenefitType string

const (
	LapsedBenefitElectronicCommunication LapsedBenefitType = "ELEKTRONISK_KOMMUNIKASJON"
	LapsedBenefitCar                     LapsedBenefitType = "BIL"
	LapsedBenefitHousing                 LapsedBenefitType = "BOLIG"
	LapsedBenefitBoard                   LapsedBenefitType = "KOST_DOEGN"
	LapsedBenefitLodging                 LapsedBenefitType = "LOSJI"
	LapsedBenefitLoanBenefit             LapsedBenefitType = "RENTEFORDEL_LAAN"
	LapsedBenefitFreeTransport           LapsedBenefitType = "FRI_TRANSPORT"
	LapsedBenefitOther                   LapsedBenefitType = "ANNET"
)

// LapsedBenefitTypes перечисляет все поддерживаемые типы натуральных льгот.
var LapsedBenefitTypes = []LapsedBenefitType{
	LapsedBenefitElectronicCommunication,
	LapsedBenefitCar,
	LapsedBenefitHousing,
	LapsedBenefitBoard,
	LapsedBenefitLodging,
	LapsedBenefitLoanBenefit,
	LapsedBenefitFreeTransport,
	LapsedBenefitOther,
}

// ParseLapsedBenefitType преобразует строковое значение в LapsedBenefitType.
func ParseLapsedBenefitType(s string) (LapsedBenefitType, error) {
	for _, t := range LapsedBenefitTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown lapsed benefit type %q", s)
}
