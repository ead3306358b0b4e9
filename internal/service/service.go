// Package service реализует бизнес-логику жизненного цикла запросов на inntektsmelding.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/inntektsmelding-service/internal/archive"
	"github.com/mmeshcher/inntektsmelding-service/internal/metrics"
	"github.com/mmeshcher/inntektsmelding-service/internal/model"
	"github.com/mmeshcher/inntektsmelding-service/internal/person"
	"github.com/mmeshcher/inntektsmelding-service/internal/repository"
)

// ErrStateMismatch возвращается, когда отправленный inntektsmelding не
// соответствует запросу, который он должен закрыть. Запрос остаётся без изменений.
var (
	ErrStateMismatch = errors.New("submission does not match request")
	// ErrMissingContactPerson возвращается, если работодатель не указал контактное лицо.
	ErrMissingContactPerson = errors.New("contact person is required")
	// ErrMissingExternalRefs возвращается при завершении запроса без сохранённых внешних идентификаторов.
	ErrMissingExternalRefs = errors.New("request has no external references")
	// ErrChannelNotAllowed возвращается, если канал вызова не имеет права на операцию.
	ErrChannelNotAllowed = errors.New("caller channel not allowed")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateRequest(ctx context.Context, req *model.Request) (int64, error)
	GetRequestByPublicID(ctx context.Context, publicID uuid.UUID) (*model.Request, error)
	FindOpenRequest(ctx context.Context, claimantID string, benefitType model.BenefitType, employerID string, effectiveDate time.Time) (*model.Request, error)
	GetRequestsByCaseNumber(ctx context.Context, caseNumber string) ([]model.Request, error)
	GetRequestsByExternalCaseID(ctx context.Context, externalCaseID string) ([]model.Request, error)
	SetExternalCaseID(ctx context.Context, publicID uuid.UUID, externalCaseID string) error
	SetExternalTaskID(ctx context.Context, publicID uuid.UUID, externalTaskID string) error
	SetStatusByExternalCaseID(ctx context.Context, externalCaseID string, status model.RequestStatus) (int64, error)
	SaveIncomeStatement(ctx context.Context, statement *model.IncomeStatement) (int64, error)
	GetIncomeStatement(ctx context.Context, id int64) (*model.IncomeStatement, error)
	EnqueueArchiveJob(ctx context.Context, incomeStatementID int64) error
	NextPendingArchiveJobs(ctx context.Context, limit int) ([]repository.ArchiveJob, error)
	MarkArchiveJobDone(ctx context.Context, jobID int64) error
	MarkArchiveJobFailed(ctx context.Context, jobID int64, cause string) error
}

// Notifier описывает контракт системы уведомлений работодателей.
type Notifier interface {
	OpenCase(ctx context.Context, groupingID, category, employerID, title, link string) (string, error)
	OpenTask(ctx context.Context, groupingID, category, externalID, employerID, text, link string) (string, error)
	CloseTask(ctx context.Context, taskID string, when time.Time) error
	CloseCase(ctx context.Context, caseID string) error
}

// PersonDirectory описывает контракт реестра персон.
type PersonDirectory interface {
	InfoFor(ctx context.Context, claimantID, benefitType string) (*person.Info, error)
}

// Archiver описывает контракт архива документов.
type Archiver interface {
	Submit(ctx context.Context, incomeStatementID int64, doc archive.Document) error
}

const taskText = "NAV trenger inntektsmelding for å kunne behandle saken til din ansatt"

// Service содержит бизнес-логику жизненного цикла запросов и приёма inntektsmelding.
type Service struct {
	repo          Repository
	notifier      Notifier
	persons       PersonDirectory
	archiver      Archiver
	metrics       *metrics.Metrics
	logger        *zap.Logger
	schemaBaseURL string

	archiveRetryBase time.Duration
}

// NewService создаёт сервис с указанными коллабораторами.
func NewService(repo Repository, notifier Notifier, persons PersonDirectory, archiver Archiver, m *metrics.Metrics, logger *zap.Logger, schemaBaseURL string) *Service {
	return &Service{
		repo:          repo,
		notifier:      notifier,
		persons:       persons,
		archiver:      archiver,
		metrics:       m,
		logger:        logger,
		schemaBaseURL: schemaBaseURL,

		archiveRetryBase: archiveRetryBase,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Channel описывает канал, через который выполняется вызов.
type Channel string

const (
	// ChannelEmployer — внешний канал: работодатель через диалоговую форму.
	ChannelEmployer Channel = "EMPLOYER"
	// ChannelSystem — внутренний канал: кейсовая система.
	ChannelSystem Channel = "SYSTEM"
)

// CallerIdentity содержит явную идентичность вызывающего. Передаётся параметром,
// а не извлекается из окружения.
type CallerIdentity struct {
	Ident   string
	Channel Channel
}

// IncomingRequest содержит данные запроса кейсовой системы на inntektsmelding.
type IncomingRequest struct {
	ClaimantID    string
	EmployerID    string
	BenefitType   model.BenefitType
	EffectiveDate time.Time
	CaseNumber    string
}

// HandleIncomingRequest обрабатывает запрос кейсовой системы. Если по субъекту
// уже есть открытый запрос, возвращает его публичный идентификатор без побочных
// эффектов: повторные вызовы не создают дубликатов запросов и внешних уведомлений.
func (s *Service) HandleIncomingRequest(ctx context.Context, in IncomingRequest) (uuid.UUID, bool, error) {
	existing, err := s.repo.FindOpenRequest(ctx, in.ClaimantID, in.BenefitType, in.EmployerID, in.EffectiveDate)
	if err == nil {
		return existing.PublicID, false, nil
	}
	if !errors.Is(err, repository.ErrRequestNotFound) {
		return uuid.Nil, false, err
	}

	req := model.NewRequest(in.ClaimantID, in.EmployerID, in.BenefitType, in.EffectiveDate, in.CaseNumber)
	if _, err := s.repo.CreateRequest(ctx, req); err != nil {
		return uuid.Nil, false, err
	}

	// Сбой между созданием запроса и сохранением внешних идентификаторов оставляет
	// запрос без них. Это восстановимо повторным опросом состояния, отката нет.
	if err := s.registerNotification(ctx, req); err != nil {
		return uuid.Nil, false, err
	}

	s.metrics.ObserveRequestCreated(in.BenefitType)
	s.logger.Info("request created",
		zap.String("publicID", req.PublicID.String()),
		zap.String("ytelse", in.BenefitType.String()),
		zap.String("caseNumber", in.CaseNumber))

	return req.PublicID, true, nil
}

func (s *Service) registerNotification(ctx context.Context, req *model.Request) error {
	info, err := s.persons.InfoFor(ctx, req.ClaimantID, req.BenefitType.String())
	if err != nil {
		return fmt.Errorf("person lookup: %w", err)
	}

	category := req.BenefitType.NotificationCategory()
	link := s.schemaBaseURL + "/" + req.PublicID.String()
	title := caseTitle(info)

	caseID, err := s.notifier.OpenCase(ctx, req.PublicID.String(), category, req.EmployerID, title, link)
	if err != nil {
		return err
	}
	if err := s.repo.SetExternalCaseID(ctx, req.PublicID, caseID); err != nil {
		return err
	}

	taskID, err := s.notifier.OpenTask(ctx, req.PublicID.String(), category, req.PublicID.String(), req.EmployerID, taskText, link)
	if err != nil {
		return err
	}
	if err := s.repo.SetExternalTaskID(ctx, req.PublicID, taskID); err != nil {
		return err
	}

	return nil
}

func caseTitle(info *person.Info) string {
	return fmt.Sprintf("Inntektsmelding for %s: f. %s", info.FullName(), info.BirthDate.Format("020106"))
}

// RefundPeriodInput описывает период возмещения из заявки. Nil в To означает открытый период.
type RefundPeriodInput struct {
	From           time.Time
	To             *time.Time
	AmountPerMonth decimal.Decimal
}

// LapsedBenefitInput описывает натуральную льготу из заявки.
type LapsedBenefitInput struct {
	From     time.Time
	To       *time.Time
	Type     model.LapsedBenefitType
	IsLapsed bool
	Amount   decimal.Decimal
}

// Submission содержит полный inntektsmelding, отправленный работодателем.
type Submission struct {
	RequestID      uuid.UUID
	ClaimantID     string
	EmployerID     string
	BenefitType    model.BenefitType
	StartDate      time.Time
	MonthlyIncome  decimal.Decimal
	ContactPerson  *model.ContactPerson
	RefundPeriods  []RefundPeriodInput
	LapsedBenefits []LapsedBenefitInput
}

func buildStatement(sub Submission) (*model.IncomeStatement, error) {
	statement, err := model.NewIncomeStatement(sub.ClaimantID, sub.BenefitType, sub.EmployerID, sub.StartDate, sub.MonthlyIncome, sub.ContactPerson)
	if err != nil {
		return nil, err
	}

	for _, in := range sub.RefundPeriods {
		p, err := buildPeriod(in.From, in.To)
		if err != nil {
			return nil, err
		}
		if err := statement.AddRefundPeriod(p, in.AmountPerMonth); err != nil {
			return nil, err
		}
	}

	for _, in := range sub.LapsedBenefits {
		p, err := buildPeriod(in.From, in.To)
		if err != nil {
			return nil, err
		}
		entry := model.LapsedBenefit{Period: p, Type: in.Type, IsLapsed: in.IsLapsed, Amount: in.Amount}
		if err := statement.AddLapsedBenefit(entry); err != nil {
			return nil, err
		}
	}

	return statement, nil
}

func buildPeriod(from time.Time, to *time.Time) (model.Period, error) {
	if to == nil {
		return model.PeriodFrom(from)
	}
	return model.NewPeriod(from, *to)
}

// SubmitIncomeStatement принимает inntektsmelding работодателя и завершает
// соответствующий запрос. Агрегат сохраняется и ставится в очередь архивирования
// до проверки запроса; переход запроса в DONE — последний шаг.
func (s *Service) SubmitIncomeStatement(ctx context.Context, caller CallerIdentity, sub Submission) (int64, error) {
	if sub.ContactPerson == nil {
		return 0, ErrMissingContactPerson
	}

	statement, err := buildStatement(sub)
	if err != nil {
		return 0, err
	}

	id, err := s.repo.SaveIncomeStatement(ctx, statement)
	if err != nil {
		return 0, err
	}
	if err := s.repo.EnqueueArchiveJob(ctx, id); err != nil {
		return 0, err
	}
	s.metrics.ObserveStatementReceived(statement)

	if err := s.finalizeRequest(ctx, sub); err != nil {
		if errors.Is(err, ErrStateMismatch) {
			// Известное окно несогласованности: inntektsmelding уже сохранён,
			// а запрос не прошёл проверку и остался открытым.
			s.logger.Warn("stored income statement does not match request",
				zap.Int64("incomeStatementID", id),
				zap.String("requestID", sub.RequestID.String()),
				zap.String("caller", caller.Ident))
		}
		return 0, err
	}

	s.logger.Info("income statement received",
		zap.Int64("incomeStatementID", id),
		zap.String("requestID", sub.RequestID.String()),
		zap.String("channel", string(caller.Channel)))

	return id, nil
}

func (s *Service) finalizeRequest(ctx context.Context, sub Submission) error {
	req, err := s.repo.GetRequestByPublicID(ctx, sub.RequestID)
	if err != nil {
		return err
	}

	if req.ClaimantID != sub.ClaimantID {
		return fmt.Errorf("%w: claimant", ErrStateMismatch)
	}
	if req.EmployerID != sub.EmployerID {
		return fmt.Errorf("%w: employer", ErrStateMismatch)
	}
	if !req.EffectiveDate.Equal(sub.StartDate) {
		return fmt.Errorf("%w: start date", ErrStateMismatch)
	}

	if req.ExternalTaskID == nil || req.ExternalCaseID == nil {
		return fmt.Errorf("%w: request %s", ErrMissingExternalRefs, req.PublicID)
	}

	if err := s.notifier.CloseTask(ctx, *req.ExternalTaskID, time.Now()); err != nil {
		return err
	}
	if err := s.notifier.CloseCase(ctx, *req.ExternalCaseID); err != nil {
		return err
	}

	if _, err := s.repo.SetStatusByExternalCaseID(ctx, *req.ExternalCaseID, model.RequestStatusDone); err != nil {
		return err
	}

	return nil
}

// SubmitOverrideStatement принимает inntektsmelding от кейсовой системы в обход
// диалога работодателя. Контактное лицо необязательно, запрос не завершается.
func (s *Service) SubmitOverrideStatement(ctx context.Context, caller CallerIdentity, sub Submission) (int64, error) {
	if caller.Channel != ChannelSystem {
		return 0, fmt.Errorf("%w: %s", ErrChannelNotAllowed, caller.Channel)
	}

	statement, err := buildStatement(sub)
	if err != nil {
		return 0, err
	}

	id, err := s.repo.SaveIncomeStatement(ctx, statement)
	if err != nil {
		return 0, err
	}
	if err := s.repo.EnqueueArchiveJob(ctx, id); err != nil {
		return 0, err
	}
	s.metrics.ObserveStatementReceived(statement)

	s.logger.Info("override income statement received",
		zap.Int64("incomeStatementID", id),
		zap.String("caller", caller.Ident))

	return id, nil
}

// ExpireByExternalCase переводит в EXPIRED все запросы внешнего дела, ещё
// находящиеся в обработке. Используется, когда система уведомлений сообщает о
// закрытии дела без отправки inntektsmelding. Возвращает число затронутых запросов.
func (s *Service) ExpireByExternalCase(ctx context.Context, externalCaseID string) (int64, error) {
	requests, err := s.repo.GetRequestsByExternalCaseID(ctx, externalCaseID)
	if err != nil {
		return 0, err
	}

	affected, err := s.repo.SetStatusByExternalCaseID(ctx, externalCaseID, model.RequestStatusExpired)
	if err != nil {
		return 0, err
	}

	if affected > 0 && len(requests) > 0 {
		s.metrics.ObserveRequestsExpired(requests[0].BenefitType, affected)
	}

	s.logger.Info("requests expired",
		zap.String("externalCaseID", externalCaseID),
		zap.Int64("affected", affected))

	return affected, nil
}

// DialogData содержит данные для диалоговой формы работодателя.
type DialogData struct {
	Request *model.Request
	Person  *person.Info
}

// GetDialogData возвращает данные запроса и заявителя для формы работодателя.
func (s *Service) GetDialogData(ctx context.Context, publicID uuid.UUID) (*DialogData, error) {
	req, err := s.repo.GetRequestByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	info, err := s.persons.InfoFor(ctx, req.ClaimantID, req.BenefitType.String())
	if err != nil {
		return nil, fmt.Errorf("person lookup: %w", err)
	}

	return &DialogData{Request: req, Person: info}, nil
}

// GetRequestsByCaseNumber возвращает запросы по номеру дела кейсовой системы.
func (s *Service) GetRequestsByCaseNumber(ctx context.Context, caseNumber string) ([]model.Request, error) {
	return s.repo.GetRequestsByCaseNumber(ctx, caseNumber)
}
