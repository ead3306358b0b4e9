package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/inntektsmelding-service/internal/archive"
	"github.com/mmeshcher/inntektsmelding-service/internal/metrics"
	"github.com/mmeshcher/inntektsmelding-service/internal/model"
	"github.com/mmeshcher/inntektsmelding-service/internal/person"
	"github.com/mmeshcher/inntektsmelding-service/internal/repository"
)

type fakeRepo struct {
	requests    []*model.Request
	statements  []*model.IncomeStatement
	archiveJobs []repository.ArchiveJob
	doneJobs    []int64
	failedJobs  []int64
	nextID      int64
}

func (f *fakeRepo) Close() error { return nil }

func (f *fakeRepo) CreateRequest(ctx context.Context, req *model.Request) (int64, error) {
	f.nextID++
	req.ID = f.nextID
	req.CreatedAt = time.Now()
	f.requests = append(f.requests, req)
	return req.ID, nil
}

func (f *fakeRepo) GetRequestByPublicID(ctx context.Context, publicID uuid.UUID) (*model.Request, error) {
	for _, r := range f.requests {
		if r.PublicID == publicID {
			return r, nil
		}
	}
	return nil, repository.ErrRequestNotFound
}

func (f *fakeRepo) FindOpenRequest(ctx context.Context, claimantID string, benefitType model.BenefitType, employerID string, effectiveDate time.Time) (*model.Request, error) {
	for _, r := range f.requests {
		if r.IsOpen() && r.ClaimantID == claimantID && r.BenefitType == benefitType && r.EmployerID == employerID && r.EffectiveDate.Equal(effectiveDate) {
			return r, nil
		}
	}
	return nil, repository.ErrRequestNotFound
}

func (f *fakeRepo) GetRequestsByCaseNumber(ctx context.Context, caseNumber string) ([]model.Request, error) {
	var res []model.Request
	for _, r := range f.requests {
		if r.CaseNumber == caseNumber {
			res = append(res, *r)
		}
	}
	return res, nil
}

func (f *fakeRepo) GetRequestsByExternalCaseID(ctx context.Context, externalCaseID string) ([]model.Request, error) {
	var res []model.Request
	for _, r := range f.requests {
		if r.ExternalCaseID != nil && *r.ExternalCaseID == externalCaseID {
			res = append(res, *r)
		}
	}
	return res, nil
}

func (f *fakeRepo) SetExternalCaseID(ctx context.Context, publicID uuid.UUID, externalCaseID string) error {
	for _, r := range f.requests {
		if r.PublicID == publicID {
			r.ExternalCaseID = &externalCaseID
		}
	}
	return nil
}

func (f *fakeRepo) SetExternalTaskID(ctx context.Context, publicID uuid.UUID, externalTaskID string) error {
	for _, r := range f.requests {
		if r.PublicID == publicID {
			r.ExternalTaskID = &externalTaskID
		}
	}
	return nil
}

func (f *fakeRepo) SetStatusByExternalCaseID(ctx context.Context, externalCaseID string, status model.RequestStatus) (int64, error) {
	var affected int64
	for _, r := range f.requests {
		if r.ExternalCaseID != nil && *r.ExternalCaseID == externalCaseID && r.IsOpen() {
			r.Status = status
			affected++
		}
	}
	return affected, nil
}

func (f *fakeRepo) SaveIncomeStatement(ctx context.Context, statement *model.IncomeStatement) (int64, error) {
	f.nextID++
	statement.ID = f.nextID
	statement.CreatedAt = time.Now()
	f.statements = append(f.statements, statement)
	return statement.ID, nil
}

func (f *fakeRepo) GetIncomeStatement(ctx context.Context, id int64) (*model.IncomeStatement, error) {
	for _, s := range f.statements {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, repository.ErrIncomeStatementNotFound
}

func (f *fakeRepo) EnqueueArchiveJob(ctx context.Context, incomeStatementID int64) error {
	f.nextID++
	f.archiveJobs = append(f.archiveJobs, repository.ArchiveJob{ID: f.nextID, IncomeStatementID: incomeStatementID})
	return nil
}

func (f *fakeRepo) NextPendingArchiveJobs(ctx context.Context, limit int) ([]repository.ArchiveJob, error) {
	if len(f.archiveJobs) > limit {
		return f.archiveJobs[:limit], nil
	}
	return f.archiveJobs, nil
}

func (f *fakeRepo) MarkArchiveJobDone(ctx context.Context, jobID int64) error {
	f.doneJobs = append(f.doneJobs, jobID)
	return nil
}

func (f *fakeRepo) MarkArchiveJobFailed(ctx context.Context, jobID int64, cause string) error {
	f.failedJobs = append(f.failedJobs, jobID)
	return nil
}

type fakeNotifier struct {
	openCaseCalls int
	openTaskCalls int
	closedTasks   []string
	closedCases   []string
}

func (f *fakeNotifier) OpenCase(ctx context.Context, groupingID, category, employerID, title, link string) (string, error) {
	f.openCaseCalls++
	return fmt.Sprintf("sak-%d", f.openCaseCalls), nil
}

func (f *fakeNotifier) OpenTask(ctx context.Context, groupingID, category, externalID, employerID, text, link string) (string, error) {
	f.openTaskCalls++
	return fmt.Sprintf("oppgave-%d", f.openTaskCalls), nil
}

func (f *fakeNotifier) CloseTask(ctx context.Context, taskID string, when time.Time) error {
	f.closedTasks = append(f.closedTasks, taskID)
	return nil
}

func (f *fakeNotifier) CloseCase(ctx context.Context, caseID string) error {
	f.closedCases = append(f.closedCases, caseID)
	return nil
}

type fakePersons struct{}

func (fakePersons) InfoFor(ctx context.Context, claimantID, benefitType string) (*person.Info, error) {
	return &person.Info{
		FirstName: "Navn",
		LastName:  "Navnesen",
		BirthDate: time.Date(1991, time.January, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

type fakeArchiver struct {
	submitted []int64
	err       error
}

func (f *fakeArchiver) Submit(ctx context.Context, incomeStatementID int64, doc archive.Document) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, incomeStatementID)
	return nil
}

func newTestService(repo *fakeRepo, notifier *fakeNotifier, archiver Archiver) *Service {
	return NewService(repo, notifier, fakePersons{}, archiver, metrics.New(prometheus.NewRegistry()), zap.NewNop(), "https://example.test/im-dialog")
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var incoming = IncomingRequest{
	ClaimantID:    "123",
	EmployerID:    "974760673",
	BenefitType:   model.BenefitForeldrepenger,
	EffectiveDate: date(2024, time.June, 1),
	CaseNumber:    "SAK-1",
}

func TestHandleIncomingRequest_CreatesAndRegisters(t *testing.T) {
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier, nil)

	publicID, created, err := svc.HandleIncomingRequest(context.Background(), incoming)
	if err != nil {
		t.Fatalf("HandleIncomingRequest error: %v", err)
	}
	if !created {
		t.Fatalf("expected new request to be created")
	}
	if publicID == uuid.Nil {
		t.Fatalf("expected non-nil public id")
	}

	if len(repo.requests) != 1 {
		t.Fatalf("stored requests = %d, want 1", len(repo.requests))
	}
	req := repo.requests[0]
	if req.Status != model.RequestStatusUnderProcessing {
		t.Fatalf("status = %s, want UNDER_PROCESSING", req.Status)
	}
	if req.ExternalCaseID == nil || *req.ExternalCaseID != "sak-1" {
		t.Fatalf("external case id not persisted: %v", req.ExternalCaseID)
	}
	if req.ExternalTaskID == nil || *req.ExternalTaskID != "oppgave-1" {
		t.Fatalf("external task id not persisted: %v", req.ExternalTaskID)
	}
}

func TestHandleIncomingRequest_Idempotent(t *testing.T) {
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier, nil)

	firstID, created, err := svc.HandleIncomingRequest(context.Background(), incoming)
	if err != nil || !created {
		t.Fatalf("first call: created = %v, err = %v", created, err)
	}

	secondID, created, err := svc.HandleIncomingRequest(context.Background(), incoming)
	if err != nil {
		t.Fatalf("second call error: %v", err)
	}
	if created {
		t.Fatalf("second call must not create a request")
	}
	if secondID != firstID {
		t.Fatalf("second call returned %s, want existing %s", secondID, firstID)
	}

	if len(repo.requests) != 1 {
		t.Fatalf("stored requests = %d, want 1", len(repo.requests))
	}
	if notifier.openCaseCalls != 1 || notifier.openTaskCalls != 1 {
		t.Fatalf("external calls = %d/%d, want 1/1", notifier.openCaseCalls, notifier.openTaskCalls)
	}
}

func TestHandleIncomingRequest_NewRequestAfterDone(t *testing.T) {
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier, nil)

	if _, _, err := svc.HandleIncomingRequest(context.Background(), incoming); err != nil {
		t.Fatalf("first call error: %v", err)
	}
	repo.requests[0].Status = model.RequestStatusDone

	_, created, err := svc.HandleIncomingRequest(context.Background(), incoming)
	if err != nil {
		t.Fatalf("second call error: %v", err)
	}
	if !created {
		t.Fatalf("closed request must not block a new one")
	}
	if len(repo.requests) != 2 {
		t.Fatalf("stored requests = %d, want 2", len(repo.requests))
	}
}

func validSubmission(requestID uuid.UUID) Submission {
	return Submission{
		RequestID:     requestID,
		ClaimantID:    incoming.ClaimantID,
		EmployerID:    incoming.EmployerID,
		BenefitType:   incoming.BenefitType,
		StartDate:     incoming.EffectiveDate,
		MonthlyIncome: decimal.NewFromInt(52000),
		ContactPerson: &model.ContactPerson{Name: "Kontakt Person", PhoneNumber: "99999999"},
	}
}

func TestSubmitIncomeStatement_Success(t *testing.T) {
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier, nil)

	publicID, _, err := svc.HandleIncomingRequest(context.Background(), incoming)
	if err != nil {
		t.Fatalf("HandleIncomingRequest error: %v", err)
	}

	caller := CallerIdentity{Ident: "01019100000", Channel: ChannelEmployer}
	id, err := svc.SubmitIncomeStatement(context.Background(), caller, validSubmission(publicID))
	if err != nil {
		t.Fatalf("SubmitIncomeStatement error: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero statement id")
	}

	if repo.requests[0].Status != model.RequestStatusDone {
		t.Fatalf("request status = %s, want DONE", repo.requests[0].Status)
	}
	if len(notifier.closedTasks) != 1 || notifier.closedTasks[0] != "oppgave-1" {
		t.Fatalf("closed tasks = %v", notifier.closedTasks)
	}
	if len(notifier.closedCases) != 1 || notifier.closedCases[0] != "sak-1" {
		t.Fatalf("closed cases = %v", notifier.closedCases)
	}
	if len(repo.archiveJobs) != 1 {
		t.Fatalf("archive jobs = %d, want 1", len(repo.archiveJobs))
	}
}

func TestSubmitIncomeStatement_EmployerMismatch(t *testing.T) {
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier, nil)

	publicID, _, err := svc.HandleIncomingRequest(context.Background(), incoming)
	if err != nil {
		t.Fatalf("HandleIncomingRequest error: %v", err)
	}

	sub := validSubmission(publicID)
	sub.EmployerID = "123456785"

	caller := CallerIdentity{Ident: "01019100000", Channel: ChannelEmployer}
	_, err = svc.SubmitIncomeStatement(context.Background(), caller, sub)
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}

	if repo.requests[0].Status != model.RequestStatusUnderProcessing {
		t.Fatalf("request status = %s, want UNDER_PROCESSING", repo.requests[0].Status)
	}
	if len(notifier.closedTasks) != 0 || len(notifier.closedCases) != 0 {
		t.Fatalf("no external close calls expected on mismatch")
	}
	// Известное окно несогласованности: агрегат уже сохранён до проверки запроса.
	if len(repo.statements) != 1 {
		t.Fatalf("stored statements = %d, want 1", len(repo.statements))
	}
}

func TestSubmitIncomeStatement_StartDateMismatch(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(repo, &fakeNotifier{}, nil)

	publicID, _, err := svc.HandleIncomingRequest(context.Background(), incoming)
	if err != nil {
		t.Fatalf("HandleIncomingRequest error: %v", err)
	}

	sub := validSubmission(publicID)
	sub.StartDate = date(2024, time.July, 1)

	_, err = svc.SubmitIncomeStatement(context.Background(), CallerIdentity{Channel: ChannelEmployer}, sub)
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
}

func TestSubmitIncomeStatement_UnknownRequest(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(repo, &fakeNotifier{}, nil)

	_, err := svc.SubmitIncomeStatement(context.Background(), CallerIdentity{Channel: ChannelEmployer}, validSubmission(uuid.New()))
	if !errors.Is(err, repository.ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestSubmitIncomeStatement_MissingContactPerson(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(repo, &fakeNotifier{}, nil)

	sub := validSubmission(uuid.New())
	sub.ContactPerson = nil

	_, err := svc.SubmitIncomeStatement(context.Background(), CallerIdentity{Channel: ChannelEmployer}, sub)
	if !errors.Is(err, ErrMissingContactPerson) {
		t.Fatalf("expected ErrMissingContactPerson, got %v", err)
	}
	if len(repo.statements) != 0 {
		t.Fatalf("nothing must be persisted without contact person")
	}
}

func TestSubmitIncomeStatement_ConflictingRefundPeriods(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(repo, &fakeNotifier{}, nil)

	publicID, _, err := svc.HandleIncomingRequest(context.Background(), incoming)
	if err != nil {
		t.Fatalf("HandleIncomingRequest error: %v", err)
	}

	boundary := date(2024, time.January, 31)
	end := date(2024, time.February, 28)
	sub := validSubmission(publicID)
	sub.RefundPeriods = []RefundPeriodInput{
		{From: date(2024, time.January, 1), To: &boundary, AmountPerMonth: decimal.NewFromInt(10000)},
		{From: boundary, To: &end, AmountPerMonth: decimal.NewFromInt(8000)},
	}

	_, err = svc.SubmitIncomeStatement(context.Background(), CallerIdentity{Channel: ChannelEmployer}, sub)
	if !errors.Is(err, model.ErrConflictingPeriod) {
		t.Fatalf("expected ErrConflictingPeriod, got %v", err)
	}
	if len(repo.statements) != 0 {
		t.Fatalf("invalid statement must not be persisted")
	}
}

func TestSubmitOverrideStatement_ChannelGuard(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(repo, &fakeNotifier{}, nil)

	sub := validSubmission(uuid.New())
	sub.ContactPerson = nil

	_, err := svc.SubmitOverrideStatement(context.Background(), CallerIdentity{Channel: ChannelEmployer}, sub)
	if !errors.Is(err, ErrChannelNotAllowed) {
		t.Fatalf("expected ErrChannelNotAllowed, got %v", err)
	}

	id, err := svc.SubmitOverrideStatement(context.Background(), CallerIdentity{Ident: "fpsak", Channel: ChannelSystem}, sub)
	if err != nil {
		t.Fatalf("SubmitOverrideStatement error: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero statement id")
	}
	if repo.statements[0].ContactPerson != nil {
		t.Fatalf("override statement must allow missing contact person")
	}
}

func TestExpireByExternalCase(t *testing.T) {
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier, nil)

	first := incoming
	second := incoming
	second.EmployerID = "123456785"

	if _, _, err := svc.HandleIncomingRequest(context.Background(), first); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, _, err := svc.HandleIncomingRequest(context.Background(), second); err != nil {
		t.Fatalf("create second: %v", err)
	}

	// Оба запроса относим к одному внешнему делу, второй уже завершён.
	shared := "sak-shared"
	repo.requests[0].ExternalCaseID = &shared
	repo.requests[1].ExternalCaseID = &shared
	repo.requests[1].Status = model.RequestStatusDone

	affected, err := svc.ExpireByExternalCase(context.Background(), shared)
	if err != nil {
		t.Fatalf("ExpireByExternalCase error: %v", err)
	}
	if affected != 1 {
		t.Fatalf("affected = %d, want 1", affected)
	}
	if repo.requests[0].Status != model.RequestStatusExpired {
		t.Fatalf("open request status = %s, want EXPIRED", repo.requests[0].Status)
	}
	if repo.requests[1].Status != model.RequestStatusDone {
		t.Fatalf("done request must stay DONE, got %s", repo.requests[1].Status)
	}
}

func TestProcessArchiveBatch(t *testing.T) {
	repo := &fakeRepo{}
	archiver := &fakeArchiver{}
	svc := newTestService(repo, &fakeNotifier{}, archiver)

	sub := validSubmission(uuid.New())
	id, err := svc.SubmitOverrideStatement(context.Background(), CallerIdentity{Ident: "fpsak", Channel: ChannelSystem}, sub)
	if err != nil {
		t.Fatalf("SubmitOverrideStatement error: %v", err)
	}

	svc.processArchiveBatch(context.Background())

	if len(archiver.submitted) != 1 || archiver.submitted[0] != id {
		t.Fatalf("submitted = %v, want [%d]", archiver.submitted, id)
	}
	if len(repo.doneJobs) != 1 {
		t.Fatalf("done jobs = %d, want 1", len(repo.doneJobs))
	}
}

func TestProcessArchiveBatch_FailureKeepsJob(t *testing.T) {
	repo := &fakeRepo{}
	archiver := &fakeArchiver{err: errors.New("archive unavailable")}
	svc := newTestService(repo, &fakeNotifier{}, archiver)
	svc.archiveRetryBase = time.Millisecond

	sub := validSubmission(uuid.New())
	if _, err := svc.SubmitOverrideStatement(context.Background(), CallerIdentity{Ident: "fpsak", Channel: ChannelSystem}, sub); err != nil {
		t.Fatalf("SubmitOverrideStatement error: %v", err)
	}

	svc.processArchiveBatch(context.Background())

	if len(repo.doneJobs) != 0 {
		t.Fatalf("failed job must not be marked done")
	}
	if len(repo.failedJobs) != 1 {
		t.Fatalf("failed jobs = %d, want 1", len(repo.failedJobs))
	}
}

func TestStartArchiveWorker_NoArchiver(t *testing.T) {
	svc := newTestService(&fakeRepo{}, &fakeNotifier{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.StartArchiveWorker(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("StartArchiveWorker did not return without archiver")
	}
}
