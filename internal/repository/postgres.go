// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/inntektsmelding-service/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRequestNotFound возвращается, если запрос не найден.
var (
	ErrRequestNotFound = errors.New("request not found")
	// ErrIncomeStatementNotFound возвращается, если inntektsmelding не найден.
	ErrIncomeStatementNotFound = errors.New("income statement not found")
	// ErrTooManyOpenRequests возвращается, если по одному субъекту открыто более одного запроса.
	ErrTooManyOpenRequests = errors.New("expected at most one open request for subject")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateRequest сохраняет новый запрос и возвращает его суррогатный идентификатор.
func (r *PostgresRepository) CreateRequest(ctx context.Context, req *model.Request) (int64, error) {
	var id int64
	var createdAt time.Time
	err := r.pool.QueryRow(ctx,
		`INSERT INTO requests (public_id, claimant_id, employer_id, benefit_type, effective_date, case_number, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		req.PublicID, req.ClaimantID, req.EmployerID, string(req.BenefitType), req.EffectiveDate, req.CaseNumber, string(req.Status),
	).Scan(&id, &createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert request: %w", err)
	}

	req.ID = id
	req.CreatedAt = createdAt
	return id, nil
}

const requestColumns = `id, public_id, claimant_id, employer_id, benefit_type, effective_date, case_number, status, external_case_id, external_task_id, created_at`

func scanRequest(row pgx.Row) (*model.Request, error) {
	var req model.Request
	var benefitType, status string
	err := row.Scan(&req.ID, &req.PublicID, &req.ClaimantID, &req.EmployerID, &benefitType, &req.EffectiveDate,
		&req.CaseNumber, &status, &req.ExternalCaseID, &req.ExternalTaskID, &req.CreatedAt)
	if err != nil {
		return nil, err
	}
	req.BenefitType = model.BenefitType(benefitType)
	req.Status = model.RequestStatus(status)
	return &req, nil
}

// GetRequestByPublicID возвращает запрос по публичному идентификатору.
func (r *PostgresRepository) GetRequestByPublicID(ctx context.Context, publicID uuid.UUID) (*model.Request, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE public_id = $1`,
		publicID,
	)

	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get request: %w", err)
	}

	return req, nil
}

// FindOpenRequest ищет открытый запрос по субъекту (заявитель, тип пособия,
// работодатель, дата начала). Возвращает ErrRequestNotFound, если такого запроса нет,
// и ErrTooManyOpenRequests, если найдено больше одного.
func (r *PostgresRepository) FindOpenRequest(ctx context.Context, claimantID string, benefitType model.BenefitType, employerID string, effectiveDate time.Time) (*model.Request, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+`
		 FROM requests
		 WHERE status = $1 AND claimant_id = $2 AND benefit_type = $3 AND employer_id = $4 AND effective_date = $5`,
		string(model.RequestStatusUnderProcessing), claimantID, string(benefitType), employerID, effectiveDate,
	)
	if err != nil {
		return nil, fmt.Errorf("select open request: %w", err)
	}
	defer rows.Close()

	var found *model.Request
	for rows.Next() {
		if found != nil {
			return nil, fmt.Errorf("%w: claimant %s, employer %s", ErrTooManyOpenRequests, claimantID, employerID)
		}
		found, err = scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan open request: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if found == nil {
		return nil, ErrRequestNotFound
	}

	return found, nil
}

// GetRequestsByCaseNumber возвращает все запросы по номеру дела кейсовой системы.
func (r *PostgresRepository) GetRequestsByCaseNumber(ctx context.Context, caseNumber string) ([]model.Request, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE case_number = $1 ORDER BY created_at`,
		caseNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("select requests by case number: %w", err)
	}
	defer rows.Close()

	var res []model.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		res = append(res, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetRequestsByExternalCaseID возвращает все запросы, привязанные к внешнему делу.
func (r *PostgresRepository) GetRequestsByExternalCaseID(ctx context.Context, externalCaseID string) ([]model.Request, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE external_case_id = $1 ORDER BY created_at`,
		externalCaseID,
	)
	if err != nil {
		return nil, fmt.Errorf("select requests by external case: %w", err)
	}
	defer rows.Close()

	var res []model.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		res = append(res, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SetExternalCaseID сохраняет идентификатор внешнего дела, возвращённый системой уведомлений.
func (r *PostgresRepository) SetExternalCaseID(ctx context.Context, publicID uuid.UUID, externalCaseID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE requests SET external_case_id = $2 WHERE public_id = $1`,
		publicID, externalCaseID,
	)
	if err != nil {
		return fmt.Errorf("set external case id: %w", err)
	}
	return nil
}

// SetExternalTaskID сохраняет идентификатор внешней задачи работодателя.
func (r *PostgresRepository) SetExternalTaskID(ctx context.Context, publicID uuid.UUID, externalTaskID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE requests SET external_task_id = $2 WHERE public_id = $1`,
		publicID, externalTaskID,
	)
	if err != nil {
		return fmt.Errorf("set external task id: %w", err)
	}
	return nil
}

// SetStatusByExternalCaseID переводит в указанный статус все запросы с данным
// внешним делом, которые ещё находятся в обработке. Возвращает число обновлённых запросов.
func (r *PostgresRepository) SetStatusByExternalCaseID(ctx context.Context, externalCaseID string, status model.RequestStatus) (int64, error) {
	var affected int64
	err := r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE requests SET status = $2 WHERE external_case_id = $1 AND status = $3`,
			externalCaseID, string(status), string(model.RequestStatusUnderProcessing),
		)
		if err != nil {
			return fmt.Errorf("bulk set status: %w", err)
		}
		affected = cmdTag.RowsAffected()
		return nil
	})
	return affected, err
}

// SaveIncomeStatement сохраняет inntektsmelding вместе с дочерними записями в одной транзакции.
func (r *PostgresRepository) SaveIncomeStatement(ctx context.Context, statement *model.IncomeStatement) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var contactName, contactPhone *string
	if statement.ContactPerson != nil {
		contactName = &statement.ContactPerson.Name
		contactPhone = &statement.ContactPerson.PhoneNumber
	}

	var id int64
	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO income_statements (claimant_id, benefit_type, employer_id, start_date, monthly_income, contact_name, contact_phone)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		statement.ClaimantID, string(statement.BenefitType), statement.EmployerID, statement.StartDate,
		statement.MonthlyIncome.String(), contactName, contactPhone,
	).Scan(&id, &createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert income statement: %w", err)
	}

	for i, rp := range statement.RefundPeriods {
		_, err = tx.Exec(ctx,
			`INSERT INTO refund_periods (income_statement_id, fom, tom, amount_per_month, position)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, rp.Period.From, rp.Period.To, rp.AmountPerMonth.String(), i,
		)
		if err != nil {
			return 0, fmt.Errorf("insert refund period: %w", err)
		}
	}

	for i, lb := range statement.LapsedBenefits {
		_, err = tx.Exec(ctx,
			`INSERT INTO lapsed_benefits (income_statement_id, fom, tom, benefit_type, is_lapsed, amount, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, lb.Period.From, lb.Period.To, string(lb.Type), lb.IsLapsed, lb.Amount.String(), i,
		)
		if err != nil {
			return 0, fmt.Errorf("insert lapsed benefit: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	statement.ID = id
	statement.CreatedAt = createdAt
	return id, nil
}

// GetIncomeStatement возвращает inntektsmelding с дочерними записями в порядке вставки.
func (r *PostgresRepository) GetIncomeStatement(ctx context.Context, id int64) (*model.IncomeStatement, error) {
	var statement model.IncomeStatement
	var benefitType, monthlyIncome string
	var contactName, contactPhone *string

	err := r.pool.QueryRow(ctx,
		`SELECT id, claimant_id, benefit_type, employer_id, start_date, monthly_income::text, contact_name, contact_phone, created_at
		 FROM income_statements WHERE id = $1`,
		id,
	).Scan(&statement.ID, &statement.ClaimantID, &benefitType, &statement.EmployerID, &statement.StartDate,
		&monthlyIncome, &contactName, &contactPhone, &statement.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIncomeStatementNotFound
		}
		return nil, fmt.Errorf("get income statement: %w", err)
	}

	statement.BenefitType = model.BenefitType(benefitType)
	statement.MonthlyIncome, err = decimal.NewFromString(monthlyIncome)
	if err != nil {
		return nil, fmt.Errorf("parse monthly income: %w", err)
	}
	if contactName != nil && contactPhone != nil {
		statement.ContactPerson = &model.ContactPerson{Name: *contactName, PhoneNumber: *contactPhone}
	}

	if err := r.loadRefundPeriods(ctx, &statement); err != nil {
		return nil, err
	}
	if err := r.loadLapsedBenefits(ctx, &statement); err != nil {
		return nil, err
	}

	return &statement, nil
}

func (r *PostgresRepository) loadRefundPeriods(ctx context.Context, statement *model.IncomeStatement) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, fom, tom, amount_per_month::text
		 FROM refund_periods
		 WHERE income_statement_id = $1
		 ORDER BY position`,
		statement.ID,
	)
	if err != nil {
		return fmt.Errorf("select refund periods: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rp model.RefundPeriod
		var amount string
		if err := rows.Scan(&rp.ID, &rp.Period.From, &rp.Period.To, &amount); err != nil {
			return fmt.Errorf("scan refund period: %w", err)
		}
		rp.AmountPerMonth, err = decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("parse refund amount: %w", err)
		}
		statement.RefundPeriods = append(statement.RefundPeriods, rp)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) loadLapsedBenefits(ctx context.Context, statement *model.IncomeStatement) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, fom, tom, benefit_type, is_lapsed, amount::text
		 FROM lapsed_benefits
		 WHERE income_statement_id = $1
		 ORDER BY position`,
		statement.ID,
	)
	if err != nil {
		return fmt.Errorf("select lapsed benefits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lb model.LapsedBenefit
		var typ, amount string
		if err := rows.Scan(&lb.ID, &lb.Period.From, &lb.Period.To, &typ, &lb.IsLapsed, &amount); err != nil {
			return fmt.Errorf("scan lapsed benefit: %w", err)
		}
		lb.Type = model.LapsedBenefitType(typ)
		lb.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("parse lapsed benefit amount: %w", err)
		}
		statement.LapsedBenefits = append(statement.LapsedBenefits, lb)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

// ArchiveJob описывает задание на архивирование inntektsmelding.
type ArchiveJob struct {
	ID                int64
	IncomeStatementID int64
	Attempts          int
}

// EnqueueArchiveJob ставит в очередь задание на архивирование.
func (r *PostgresRepository) EnqueueArchiveJob(ctx context.Context, incomeStatementID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO archive_jobs (income_statement_id) VALUES ($1)`,
		incomeStatementID,
	)
	if err != nil {
		return fmt.Errorf("enqueue archive job: %w", err)
	}
	return nil
}

// NextPendingArchiveJobs возвращает задания на архивирование, ожидающие обработки.
func (r *PostgresRepository) NextPendingArchiveJobs(ctx context.Context, limit int) ([]ArchiveJob, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, income_statement_id, attempts
		 FROM archive_jobs
		 WHERE status = 'PENDING'
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select archive jobs: %w", err)
	}
	defer rows.Close()

	var res []ArchiveJob
	for rows.Next() {
		var job ArchiveJob
		if err := rows.Scan(&job.ID, &job.IncomeStatementID, &job.Attempts); err != nil {
			return nil, fmt.Errorf("scan archive job: %w", err)
		}
		res = append(res, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkArchiveJobDone помечает задание выполненным.
func (r *PostgresRepository) MarkArchiveJobDone(ctx context.Context, jobID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE archive_jobs SET status = 'DONE', updated_at = now() WHERE id = $1`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("mark archive job done: %w", err)
	}
	return nil
}

// MarkArchiveJobFailed увеличивает счётчик попыток и сохраняет текст последней ошибки.
// Задание остаётся в очереди: доставка в архив — at-least-once.
func (r *PostgresRepository) MarkArchiveJobFailed(ctx context.Context, jobID int64, cause string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE archive_jobs SET attempts = attempts + 1, last_error = $2, updated_at = now() WHERE id = $1`,
		jobID, cause,
	)
	if err != nil {
		return fmt.Errorf("mark archive job failed: %w", err)
	}
	return nil
}
