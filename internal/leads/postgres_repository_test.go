package leads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var leadRowColumns = []string{
	"id", "source", "type", "status", "name", "email", "phone", "message",
	"monthly_income", "credit_score_band", "employer", "job_title", "time_at_job", "vehicle_of_interest",
	"ai_score", "ai_summary", "assigned_agent", "loss_reason", "sale_id", "amount", "created_at", "updated_at",
}

func TestPostgresRepositoryCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)
	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO leads").
		WithArgs(pgxmock.AnyArg(), "web", "finance", "new", "Luis", "luis@example.com", "+5215551234",
			"hola", "4000", "fair", "", "", "", "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	lead, err := repo.Create(context.Background(), &CreateLeadRequest{
		Name:              "Luis",
		Email:             "Luis@Example.com",
		Phone:             "+52 1 555 1234",
		Message:           "hola",
		Type:              TypeFinance,
		ScoringAttributes: ScoringAttributes{MonthlyIncome: "4000", CreditScoreBand: "fair"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if lead.ID == "" || !lead.CreatedAt.Equal(now) {
		t.Fatalf("unexpected lead %+v", lead)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepositoryGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)
	mock.ExpectQuery("SELECT .* FROM leads WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(leadRowColumns))

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrLeadNotFound) {
		t.Fatalf("expected ErrLeadNotFound, got %v", err)
	}
}

func TestPostgresRepositoryListScansRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .* FROM leads").
		WithArgs("qualified", 50, 0).
		WillReturnRows(pgxmock.NewRows(leadRowColumns).AddRow(
			"lead-1", "whatsapp", "general", "qualified", "", "", "+5215550000", "",
			"", "", "", "", "", "", 82, "calificado", "maria", "", "", 0.0, now, now,
		))

	leads, err := repo.List(context.Background(), ListLeadsFilter{Status: StatusQualified})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(leads) != 1 || leads[0].Status != StatusQualified || leads[0].AIScore != 82 {
		t.Fatalf("unexpected leads %+v", leads)
	}
}

func TestApplyOutcomeTxConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("UPDATE leads SET").
		WithArgs("lead-1", "new", "contacted", 0, "", "", "", 0.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = ApplyOutcomeTx(context.Background(), mock, "lead-1", StatusNew, Outcome{Status: StatusContacted})
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
}

func TestApplyOutcomeTxWritesSale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("UPDATE leads SET").
		WithArgs("lead-1", "negotiating", "sold", 0, "", "", "sale-9", 25000.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	outcome := Outcome{Status: StatusSold, SaleID: "sale-9", Amount: 25000}
	if err := ApplyOutcomeTx(context.Background(), mock, "lead-1", StatusNegotiating, outcome); err != nil {
		t.Fatalf("apply outcome: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepositoryCreateOrGetByPhoneInserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)
	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)INSERT INTO leads.*ON CONFLICT \(phone\) WHERE phone <> '' DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "whatsapp", "general", "new", "", "", "+5215550001111", "", "", "", "", "", "", "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	lead, created, err := repo.CreateOrGetByPhone(context.Background(), &CreateLeadRequest{Phone: "whatsapp:+5215550001111", Source: SourceWhatsApp})
	if err != nil || !created {
		t.Fatalf("expected insert, created=%v err=%v", created, err)
	}
	if lead.Phone != "+5215550001111" || !lead.CreatedAt.Equal(now) {
		t.Fatalf("unexpected lead %+v", lead)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepositoryCreateOrGetByPhoneReadsBackWinner(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)
	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO leads").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT .* FROM leads WHERE phone = \\$1").
		WithArgs("+5215550001111").
		WillReturnRows(pgxmock.NewRows(leadRowColumns).AddRow(
			"lead-1", "whatsapp", "general", "contacted", "", "", "+5215550001111", "",
			"", "", "", "", "", "", 0, "", "", "", "", float64(0), now, now,
		))

	lead, created, err := repo.CreateOrGetByPhone(context.Background(), &CreateLeadRequest{Phone: "+5215550001111", Source: SourceWhatsApp})
	if err != nil || created {
		t.Fatalf("expected existing lead, created=%v err=%v", created, err)
	}
	if lead.ID != "lead-1" || lead.Status != StatusContacted {
		t.Fatalf("unexpected lead %+v", lead)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepositoryCreateMapsUniqueViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)
	mock.ExpectQuery("INSERT INTO leads").WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_leads_phone_unique"})

	_, err = repo.Create(context.Background(), &CreateLeadRequest{Name: "Luis", Phone: "+5215551234"})
	if !errors.Is(err, ErrDuplicatePhone) {
		t.Fatalf("expected ErrDuplicatePhone, got %v", err)
	}
}
