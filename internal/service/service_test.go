package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/database"
	"github.com/TGOO-Worldwide/siliviat-app/internal/models"
	"github.com/TGOO-Worldwide/siliviat-app/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	db           *database.DB
	visits       *VisitService
	companies    *CompanyService
	sales        *SaleService
	technologies *TechnologyService
	audit        *repository.AuditRepository
	clock        *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "server.db"), database.ServerSchema, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	visitRepo := repository.NewVisitRepository(db)
	companyRepo := repository.NewCompanyRepository(db)
	techRepo := repository.NewTechnologyRepository(db)
	audit := repository.NewAuditRepository(db)
	clk := &clock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}

	f := &fixture{
		db:           db,
		visits:       NewVisitService(db, visitRepo, companyRepo, audit, logger),
		companies:    NewCompanyService(companyRepo, audit, logger),
		sales:        NewSaleService(repository.NewSaleRepository(db), companyRepo, techRepo, visitRepo, audit, logger),
		technologies: NewTechnologyService(techRepo, audit, logger),
		audit:        audit,
		clock:        clk,
	}
	f.visits.now = clk.Now
	f.companies.now = clk.Now
	f.sales.now = clk.Now
	f.technologies.now = clk.Now
	return f
}

func (f *fixture) auditCount(t *testing.T, action string) int {
	t.Helper()
	n, err := f.audit.CountByAction(context.Background(), action)
	require.NoError(t, err)
	return n
}

func ptr[T any](v T) *T { return &v }

var (
	alice = Actor{Principal: models.Principal{UserID: "alice", Role: models.RoleSales}, IP: "10.0.0.1", UserAgent: "test"}
	bob   = Actor{Principal: models.Principal{UserID: "bob", Role: models.RoleSales}}
	admin = Actor{Principal: models.Principal{UserID: "root", Role: models.RoleAdmin}}
)

func gps() models.CheckinRequest {
	return models.CheckinRequest{CheckInLat: ptr(38.7223), CheckInLng: ptr(-9.1393)}
}

func TestCheckInAndOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in, err := f.visits.CheckIn(ctx, alice, gps())
	require.NoError(t, err)
	assert.NotEmpty(t, in.ID)
	assert.True(t, in.CheckInAt.Equal(f.clock.Now()))
	assert.Nil(t, in.CompanyID)

	active, err := f.visits.Active(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, in.ID, active.ID)

	f.clock.Advance(42*time.Minute + 900*time.Millisecond)

	out, err := f.visits.CheckOut(ctx, alice, models.CheckoutRequest{NoGpsReason: ptr("  cave  ")})
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, int64(42*60), out.DurationSeconds)

	active, err = f.visits.Active(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, active)

	v, err := repository.NewVisitRepository(f.db).GetByID(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, "cave", *v.CheckOutNoGpsReason)
	assert.Nil(t, v.CheckOutLat)

	assert.Equal(t, 1, f.auditCount(t, ActionVisitCheckin))
	assert.Equal(t, 1, f.auditCount(t, ActionVisitCheckout))
}

func TestCheckInRejectsSecondOpenVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.visits.CheckIn(ctx, alice, gps())
	require.NoError(t, err)

	_, err = f.visits.CheckIn(ctx, alice, gps())
	assert.ErrorIs(t, err, ErrVisitAlreadyOpen)

	// other users are independent
	_, err = f.visits.CheckIn(ctx, bob, gps())
	assert.NoError(t, err)
}

func TestConcurrentCheckInsOpenOneVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.visits.CheckIn(ctx, alice, gps())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrVisitAlreadyOpen):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, rejected)

	list, page, err := f.visits.List(ctx, "alice", repository.VisitStatusActive, models.NewPagination(1, 0))
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, page.Total)
}

func TestCheckInPositionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  models.CheckinRequest
		err  error
	}{
		{"nothing", models.CheckinRequest{}, ErrGPSRequired},
		{"lat only", models.CheckinRequest{CheckInLat: ptr(1.0)}, ErrGPSRequired},
		{"short reason", models.CheckinRequest{NoGpsReason: ptr(" ab ")}, ErrGPSRequired},
		{"blank reason", models.CheckinRequest{NoGpsReason: ptr("     ")}, ErrGPSRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.visits.CheckIn(ctx, alice, tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	_, err := f.visits.CheckIn(ctx, alice, models.CheckinRequest{CheckInLat: ptr(91.0), CheckInLng: ptr(0.0)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lat", verr.Field)

	_, err = f.visits.CheckIn(ctx, alice, models.CheckinRequest{CheckInLat: ptr(0.0), CheckInLng: ptr(-181.0)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lng", verr.Field)

	// coordinates win over a reason
	in, err := f.visits.CheckIn(ctx, alice, models.CheckinRequest{
		CheckInLat:  ptr(0.0),
		CheckInLng:  ptr(0.0),
		NoGpsReason: ptr("ignored"),
	})
	require.NoError(t, err)
	v, err := repository.NewVisitRepository(f.db).GetByID(ctx, in.ID)
	require.NoError(t, err)
	assert.Nil(t, v.CheckInNoGpsReason)
	assert.Equal(t, 0.0, *v.CheckInLat)

	assert.Equal(t, 1, f.auditCount(t, ActionVisitCheckin))
}

func TestCheckInUnknownCompany(t *testing.T) {
	f := newFixture(t)

	_, err := f.visits.CheckIn(context.Background(), alice, models.CheckinRequest{
		CompanyID:   ptr("missing"),
		NoGpsReason: ptr("indoor"),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckOutWithoutOpenVisit(t *testing.T) {
	f := newFixture(t)

	_, err := f.visits.CheckOut(context.Background(), alice, models.CheckoutRequest{NoGpsReason: ptr("none here")})
	assert.ErrorIs(t, err, ErrNoOpenVisit)
	assert.Zero(t, f.auditCount(t, ActionVisitCheckout))
}

func TestCheckOutDurationNeverNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.visits.CheckIn(ctx, alice, gps())
	require.NoError(t, err)

	// server clock stepped backwards
	f.clock.Advance(-time.Minute)
	out, err := f.visits.CheckOut(ctx, alice, models.CheckoutRequest{CheckOutLat: ptr(1.0), CheckOutLng: ptr(2.0)})
	require.NoError(t, err)
	assert.Zero(t, out.DurationSeconds)
}

func TestAssociateCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	company, err := f.companies.Create(ctx, alice, models.CreateCompanyRequest{Name: "Acme"})
	require.NoError(t, err)
	in, err := f.visits.CheckIn(ctx, alice, gps())
	require.NoError(t, err)

	_, err = f.visits.AssociateCompany(ctx, bob, in.ID, company.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.visits.AssociateCompany(ctx, alice, "missing", company.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.visits.AssociateCompany(ctx, alice, in.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := f.visits.AssociateCompany(ctx, alice, in.ID, company.ID)
	require.NoError(t, err)
	assert.Equal(t, company.ID, *v.CompanyID)
	assert.Equal(t, "Acme", *v.CompanyName)

	_, err = f.visits.AssociateCompany(ctx, admin, in.ID, company.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, f.auditCount(t, ActionVisitCompany))
}

func TestCompanyCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.companies.Create(ctx, alice, models.CreateCompanyRequest{
		Name:    "  Acme  ",
		Email:   ptr(""),
		Phone:   ptr(" 210000000 "),
		Address: ptr("Rua A, Lisboa"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme", c.Name)
	assert.Nil(t, c.Email)
	assert.Equal(t, "210000000", *c.Phone)

	_, err = f.companies.Create(ctx, alice, models.CreateCompanyRequest{Name: "ACME"})
	assert.ErrorIs(t, err, ErrDuplicateCompany)

	invalidCases := map[string]models.CreateCompanyRequest{
		"name":  {Name: "   "},
		"email": {Name: "Beta", Email: ptr("not-an-email")},
		"nif":   {Name: "Beta", NIF: ptr("123456789012345678901")},
	}
	for field, req := range invalidCases {
		_, err := f.companies.Create(ctx, alice, req)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, field)
		assert.Equal(t, field, verr.Field)
	}

	list, page, err := f.companies.Search(ctx, "acm", models.NewPagination(1, 0))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.DefaultPageSize, page.Limit)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, 1, f.auditCount(t, ActionCompanyCreate))
}

func TestSaleCreateChecksInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fibra, err := f.technologies.Create(ctx, admin, models.CreateTechnologyRequest{Name: "Fibra"})
	require.NoError(t, err)
	adsl, err := f.technologies.Create(ctx, admin, models.CreateTechnologyRequest{Name: "ADSL", Active: ptr(false)})
	require.NoError(t, err)
	company, err := f.companies.Create(ctx, alice, models.CreateCompanyRequest{Name: "Acme"})
	require.NoError(t, err)
	visit, err := f.visits.CheckIn(ctx, alice, gps())
	require.NoError(t, err)

	req := func(tech, company string, visit *string) models.CreateSaleRequest {
		return models.CreateSaleRequest{TechnologyID: tech, CompanyID: company, VisitID: visit, ValueCents: ptr(int64(2999))}
	}

	// technology is checked before company
	_, err = f.sales.Create(ctx, alice, req("missing", "missing", nil))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "technology")

	_, err = f.sales.Create(ctx, alice, req(adsl.ID, "missing", nil))
	assert.ErrorIs(t, err, ErrInactiveTechnology)

	_, err = f.sales.Create(ctx, alice, req(fibra.ID, "missing", nil))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "company")

	_, err = f.sales.Create(ctx, alice, req(fibra.ID, company.ID, ptr("missing")))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "visit")

	_, err = f.sales.Create(ctx, bob, req(fibra.ID, company.ID, &visit.ID))
	assert.ErrorIs(t, err, ErrForbidden)

	var verr *ValidationError
	_, err = f.sales.Create(ctx, alice, models.CreateSaleRequest{TechnologyID: fibra.ID, CompanyID: company.ID, ValueCents: ptr(int64(-1))})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "valueCents", verr.Field)

	sale, err := f.sales.Create(ctx, alice, req(fibra.ID, company.ID, &visit.ID))
	require.NoError(t, err)
	assert.Equal(t, "alice", sale.UserID)
	assert.Equal(t, visit.ID, *sale.VisitID)

	_, err = f.sales.Create(ctx, admin, req(fibra.ID, company.ID, &visit.ID))
	require.NoError(t, err)
	assert.Equal(t, 2, f.auditCount(t, ActionSaleCreate))

	mine, page, err := f.sales.List(ctx, alice, "", models.NewPagination(1, 10))
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	assert.Equal(t, 1, page.Total)

	all, _, err := f.sales.List(ctx, admin, fibra.ID, models.NewPagination(1, 10))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTechnologyCreateRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.technologies.Create(ctx, alice, models.CreateTechnologyRequest{Name: "Fibra"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.technologies.Create(ctx, admin, models.CreateTechnologyRequest{Name: "Fibra"})
	require.NoError(t, err)
	_, err = f.technologies.Create(ctx, admin, models.CreateTechnologyRequest{Name: "ADSL", Active: ptr(false)})
	require.NoError(t, err)

	active, err := f.technologies.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := f.technologies.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, models.AuditEntry) error {
	return errors.New("disk full")
}

func TestAuditFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	svc := NewCompanyService(repository.NewCompanyRepository(f.db), failingRecorder{}, zap.NewNop())

	_, err := svc.Create(context.Background(), alice, models.CreateCompanyRequest{Name: "Acme"})
	assert.NoError(t, err)
}

type capturingRecorder struct{ entries []models.AuditEntry }

func (r *capturingRecorder) Record(_ context.Context, e models.AuditEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func TestAuditRecordsDeviceID(t *testing.T) {
	f := newFixture(t)
	rec := &capturingRecorder{}
	svc := NewCompanyService(repository.NewCompanyRepository(f.db), rec, zap.NewNop())

	actor := alice
	actor.DeviceID = "dev-7"
	_, err := svc.Create(context.Background(), actor, models.CreateCompanyRequest{Name: "Acme"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), alice, models.CreateCompanyRequest{Name: "Beta"})
	require.NoError(t, err)

	require.Len(t, rec.entries, 2)
	assert.Equal(t, "dev-7", rec.entries[0].Metadata["device_id"])
	assert.NotContains(t, rec.entries[1].Metadata, "device_id")
}

func TestDurationSeconds(t *testing.T) {
	in := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(59), durationSeconds(in, in.Add(59999*time.Millisecond)))
	assert.Equal(t, int64(0), durationSeconds(in, in.Add(-time.Hour)))
}
