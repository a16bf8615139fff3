// Package testutil wires the services on an in-memory database for tests.
package testutil

import (
	"context"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/archive"
	"github.com/trezcool/enrolla/core/course"
	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/maintenance"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
	appfs "github.com/trezcool/enrolla/fs"
	"github.com/trezcool/enrolla/services/email"
	"github.com/trezcool/enrolla/services/logger"
	"github.com/trezcool/enrolla/services/objstore"
	"github.com/trezcool/enrolla/storage/database/inmem"
)

// Env holds the services of a fresh in-memory database.
type Env struct {
	Conf       *core.Config
	Logger     core.Logger
	DB         *inmemdb.DB
	Mail       *emailsvc.ServiceMock
	Store      *objstore.MemoryStore
	Validate   *validator.Validate
	Translator ut.Translator

	UserRepo         user.Repository
	CourseRepo       course.Repository
	PartnerRepo      partner.Repository
	RegistrationRepo registration.Repository
	PaymentRepo      payment.Repository
	DocumentRepo     document.Repository
	ArchiveRepo      archive.Repository

	UserSvc         user.Service
	CourseSvc       course.Service
	PartnerSvc      partner.Service
	PaymentSvc      payment.Service
	DocumentSvc     document.Service
	RegistrationSvc registration.Service
	ArchiveSvc      archive.Service
	MaintenanceSvc  maintenance.Service
}

func NewEnv(t *testing.T) *Env {
	t.Helper()

	conf := core.NewTestConfig()
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, nil)
	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)

	db := inmemdb.NewDB()
	tx := db.TxRunner()
	env := &Env{
		Conf:             conf,
		Logger:           logsvc.NewNopLogger(),
		DB:               db,
		Mail:             emailsvc.NewServiceMock(conf),
		Store:            objstore.NewMemoryStore(),
		Validate:         validate,
		Translator:       translator,
		UserRepo:         inmemdb.NewUserRepository(db),
		CourseRepo:       inmemdb.NewCourseRepository(db),
		PartnerRepo:      inmemdb.NewPartnerRepository(db),
		RegistrationRepo: inmemdb.NewRegistrationRepository(db),
		PaymentRepo:      inmemdb.NewPaymentRepository(db),
		DocumentRepo:     inmemdb.NewDocumentRepository(db),
		ArchiveRepo:      inmemdb.NewArchiveRepository(db),
	}
	env.UserSvc = user.NewService(env.UserRepo, env.Mail, conf)
	env.CourseSvc = course.NewService(env.CourseRepo)
	env.PartnerSvc = partner.NewService(env.PartnerRepo, tx)
	env.PaymentSvc = payment.NewService(env.PaymentRepo, tx, env.Mail)
	env.DocumentSvc = document.NewService(env.DocumentRepo, tx, env.Store, env.UserSvc, env.Mail, conf, env.Logger)
	env.RegistrationSvc = registration.NewService(
		env.RegistrationRepo, tx, env.UserSvc, env.CourseSvc, env.PartnerSvc, env.PaymentSvc, env.DocumentSvc, env.Mail,
	)
	env.ArchiveSvc = archive.NewService(env.ArchiveRepo, tx, validate, translator)
	env.MaintenanceSvc = maintenance.NewService(inmemdb.NewMaintenanceRepository(db), env.UserSvc)
	return env
}

// MockNow freezes core.NowFunc at now until the end of the test.
func MockNow(t *testing.T, now time.Time) {
	orig := core.NowFunc
	core.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { core.NowFunc = orig })
}

func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func CreateCourse(t *testing.T, repo course.Repository, code, title, price string, installments int, startsOn ...time.Time) course.Course {
	now := time.Now().UTC()
	c := course.Course{
		Code:         code,
		Title:        title,
		Price:        Dec(price),
		Installments: installments,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if len(startsOn) > 0 {
		c.StartsOn = null.TimeFrom(startsOn[0].UTC())
	}
	c, err := repo.CreateCourse(context.Background(), c)
	if err != nil {
		t.Fatalf("createCourse() failed: %v", err)
	}
	return c
}

func CreateCompany(t *testing.T, repo partner.Repository, name, code, rate string, parent ...partner.Company) partner.Company {
	now := time.Now().UTC()
	c := partner.Company{
		Name:           name,
		ReferralCode:   code,
		CommissionRate: Dec(rate),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(parent) > 0 {
		c.ParentID = null.StringFrom(parent[0].ID)
	}
	c, err := repo.CreateCompany(context.Background(), c)
	if err != nil {
		t.Fatalf("createCompany() failed: %v", err)
	}
	return c
}

func CreateRegistration(
	t *testing.T,
	repo registration.Repository,
	usr user.User,
	crs course.Course,
	status string,
	company ...partner.Company,
) registration.Registration {
	now := time.Now().UTC()
	reg := registration.Registration{
		UserID:      usr.ID,
		CourseID:    crs.ID,
		Status:      status,
		TotalAmount: crs.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == registration.StatusApproved || status == registration.StatusCompleted {
		reg.ApprovedAt = null.TimeFrom(now)
	}
	if len(company) > 0 {
		reg.PartnerCompanyID = null.StringFrom(company[0].ID)
		reg.ReferralCode = company[0].ReferralCode
	}
	reg, err := repo.CreateRegistration(context.Background(), reg)
	if err != nil {
		t.Fatalf("createRegistration() failed: %v", err)
	}
	return reg
}

// AttachPartner makes usr a partner of company.
func AttachPartner(t *testing.T, repo user.Repository, usr user.User, company partner.Company) user.User {
	usr.PartnerCompanyID = null.StringFrom(company.ID)
	usr, err := repo.UpdateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("attachPartner() failed: %v", err)
	}
	return usr
}
