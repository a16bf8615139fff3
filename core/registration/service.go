package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/course"
	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("registration not found")
	ErrAlreadyRegistered = errors.New("already registered to this course")
	ErrCourseClosed      = errors.New("this course is not open for registration")
	ErrInvalidReferral   = errors.New("invalid referral code")
	ErrInvalidTransition = errors.New("invalid status change")
	ErrOnlyPendingCancel = errors.New("only pending registrations can be cancelled")

	errUserNotFound   = core.NewFieldError("user_id", "user not found")
	errCourseNotFound = core.NewFieldError("course_id", "course not found")
)

type (
	Repository interface {
		CreateRegistration(ctx context.Context, reg Registration, exec ...core.DBExecutor) (Registration, error)
		QueryRegistrations(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Registration, error)
		GetRegistration(ctx context.Context, id string, exec ...core.DBExecutor) (Registration, error)
		UpdateRegistration(ctx context.Context, reg Registration, exec ...core.DBExecutor) (Registration, error)
		DeleteRegistration(ctx context.Context, id string, exec ...core.DBExecutor) error
		// HasActiveRegistration reports whether the user has a non-cancelled registration to the course.
		HasActiveRegistration(ctx context.Context, userID, courseID string, exec ...core.DBExecutor) (bool, error)
	}

	Service interface {
		Create(ctx context.Context, nr NewRegistration) (Registration, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Registration, error)
		GetByID(ctx context.Context, id string) (Registration, error)
		ChangeStatus(ctx context.Context, reg Registration, sc StatusChange, actor user.User) (Registration, error)
		Cancel(ctx context.Context, reg Registration, actor user.User) (Registration, error)
		Delete(ctx context.Context, reg Registration) error
	}

	service struct {
		repo        Repository
		tx          core.TxRunner
		userSvc     user.Service
		courseSvc   course.Service
		partnerSvc  partner.Service
		paymentSvc  payment.Service
		documentSvc document.Service
		mailSvc     core.EmailService
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(
	repo Repository,
	tx core.TxRunner,
	userSvc user.Service,
	courseSvc course.Service,
	partnerSvc partner.Service,
	paymentSvc payment.Service,
	documentSvc document.Service,
	mailSvc core.EmailService,
) Service {
	return &service{
		repo:        repo,
		tx:          tx,
		userSvc:     userSvc,
		courseSvc:   courseSvc,
		partnerSvc:  partnerSvc,
		paymentSvc:  paymentSvc,
		documentSvc: documentSvc,
		mailSvc:     mailSvc,
	}
}

// referral is where a registration comes from.
type referral struct {
	code      string
	companyID null.String
	partnerID null.String
	discount  decimal.Decimal
}

// resolveReferral maps code to an active partner company, or to an active legacy partner user.
func (svc *service) resolveReferral(ctx context.Context, code string, crs course.Course) (referral, error) {
	ref := referral{code: code}

	company, err := svc.partnerSvc.GetCompanyByReferralCode(ctx, code)
	switch {
	case err == nil && company.IsActive:
		ref.companyID = null.StringFrom(company.ID)
	case err == nil || errors.Cause(err) == partner.ErrNotFound:
		partnerUsr, err := svc.userSvc.GetByReferralCode(ctx, code)
		if err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				return ref, ErrInvalidReferral
			}
			return ref, errors.Wrap(err, "finding partner by referral code")
		}
		if !partnerUsr.IsActive || !partnerUsr.IsPartner() {
			return ref, ErrInvalidReferral
		}
		ref.partnerID = null.StringFrom(partnerUsr.ID)
		ref.companyID = partnerUsr.PartnerCompanyID
	default:
		return ref, errors.Wrap(err, "finding company by referral code")
	}

	if ref.companyID.Valid {
		offer, err := svc.partnerSvc.ActiveOffer(ctx, ref.companyID.String, crs.ID, core.NowFunc())
		switch {
		case err == nil:
			ref.discount = partner.Discount(crs.Price, offer)
		case errors.Cause(err) != partner.ErrNoActiveOffer:
			return ref, errors.Wrap(err, "finding active offer")
		}
	}
	return ref, nil
}

func (svc *service) Create(ctx context.Context, nr NewRegistration) (Registration, error) {
	usr, err := svc.userSvc.GetByID(ctx, nr.UserID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Registration{}, errUserNotFound
		}
		return Registration{}, errors.Wrap(err, "finding user")
	}
	crs, err := svc.courseSvc.GetByID(ctx, nr.CourseID)
	if err != nil {
		if errors.Cause(err) == course.ErrNotFound {
			return Registration{}, errCourseNotFound
		}
		return Registration{}, errors.Wrap(err, "finding course")
	}
	if !crs.IsActive {
		return Registration{}, core.NewValidationError(ErrCourseClosed, core.FieldError{Field: "course_id", Error: ErrCourseClosed.Error()})
	}

	exists, err := svc.repo.HasActiveRegistration(ctx, usr.ID, crs.ID)
	if err != nil {
		return Registration{}, errors.Wrap(err, "checking registrations")
	}
	if exists {
		return Registration{}, core.NewValidationError(ErrAlreadyRegistered, core.FieldError{Field: "course_id", Error: ErrAlreadyRegistered.Error()})
	}

	var ref referral
	switch {
	case nr.ReferralCode != "":
		if ref, err = svc.resolveReferral(ctx, nr.ReferralCode, crs); err != nil {
			if err == ErrInvalidReferral {
				return Registration{}, core.NewValidationError(err, core.FieldError{Field: "referral_code", Error: err.Error()})
			}
			return Registration{}, err
		}
	case usr.ReferredByCode != "":
		// the code given at signup is best effort
		if ref, err = svc.resolveReferral(ctx, usr.ReferredByCode, crs); err != nil {
			if err != ErrInvalidReferral {
				return Registration{}, err
			}
			ref = referral{}
		}
	}

	now := core.NowFunc()
	reg, err := svc.repo.CreateRegistration(ctx, Registration{
		UserID:           usr.ID,
		CourseID:         crs.ID,
		PartnerCompanyID: ref.companyID,
		ReferredByUserID: ref.partnerID,
		ReferralCode:     ref.code,
		Status:           StatusPending,
		TotalAmount:      crs.Price,
		DiscountAmount:   ref.discount,
		Notes:            nr.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return Registration{}, err
	}

	if addr, ok := usr.EmailAddress(); ok {
		svc.mailSvc.SendMessages(core.NewEmailMessage(addr, "Registration received", "registration_received", map[string]interface{}{
			"Name":   usr.Name,
			"Course": crs.Title,
			"Amount": reg.NetAmount().StringFixed(2),
		}))
	}
	return reg, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Registration, error) {
	ordering = core.FilterOrderings(ordering, "status", "total_amount", "approved_at", "created_at", "updated_at")
	return svc.repo.QueryRegistrations(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Registration, error) {
	return svc.repo.GetRegistration(ctx, id)
}

func (svc *service) ChangeStatus(ctx context.Context, reg Registration, sc StatusChange, actor user.User) (Registration, error) {
	if !CanTransition(reg.Status, sc.Status) {
		msg := fmt.Sprintf("cannot change status from %s to %s", reg.Status, sc.Status)
		return Registration{}, core.NewValidationError(ErrInvalidTransition, core.FieldError{Field: "status", Error: msg})
	}
	crs, err := svc.courseSvc.GetByID(ctx, reg.CourseID)
	if err != nil {
		return Registration{}, errors.Wrap(err, "finding course")
	}

	now := core.NowFunc()
	reg.Status = sc.Status
	if sc.Note != "" {
		note := fmt.Sprintf("[%s %s by %s] %s", now.Format("2006-01-02"), sc.Status, actor.Name, sc.Note)
		if reg.Notes != "" {
			reg.Notes += "\n"
		}
		reg.Notes += note
	}
	reg.UpdatedAt = now

	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		if sc.Status == StatusApproved {
			reg.ApprovedAt = null.TimeFrom(now)
			plan := payment.Plan{
				RegistrationID: reg.ID,
				Total:          reg.NetAmount(),
				Installments:   crs.Installments,
				Start:          planStart(now, crs),
			}
			if _, err := svc.paymentSvc.GenerateForRegistration(ctx, plan, exec); err != nil {
				return errors.Wrap(err, "generating payment deadlines")
			}
			if _, err := svc.documentSvc.CreatePlaceholders(ctx, reg.UserID, reg.ID, exec); err != nil {
				return errors.Wrap(err, "creating document placeholders")
			}
		}
		var err error
		reg, err = svc.repo.UpdateRegistration(ctx, reg, exec)
		return err
	})
	if err != nil {
		return Registration{}, err
	}

	svc.sendStatusMail(ctx, reg, crs, sc.Note)
	return reg, nil
}

// planStart is the first due date of a payment plan: the course start if it is later than the approval.
func planStart(approvedAt time.Time, crs course.Course) time.Time {
	if crs.StartsOn.Valid && crs.StartsOn.Time.After(approvedAt) {
		return crs.StartsOn.Time
	}
	return approvedAt
}

func (svc *service) sendStatusMail(ctx context.Context, reg Registration, crs course.Course, note string) {
	usr, err := svc.userSvc.GetByID(ctx, reg.UserID)
	if err != nil {
		return
	}
	if addr, ok := usr.EmailAddress(); ok {
		svc.mailSvc.SendMessages(core.NewEmailMessage(addr, "Registration "+reg.Status, "registration_status", map[string]interface{}{
			"Name":   usr.Name,
			"Course": crs.Title,
			"Status": reg.Status,
			"Note":   note,
		}))
	}
}

func (svc *service) Cancel(ctx context.Context, reg Registration, actor user.User) (Registration, error) {
	if reg.Status != StatusPending {
		return Registration{}, core.NewValidationError(ErrOnlyPendingCancel)
	}
	return svc.ChangeStatus(ctx, reg, StatusChange{Status: StatusCancelled}, actor)
}

func (svc *service) Delete(ctx context.Context, reg Registration) error {
	return svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		if _, err := svc.paymentSvc.DeleteForRegistration(ctx, reg.ID, exec); err != nil {
			return errors.Wrap(err, "deleting payment deadlines")
		}
		if _, err := svc.documentSvc.DetachRegistration(ctx, reg.ID, exec); err != nil {
			return errors.Wrap(err, "detaching documents")
		}
		return svc.repo.DeleteRegistration(ctx, reg.ID, exec)
	})
}
