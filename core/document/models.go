package document

import (
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
)

// Kinds
const (
	KindIDCard     = "id_card"
	KindDiploma    = "diploma"
	KindTranscript = "transcript"
	KindContract   = "contract"
	KindOther      = "other"
)

// Statuses
const (
	StatusMissing  = "missing" // placeholder without a file
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

const KeyPrefix = "documents/"

var (
	AllKinds      = []string{KindIDCard, KindDiploma, KindTranscript, KindContract, KindOther}
	RequiredKinds = []string{KindIDCard, KindDiploma, KindContract}
	AllStatuses   = []string{StatusMissing, StatusPending, StatusApproved, StatusRejected}

	// allowed file extensions and their content types
	allowedTypes = map[string][]string{
		".pdf":  {"application/pdf"},
		".png":  {"image/png"},
		".jpg":  {"image/jpeg", "image/jpg"},
		".jpeg": {"image/jpeg", "image/jpg"},
	}
)

type Document struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	RegistrationID  null.String `json:"registration_id"`
	Kind            string      `json:"kind"`
	Status          string      `json:"status"`
	ObjectKey       string      `json:"-"`
	Filename        string      `json:"filename"`
	ContentType     string      `json:"content_type"`
	Size            int64       `json:"size"`
	RejectionReason string      `json:"rejection_reason"`
	ReviewedBy      null.String `json:"reviewed_by"`
	ReviewedAt      null.Time   `json:"reviewed_at"`
	CreatedAt       time.Time   `json:"created_at"` // UTC
	UpdatedAt       time.Time   `json:"updated_at"` // UTC
}

func (d Document) HasFile() bool { return d.ObjectKey != "" }

// NewDocument describes an uploaded file; the content is passed separately.
type NewDocument struct {
	UserID         string      `json:"user_id" validate:"required"`
	RegistrationID null.String `json:"registration_id" validate:"omitempty,uuid"`
	Kind           string      `json:"kind" validate:"required,oneof=id_card diploma transcript contract other"`
	Filename       string      `json:"filename" validate:"required,max=255"`
	ContentType    string      `json:"content_type"`
	Size           int64       `json:"size" validate:"gt=0"`
}

func (nd *NewDocument) Validate(validate *validator.Validate, maxSize int64) error {
	nd.Filename = path.Base(strings.ReplaceAll(core.CleanString(nd.Filename), "\\", "/"))
	nd.ContentType = strings.ToLower(strings.TrimSpace(strings.SplitN(nd.ContentType, ";", 2)[0]))

	if err := validate.Struct(nd); err != nil {
		return err
	}
	if nd.Size > maxSize {
		return core.NewFieldError("file", "file is too large")
	}
	ext := nd.Ext()
	types, ok := allowedTypes[ext]
	if !ok {
		return core.NewFieldError("file", "only pdf, png and jpg files are allowed")
	}
	if nd.ContentType == "" || nd.ContentType == "application/octet-stream" {
		nd.ContentType = types[0]
	} else if !core.StringInSlice(nd.ContentType, types) {
		return core.NewFieldError("file", "the file content type does not match its extension")
	}
	return nil
}

func (nd NewDocument) Ext() string {
	return strings.ToLower(path.Ext(nd.Filename))
}

type Review struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason" validate:"omitempty,max=1000"`
}

func (r *Review) Validate(validate *validator.Validate) error {
	r.Reason = core.CleanString(r.Reason)
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !r.Approve && r.Reason == "" {
		return core.NewFieldError("reason", "a reason is required to reject a document")
	}
	return nil
}

type QueryFilter struct {
	UserID         string   `query:"user_id"`
	RegistrationID string   `query:"registration_id"`
	Kinds          []string `query:"kind"`
	Statuses       []string `query:"status"`
}

// RegistrationDocuments is an approved or completed registration and the kinds of documents it has.
type RegistrationDocuments struct {
	RegistrationID string
	UserID         string
	Kinds          []string
}

type BackfillResult struct {
	RegistrationID string   `json:"registration_id"`
	UserID         string   `json:"user_id"`
	Created        []string `json:"created"` // kinds
}
