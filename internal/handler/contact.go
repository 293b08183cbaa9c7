package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/psds-microservice/contact-service/internal/errs"
	"github.com/psds-microservice/contact-service/internal/lifecycle"
	"github.com/psds-microservice/contact-service/internal/model"
	"github.com/psds-microservice/contact-service/internal/projection"
	"github.com/psds-microservice/contact-service/internal/query"
	"github.com/psds-microservice/contact-service/internal/service"
)

const maxAdminNotes = 1000

// SearchIndexer receives contacts after every write.
type SearchIndexer interface {
	IndexContactAsync(c *model.Contact)
}

type ContactHandler struct {
	svc    service.ContactServicer
	search SearchIndexer
	log    *zap.Logger
}

func NewContactHandler(svc service.ContactServicer, search SearchIndexer, log *zap.Logger) *ContactHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ContactHandler{svc: svc, search: search, log: log}
}

func (h *ContactHandler) index(c *model.Contact) {
	if h.search != nil {
		h.search.IndexContactAsync(c)
	}
}

type createContactRequest struct {
	Name     string  `json:"name" binding:"required,max=255"`
	Email    string  `json:"email" binding:"required,email,max=255"`
	Phone    *string `json:"phone" binding:"omitempty,max=20"`
	Service  string  `json:"service" binding:"required,oneof=technical_issue billing_dispute account_locked support complaint general_inquiry partnership sales_inquiry"`
	Message  string  `json:"message" binding:"required,max=2000"`
	Priority *string `json:"priority" binding:"omitempty,oneof=low medium high urgent"`
}

type createdMeta struct {
	ContactID   string `json:"contact_id"`
	Priority    string `json:"priority"`
	SLADeadline string `json:"sla_deadline"`
}

func (h *ContactHandler) Create(c *gin.Context) {
	var req createContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, err, "")
		return
	}
	in := service.SubmitInput{
		Name:    req.Name,
		Email:   req.Email,
		Service: req.Service,
		Message: req.Message,
	}
	if req.Phone != nil && *req.Phone != "" {
		in.Phone = req.Phone
	}
	if req.Priority != nil {
		p := model.Priority(*req.Priority)
		in.Priority = &p
	}

	contact, err := h.svc.Submit(c.Request.Context(), in)
	if err != nil {
		var dup *errs.DuplicateSubmissionError
		if errors.As(err, &dup) {
			c.JSON(http.StatusTooManyRequests, Envelope{
				Success: false,
				Message: "Duplicate submission detected. Please wait before submitting again.",
				Data:    gin.H{"contact_id": dup.ContactID},
			})
			return
		}
		requestLog(c, h.log).Error("contact submission failed", zap.String("email", req.Email), zap.String("client_ip", c.ClientIP()), zap.Error(err))
		fail(c, http.StatusInternalServerError, "Sorry, there was an error processing your request. Please try again later.")
		return
	}
	h.index(contact)
	ok(c, http.StatusCreated, "Thank you for contacting us! We will get back to you soon.",
		projection.NewResource(contact),
		createdMeta{
			ContactID:   contact.ContactID,
			Priority:    projection.PriorityLabel(contact.Priority),
			SLADeadline: projection.FormatTime(contact.SLADeadline),
		})
}

func (h *ContactHandler) List(c *gin.Context) {
	h.list(c, c.Request.URL.Query())
}

// ByPriority, ByStatus and ByUser are List with one filter fixed by the path.
func (h *ContactHandler) ByPriority(c *gin.Context) {
	h.listWith(c, "priority", c.Param("priority"))
}

func (h *ContactHandler) ByStatus(c *gin.Context) {
	h.listWith(c, "status", c.Param("status"))
}

func (h *ContactHandler) ByUser(c *gin.Context) {
	h.listWith(c, "handled_by", c.Param("user_id"))
}

func (h *ContactHandler) listWith(c *gin.Context, key, value string) {
	v := url.Values{}
	for k, vals := range c.Request.URL.Query() {
		v[k] = vals
	}
	v.Set(key, value)
	h.list(c, v)
}

func (h *ContactHandler) list(c *gin.Context, v url.Values) {
	p, err := query.ParseValues(v)
	if err != nil {
		fields, _ := fieldErrors(err)
		validationFailed(c, "Invalid query parameters", fields)
		return
	}
	items, page, err := h.svc.List(c.Request.Context(), p)
	if err != nil {
		if fields, isValidation := fieldErrors(err); isValidation {
			validationFailed(c, "Invalid query parameters", fields)
			return
		}
		h.respondError(c, err, "retrieve contacts")
		return
	}
	ok(c, http.StatusOK, "", projection.NewResources(items), page)
}

func (h *ContactHandler) Show(c *gin.Context) {
	contact, err := h.svc.Show(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		h.respondError(c, err, "retrieve contact")
		return
	}
	ok(c, http.StatusOK, "", projection.NewDetail(contact, h.svc.Now()), nil)
}

type updateContactRequest struct {
	Status     *string         `json:"status" binding:"omitempty,oneof=new in_progress resolved closed"`
	Priority   *string         `json:"priority" binding:"omitempty,oneof=low medium high urgent"`
	HandledBy  json.RawMessage `json:"handled_by"`
	AdminNotes json.RawMessage `json:"admin_notes"`
}

var jsonNull = []byte("null")

// changes converts the request into a patch. handled_by and admin_notes keep
// the difference between an absent key and an explicit null.
func (r updateContactRequest) changes() (lifecycle.Changes, error) {
	var ch lifecycle.Changes
	if r.Status != nil {
		s := model.ContactStatus(*r.Status)
		ch.Status = &s
	}
	if r.Priority != nil {
		p := model.Priority(*r.Priority)
		ch.Priority = &p
	}
	if len(r.HandledBy) > 0 {
		if bytes.Equal(r.HandledBy, jsonNull) {
			ch.HandledBy = lifecycle.Null[uint64]()
		} else {
			var id uint64
			if err := json.Unmarshal(r.HandledBy, &id); err != nil || id == 0 {
				return ch, errs.Invalid("handled_by", "must be a positive integer")
			}
			ch.HandledBy = lifecycle.Value(id)
		}
	}
	if len(r.AdminNotes) > 0 {
		if bytes.Equal(r.AdminNotes, jsonNull) {
			ch.AdminNotes = lifecycle.Null[string]()
		} else {
			var notes string
			if err := json.Unmarshal(r.AdminNotes, &notes); err != nil {
				return ch, errs.Invalid("admin_notes", "must be a string")
			}
			if utf8.RuneCountInString(notes) > maxAdminNotes {
				return ch, errs.Invalid("admin_notes", "must not be greater than 1000 characters")
			}
			ch.AdminNotes = lifecycle.Value(notes)
		}
	}
	return ch, nil
}

func (h *ContactHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusNotFound, "Contact not found")
		return
	}
	var req updateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, err, "")
		return
	}
	ch, err := req.changes()
	if err != nil {
		h.respondError(c, err, "")
		return
	}
	contact, err := h.svc.Update(c.Request.Context(), id, ch)
	if err != nil {
		h.respondError(c, err, "update contact")
		return
	}
	h.index(contact)
	ok(c, http.StatusOK, "Contact updated successfully", projection.NewDetail(contact, h.svc.Now()), nil)
}

type assignContactRequest struct {
	UserID uint64 `json:"user_id" binding:"required"`
}

func (h *ContactHandler) Assign(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusNotFound, "Contact not found")
		return
	}
	var req assignContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, err, "")
		return
	}
	contact, err := h.svc.Assign(c.Request.Context(), id, req.UserID)
	if err != nil {
		h.respondError(c, err, "assign contact")
		return
	}
	h.index(contact)
	ok(c, http.StatusOK, "Contact assigned successfully", projection.NewResource(contact), nil)
}

func (h *ContactHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusNotFound, "Contact not found")
		return
	}
	contact, err := h.svc.Delete(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "delete contact")
		return
	}
	h.index(contact)
	ok(c, http.StatusOK, "Contact deleted successfully", nil, nil)
}

func (h *ContactHandler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "retrieve statistics")
		return
	}
	ok(c, http.StatusOK, "", st, nil)
}

func (h *ContactHandler) Overdue(c *gin.Context) {
	items, err := h.svc.Overdue(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "retrieve overdue contacts")
		return
	}
	ok(c, http.StatusOK, "", projection.NewResources(items), gin.H{"count": len(items)})
}

// Track is the public status lookup. It never returns admin fields.
func (h *ContactHandler) Track(c *gin.Context) {
	t, err := h.svc.Track(c.Request.Context(), c.Param("contact_id"))
	if err != nil {
		h.respondError(c, err, "track contact")
		return
	}
	ok(c, http.StatusOK, "", t, nil)
}

// respondError maps service errors onto statuses. action names the failed
// operation in the generic 500 message.
func (h *ContactHandler) respondError(c *gin.Context, err error, action string) {
	if fields, isValidation := fieldErrors(err); isValidation {
		validationFailed(c, "Validation failed", fields)
		return
	}
	switch {
	case errors.Is(err, errs.ErrContactNotFound):
		fail(c, http.StatusNotFound, "Contact not found")
	default:
		if action == "" {
			action = "process request"
		}
		requestLog(c, h.log).Error("failed to "+action,
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		fail(c, http.StatusInternalServerError, "Failed to "+action)
	}
}
