package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/psds-microservice/contact-service/internal/errs"
)

// Envelope is the body shape of every API response.
type Envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	Data    interface{}         `json:"data,omitempty"`
	Meta    interface{}         `json:"meta,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func init() {
	// Report validation failures by JSON field name.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

func ok(c *gin.Context, status int, message string, data, meta interface{}) {
	c.JSON(status, Envelope{Success: true, Message: message, Data: data, Meta: meta})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Envelope{Success: false, Message: message})
}

func validationFailed(c *gin.Context, message string, fields map[string][]string) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, Envelope{Success: false, Message: message, Errors: fields})
}

// fieldErrors converts a service or binding error into {field: [messages]}.
// ok is false when err is not a validation problem.
func fieldErrors(err error) (map[string][]string, bool) {
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		msg := ve.Message
		if len(ve.Allowed) > 0 {
			msg = fmt.Sprintf("%s (allowed: %s)", msg, strings.Join(ve.Allowed, ", "))
		}
		return map[string][]string{ve.Field: {fmt.Sprintf("The %s %s.", ve.Field, msg)}}, true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make(map[string][]string, len(verrs))
		for _, fe := range verrs {
			out[fe.Field()] = append(out[fe.Field()], describe(fe))
		}
		return out, true
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return map[string][]string{field: {fmt.Sprintf("The %s must be a %s.", field, typeErr.Type.String())}}, true
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return map[string][]string{"body": {"The request body must be a JSON object."}}, true
	}
	return nil, false
}

// Messages for fields with a dedicated wording.
var requiredMessages = map[string]string{
	"name":    "Full name is required.",
	"email":   "Email address is required.",
	"service": "Please select a service.",
	"message": "Message is required.",
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		if m, ok := requiredMessages[field]; ok {
			return m
		}
		return fmt.Sprintf("The %s field is required.", field)
	case "email":
		return fmt.Sprintf("The %s must be a valid email address.", field)
	case "max":
		return fmt.Sprintf("The %s must not be greater than %s characters.", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("The selected %s is invalid (allowed: %s).", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt", "min":
		return fmt.Sprintf("The %s must be at least %s.", field, fe.Param())
	}
	return fmt.Sprintf("The %s is invalid.", field)
}
