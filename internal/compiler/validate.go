package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/model"
)

// Validation error codes (E100-E199)
const (
	ErrVersionInvalid    = "E101" // version must be positive
	ErrResourceIDInvalid = "E102" // id is not Type[agent,name=value]
	ErrDuplicateResource = "E103" // the same id appears twice
	ErrRequiresInvalid   = "E104" // requires entry is not a valid id
	ErrRequiresDangling  = "E105" // requires entry names no resource of the document
	ErrRequiresSelf      = "E106" // resource requires itself
	ErrReservedAttribute = "E107" // graph fields must not appear as attributes
	ErrIdentityAttribute = "E108" // identifying attribute disagrees with the id
	ErrNoResources       = "E109" // document declares no resources
)

// ValidationError represents a document validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors carries every validation error of a document.
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation errors:\n  %s", len(e.Errors), strings.Join(msgs, "\n  "))
}

// Validate checks a document against the model rules.
// Returns all errors found (does not fail-fast).
func Validate(d *Document) []ValidationError {
	var errs []ValidationError

	if d.Version <= 0 {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("version must be positive, got %d", d.Version),
			Code:    ErrVersionInvalid,
		})
	}
	if len(d.Resources) == 0 {
		errs = append(errs, ValidationError{
			Field:   "resources",
			Message: "at least one resource is required",
			Code:    ErrNoResources,
		})
	}

	ids := make(map[string]bool, len(d.Resources))
	for _, spec := range d.Resources {
		id, err := model.ParseResourceID(spec.ID)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "resources." + spec.ID,
				Message: err.Error(),
				Code:    ErrResourceIDInvalid,
				Line:    spec.Line,
			})
			continue
		}
		// Keys are normalized through the parsed form.
		key := id.String()
		if ids[key] {
			errs = append(errs, ValidationError{
				Field:   "resources." + spec.ID,
				Message: "duplicate resource",
				Code:    ErrDuplicateResource,
				Line:    spec.Line,
			})
		}
		ids[key] = true

		for _, reserved := range []string{ir.AttrRequires, ir.AttrProvides, ir.AttrVersion} {
			if _, ok := spec.Attributes[reserved]; ok {
				errs = append(errs, ValidationError{
					Field:   "resources." + spec.ID + ".attributes." + reserved,
					Message: reserved + " is a graph field, not an attribute",
					Code:    ErrReservedAttribute,
					Line:    spec.Line,
				})
			}
		}

		if v, ok := spec.Attributes[id.AttributeName]; ok {
			if s, isString := v.(ir.IRString); !isString || string(s) != id.AttributeValue {
				errs = append(errs, ValidationError{
					Field:   "resources." + spec.ID + ".attributes." + id.AttributeName,
					Message: fmt.Sprintf("identifying attribute must equal %q", id.AttributeValue),
					Code:    ErrIdentityAttribute,
					Line:    spec.Line,
				})
			}
		}
	}

	for _, spec := range d.Resources {
		self, err := model.ParseResourceID(spec.ID)
		if err != nil {
			continue
		}
		for _, req := range spec.Requires {
			rid, err := model.ParseResourceID(req)
			switch {
			case err != nil:
				errs = append(errs, ValidationError{
					Field:   "resources." + spec.ID + ".requires",
					Message: err.Error(),
					Code:    ErrRequiresInvalid,
					Line:    spec.Line,
				})
			case rid == self:
				errs = append(errs, ValidationError{
					Field:   "resources." + spec.ID + ".requires",
					Message: "resource requires itself",
					Code:    ErrRequiresSelf,
					Line:    spec.Line,
				})
			case !ids[rid.String()]:
				errs = append(errs, ValidationError{
					Field:   "resources." + spec.ID + ".requires",
					Message: fmt.Sprintf("%s is not part of version %d", req, d.Version),
					Code:    ErrRequiresDangling,
					Line:    spec.Line,
				})
			}
		}
	}

	return errs
}
