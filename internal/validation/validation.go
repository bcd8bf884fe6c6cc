// Package validation checks create-form drafts before they are submitted.
package validation

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"eventcal/internal/model"
)

const (
	MsgRequired        = "Required"
	MsgUnknownPriority = "Unknown priority"
)

// Errors maps a form field name to its message. An empty Errors means
// the draft can be submitted.
type Errors map[string]string

// Empty reports whether there are no errors.
func (e Errors) Empty() bool {
	return len(e) == 0
}

// Fields returns the failing field names, sorted.
func (e Errors) Fields() []string {
	out := make([]string, 0, len(e))
	for k := range e {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func engine() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their JSON name so errors line up with form names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks that title, start, end, description and priority are
// present. Each empty field yields exactly one "Required" entry. Ordering
// between start and end is not checked here.
//
// Priority is a closed set: a populated value other than High, Medium or
// Low yields "Unknown priority", so a draft with all five fields filled
// is not always clean.
func Validate(d model.Draft) Errors {
	errs := Errors{}

	err := engine().Struct(d)
	if err == nil {
		return errs
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// Only reachable on a programming error (non-struct input).
		errs["form"] = err.Error()
		return errs
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			errs[fe.Field()] = MsgRequired
		case "oneof":
			errs[fe.Field()] = MsgUnknownPriority
		default:
			errs[fe.Field()] = fe.Error()
		}
	}
	return errs
}
