package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/imagegen-studio/internal/api/response"
	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/logging"
)

var validate = validator.New()

// maxJSONBody bounds request documents; prompts are capped well below it.
const maxJSONBody = 1 << 20

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, response.ErrorBody{ErrorType: string(domain.KindInvalidArgument), Message: "invalid request body"})
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make(map[string]string)
			for _, e := range validationErrors {
				field := e.Field()
				tag := e.Tag()
				switch tag {
				case "required":
					fields[field] = "field is required"
				case "uuid":
					fields[field] = "must be a valid UUID"
				case "min":
					fields[field] = "must be at least " + e.Param()
				case "max":
					fields[field] = "must be at most " + e.Param()
				default:
					fields[field] = "validation failed on " + tag
				}
			}
			response.BadRequest(w, map[string]any{
				"error_type": string(domain.KindInvalidArgument),
				"message":    "validation failed",
				"fields":     fields,
			})
			return false
		}
		response.BadRequest(w, response.ErrorBody{ErrorType: string(domain.KindInvalidArgument), Message: err.Error()})
		return false
	}
	return true
}

func errorBody(e *domain.Error) response.ErrorBody {
	body := response.ErrorBody{ErrorType: string(e.Kind), Message: e.Message}
	if e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		body.RetryAfter = &secs
	}
	return body
}

// writeError maps a service error to its HTTP status and typed body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := domain.AsError(err)
	if !ok {
		log.Error().
			Str("error", logging.RedactSecrets(err.Error())).
			Str("path", r.URL.Path).
			Msg("Unexpected error handling request")
		response.InternalError(w, response.ErrorBody{ErrorType: string(domain.KindServer), Message: "An unexpected error occurred."})
		return
	}

	switch {
	case domain.IsGenerationKind(e.Kind):
		response.UnprocessableEntity(w, errorBody(e))
	case e.Kind == domain.KindInvalidArgument:
		response.BadRequest(w, errorBody(e))
	case e.Kind == domain.KindNotFound:
		response.NotFound(w, errorBody(e))
	case e.Kind == domain.KindInvalidState:
		response.Conflict(w, errorBody(e))
	default:
		log.Error().
			Str("error", logging.RedactSecrets(err.Error())).
			Str("path", r.URL.Path).
			Msg("Unclassified domain error")
		response.InternalError(w, errorBody(e))
	}
}
