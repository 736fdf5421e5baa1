package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classline/classline/internal/models"
	"github.com/classline/classline/internal/search"
	appErrors "github.com/classline/classline/pkg/errors"
	"github.com/classline/classline/pkg/response"
	appValidator "github.com/classline/classline/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}

	return true
}

func formatValidationError(err error) string {
	if err == nil {
		return "invalid request payload"
	}

	if ve, ok := err.(appValidator.ValidationErrors); ok {
		if len(ve) == 0 {
			return "invalid request payload"
		}

		messages := make([]string, 0, len(ve))
		for _, failure := range ve {
			field := prettifyFieldName(failure.Field)
			switch failure.Tag {
			case "required":
				messages = append(messages, fmt.Sprintf("%s is required", field))
			case "email":
				messages = append(messages, fmt.Sprintf("%s must be a valid email address", field))
			case "min":
				messages = append(messages, fmt.Sprintf("%s must be at least %s characters", field, failure.Param))
			case "max":
				messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, failure.Param))
			default:
				if failure.Param != "" {
					messages = append(messages, fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param))
				} else {
					messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, failure.Tag))
				}
			}
		}
		return strings.Join(messages, "; ")
	}

	return "invalid request payload"
}

func prettifyFieldName(name string) string {
	if name == "" {
		return "field"
	}
	name = strings.ReplaceAll(name, "_", " ")
	return strings.ToLower(name)
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// parsePage reads page/limit query parameters.
func parsePage(c *gin.Context) search.Page {
	return search.Page{
		Page:  parseIntQuery(c, "page", 1),
		Limit: parseIntQuery(c, "limit", 0),
	}
}

// parseFilter reads the shared message filter from query parameters. An
// unparseable date or unknown type yields an error so clients learn about
// the mistake instead of silently getting an unfiltered result.
func parseFilter(c *gin.Context) (search.Filter, error) {
	var filter search.Filter

	filter.Query = strings.TrimSpace(c.Query("q"))
	filter.StudentID = strings.TrimSpace(c.Query("student_id"))

	if raw := strings.TrimSpace(c.Query("is_read")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, appErrors.NewBadRequest("is_read must be a boolean")
		}
		filter.IsRead = &parsed
	}

	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		msgType := models.MessageType(raw)
		if !models.ValidMessageType(msgType) {
			return filter, appErrors.NewBadRequest(fmt.Sprintf("unknown message type %q", raw))
		}
		filter.Type = msgType
	}

	if raw := strings.TrimSpace(c.Query("date_from")); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			return filter, appErrors.NewBadRequest("date_from must be an RFC 3339 timestamp or YYYY-MM-DD date")
		}
		filter.DateFrom = &parsed
	}

	if raw := strings.TrimSpace(c.Query("date_to")); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			return filter, appErrors.NewBadRequest("date_to must be an RFC 3339 timestamp or YYYY-MM-DD date")
		}
		filter.DateTo = &parsed
	}

	return filter, nil
}

func parseDate(raw string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02", raw)
}
