package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"booklessons/internal/middleware"
	"booklessons/internal/service"
)

var registerFieldNames sync.Once

// useJSONFieldNames makes validator errors report the JSON name of a field
// ("tutorId") instead of the Go one ("TutorID").
func useJSONFieldNames() {
	registerFieldNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// bindJSON binds the request body and answers 400 naming the offending field
// when that fails.
func bindJSON(c *gin.Context, obj interface{}) bool {
	useJSONFieldNames()
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, bindErrorBody(err))
		return false
	}
	return true
}

func bindErrorBody(err error) gin.H {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fe := validationErrs[0]
		return gin.H{"error": fmt.Sprintf("%s failed the '%s' check", fe.Field(), fe.Tag()), "field": fe.Field()}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return gin.H{"error": fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type), "field": typeErr.Field}
	}

	return gin.H{"error": "Invalid request body: " + err.Error()}
}

// respondError maps service errors onto HTTP statuses. Anything unrecognized
// is logged and reported as a 500 without details.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		validationErr *service.ValidationError
		dependencyErr *service.ExternalDependencyError
		notFoundErr   *service.NotFoundError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message, "field": validationErr.Field})
	case errors.As(err, &dependencyErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": dependencyErr.Message, "field": dependencyErr.Field})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// uuidParam parses a path parameter, answering 400 when it is not a UUID.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name, "field": name})
		return uuid.Nil, false
	}
	return id, true
}

// actorID returns the authenticated user, if the auth middleware set one.
func actorID(c *gin.Context) *uuid.UUID {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}
