package api

import (
	"storefront/internal/apperr"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Error   apperr.Code `json:"error"`
	Message string      `json:"message"`
	Details any         `json:"details,omitempty"`
}

func renderError(c *gin.Context, err error) (int, errorResponse) {
	code := apperr.CodeOf(err)
	meta := apperr.MetadataFor(code)
	resp := errorResponse{Error: code, Message: meta.PublicMessage}

	if typed := apperr.As(err); typed != nil {
		resp.Details = typed.Details()
		// collaborator failures keep their cause out of the response
		if code != apperr.CodeTemporaryFailure {
			resp.Message = typed.Message()
		}
	}

	if meta.HTTPStatus >= 500 {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	if meta.Retryable {
		c.Header("Retry-After", "1")
	}
	return meta.HTTPStatus, resp
}

func respondError(c *gin.Context, err error) {
	status, resp := renderError(c, err)
	c.JSON(status, resp)
}

func abortWithError(c *gin.Context, err error) {
	status, resp := renderError(c, err)
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, message string, err error) {
	details := map[string]string{}
	if err != nil {
		details["body"] = err.Error()
	}
	respondError(c, apperr.New(apperr.CodeValidation, message).WithDetails(details))
}
