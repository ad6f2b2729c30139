package api

import (
	"github.com/gin-gonic/gin"

	"github.com/maxibaudrix/Kiui/internal/planerr"
)

const dashboardPath = "/dashboard"

type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
	PlanID  string   `json:"planId,omitempty"`
}

type errorResponse struct {
	Error      errorBody `json:"error"`
	RedirectTo string    `json:"redirectTo,omitempty"`
}

// errorResponseFor maps err onto the client envelope. Only the kind's public
// message leaves the process; validation fields and conflicting plan ids are
// the caller's own data.
func errorResponseFor(err error) (int, errorResponse) {
	kind := planerr.KindOf(err)
	resp := errorResponse{Error: errorBody{Code: kind.Code(), Message: kind.PublicMessage()}}
	if pe, ok := planerr.As(err); ok {
		switch pe.Kind {
		case planerr.KindValidation:
			resp.Error.Fields = pe.Fields
		case planerr.KindConflict:
			resp.Error.PlanID = pe.PlanID
			resp.RedirectTo = dashboardPath
		}
	}
	return kind.HTTPStatus(), resp
}

func abortWithError(c *gin.Context, err error) {
	status, resp := errorResponseFor(err)
	c.AbortWithStatusJSON(status, resp)
}
