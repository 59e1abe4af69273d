package middleware

import (
	"net/http"

	apperrors "github.com/djinilabs/helpmaton-sub006/internal/errors"
	"github.com/djinilabs/helpmaton-sub006/internal/httputil"
)

// writeError keeps middleware rejections in the same envelope as handler
// errors.
func writeError(w http.ResponseWriter, status int, err *apperrors.AppError) {
	httputil.WriteErrorWithStatus(w, status, err)
}
