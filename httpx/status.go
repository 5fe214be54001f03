package httpx

import "net/http"

// Statuses the social API answers with. The body is always an envelope; the
// status only classifies it.
const (
	StatusOK                 = http.StatusOK
	StatusCreated            = http.StatusCreated
	StatusNoContent          = http.StatusNoContent
	StatusBadRequest         = http.StatusBadRequest // invalid input, self follow
	StatusNotFound           = http.StatusNotFound   // unknown user or route
	StatusConflict           = http.StatusConflict   // already following, not following, username taken
	StatusUnsupportedMedia   = http.StatusUnsupportedMediaType
	StatusInternalError      = http.StatusInternalServerError
	StatusBadGateway         = http.StatusBadGateway
	StatusServiceUnavailable = http.StatusServiceUnavailable // deadline exceeded
)
