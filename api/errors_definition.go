//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// Error codes in the 40001-49999 range are the caller's fault and return an
// HTTP 4xx status. Codes 50001-59999 are this instance's fault and return
// 500/503. NEVER change an existing code's meaning, only append new ones
// after the current last 4XXXX/5XXXX — a gap left by a retired error is
// not reused.
var (
	ErrResourceNotFound           = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody              = Error{Code: 40002, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrUnauthorized               = Error{Code: 40003, HTTPstatus: http.StatusUnauthorized, Err: fmt.Errorf("unauthorized")}
	ErrMalformedParam             = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed parameter")}
	ErrWalletNotFound             = Error{Code: 40005, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("wallet not found")}
	ErrExpertNotFound             = Error{Code: 40006, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("expert not found")}
	ErrDuplicateName              = Error{Code: 40007, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("name already in use")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
)
