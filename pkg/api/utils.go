package api

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/justindthomas/imp/pkg/engine"
	"github.com/justindthomas/imp/pkg/stores"
)

// maxBodySize bounds candidate configurations posted to the API.
const maxBodySize = 4 << 20

// Message is the body of every error response.
type Message struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseJson writes v as JSON with status 200.
func ResponseJson(w http.ResponseWriter, v interface{}) {
	ResponseJsonStatus(w, http.StatusOK, v)
}

// ResponseJsonStatus writes v as JSON with the given status.
func ResponseJsonStatus(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// ResponseError writes an error message.
func ResponseError(w http.ResponseWriter, status int, code, message string) {
	ResponseJsonStatus(w, status, &Message{Code: code, Message: message})
}

// ResponseErr maps err to a status and writes it.
func ResponseErr(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	ResponseError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, stores.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, engine.ErrCycleInProgress):
		return http.StatusConflict, "CYCLE_IN_PROGRESS"
	}

	var ee *engine.EngineError
	if errors.As(err, &ee) {
		switch {
		case engine.IsValidation(err), engine.IsDependency(err):
			return http.StatusUnprocessableEntity, ee.Code
		case engine.IsResourceExhaustion(err):
			return http.StatusConflict, ee.Code
		}
		return http.StatusInternalServerError, ee.Code
	}
	return http.StatusInternalServerError, engine.ErrCodeInternal
}

// GetQueryOne returns the first value of a query parameter.
func GetQueryOne(r *http.Request, name string) string {
	return r.URL.Query().Get(name)
}

// GetQueryInt parses a non-negative integer query parameter.
func GetQueryInt(r *http.Request, name string, def int) (int, error) {
	v := GetQueryOne(r, name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &queryError{name: name, value: v}
	}
	return n, nil
}

// GetQueryBool parses a boolean query parameter.
func GetQueryBool(r *http.Request, name string) (bool, error) {
	v := GetQueryOne(r, name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &queryError{name: name, value: v}
	}
	return b, nil
}

type queryError struct {
	name  string
	value string
}

func (e *queryError) Error() string {
	return "invalid value " + strconv.Quote(e.value) + " for " + e.name
}

// GetBody reads a bounded request body.
func GetBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodySize))
}
