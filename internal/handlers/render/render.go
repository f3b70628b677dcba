package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
)

const (
	ValidationErrorType = "validation_failed"
	DecodingErrorType   = "decoding_failed"
	ServiceErrorType    = "service_error"
)

var validate = validator.New()

func init() {
	validate.RegisterTagNameFunc(useJSONTagNames)
}

// Report 'TagName' json tag instead of struct field name
func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

type Struct any

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	jsonWithStatus(w, data, http.StatusOK)
}

func JSONWithStatus(w http.ResponseWriter, data any, code int) {
	jsonWithStatus(w, data, code)
}

// Render ServiceError
func ServiceError(w http.ResponseWriter, error string, code int) {
	response := ErrorResponse{
		Error:   ServiceErrorType,
		Message: error,
	}

	jsonWithStatus(w, response, code)
}

type errorStatus struct {
	err     error
	code    int
	message string
}

// Order matters: first match wins
var statuses = []errorStatus{
	{apperrors.ErrInvalidCodeFormat, http.StatusBadRequest, "Verification code is malformed"},
	{apperrors.ErrInvalidInput, http.StatusBadRequest, "Invalid input"},
	{apperrors.ErrAlreadyRegistered, http.StatusBadRequest, "Email already registered"},
	{apperrors.ErrCodeAlreadyUsed, http.StatusBadRequest, "Verification code already used"},
	{apperrors.ErrCodeExpired, http.StatusBadRequest, "Verification code expired"},
	{apperrors.ErrCodeNotFound, http.StatusNotFound, "Verification code not found"},
	{apperrors.ErrAccountNotFound, http.StatusNotFound, "Account not found"},
	{apperrors.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
	{apperrors.ErrTokenInvalidSignature, http.StatusUnauthorized, "Token is invalid"},
	{apperrors.ErrTokenExpired, http.StatusUnauthorized, "Token expired"},
	{apperrors.ErrTokenWrongType, http.StatusUnauthorized, "Token has wrong type"},
	{apperrors.ErrRefreshTokenNotFound, http.StatusUnauthorized, "Refresh token not found"},
	{apperrors.ErrRefreshTokenExpired, http.StatusUnauthorized, "Refresh token expired"},
	{apperrors.ErrEmailNotVerified, http.StatusForbidden, "Email not verified"},
	{apperrors.ErrNotificationFailed, http.StatusBadGateway, "Failed to send email"},
}

// StatusFor returns http status code and public message for the error
func StatusFor(err error) (int, string) {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.code, s.message
		}
	}

	if apperrors.IsUnavailable(err) {
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	}

	return http.StatusInternalServerError, "Internal server error"
}

// AppError renders application error with its kind as error type
func AppError(w http.ResponseWriter, err error) {
	code, message := StatusFor(err)
	response := ErrorResponse{
		Error:   apperrors.Kind(err),
		Message: message,
	}

	jsonWithStatus(w, response, code)
}

// Render json DecodeError
func DecodeError(w http.ResponseWriter, err error) {
	response := ErrorResponse{
		Error:   DecodingErrorType,
		Message: "",
	}

	var typeErr *json.UnmarshalTypeError
	var sizeErr *http.MaxBytesError

	switch {
	case errors.As(err, &typeErr):
		response.Message = fmt.Sprintf("Invalid data type for field '%s'", typeErr.Field)
	case errors.As(err, &sizeErr):
		response.Message = fmt.Sprintf("Request body too large (limit %d bytes)", sizeErr.Limit)
	case errors.Is(err, io.EOF):
		response.Message = "Request body is empty"
	default:
		response.Message = fmt.Sprintf("Failed to parse JSON: %s", err.Error())
	}

	jsonWithStatus(w, response, http.StatusBadRequest)
}

// Render ValidationErrors
func ValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	response := ErrorResponse{
		Error:   ValidationErrorType,
		Message: "Request validation failed",
		Fields:  make(map[string]string, len(errs)),
	}

	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required":
			message = "This field is required"
		case "min":
			message = fmt.Sprintf("Value is too short (minimum %s)", fieldError.Param())
		case "max":
			message = fmt.Sprintf("Value is too long (maximum %s)", fieldError.Param())
		case "len":
			message = fmt.Sprintf("Value must be exactly %s characters", fieldError.Param())
		case "numeric":
			message = "Value must contain digits only"
		case "email":
			message = "Invalid email address"
		default:
			message = "Invalid value"
		}

		response.Fields[fieldError.Field()] = message
	}

	jsonWithStatus(w, response, http.StatusBadRequest)
}

// Auth payloads are tiny
const MaxBodyBytes = 64 << 10

// BindAndValidate decodes JSON request body into type T and validates it using struct tags.
// Returns the decoded value and writes appropriate error responses for decoding or validation failures.
func BindAndValidate[T Struct](w http.ResponseWriter, r *http.Request) (T, error) {
	var value T

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&value)
	if err != nil {
		DecodeError(w, err)
		return value, err
	}

	err = validate.Struct(value)
	if err != nil {
		// pretty sure cast will be ok cause expecting T is valid struct
		errs := err.(validator.ValidationErrors)
		ValidationErrors(w, errs)
		return value, err
	}

	return value, nil
}

// jsonWithStatus sends data as json and enforces status code
func jsonWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
