package errors

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCode_ThroughWrapping(t *testing.T) {
	base := NewValidationError("contents and embeddings differ in length")
	wrapped := fmt.Errorf("add chunks: %w", base)

	assert.True(t, IsCode(wrapped, ErrCodeValidationFailed))
	assert.False(t, IsCode(wrapped, ErrCodeLLM))
	assert.True(t, IsAppError(wrapped))
}

func TestIsCode_NestedAppErrors(t *testing.T) {
	inner := NewConfigError("overlap must be smaller than max tokens")
	outer := NewSystemError(ErrCodeInternalServer, "bootstrap failed").WithCause(inner)

	assert.True(t, IsCode(outer, ErrCodeInternalServer))
	assert.True(t, IsCode(outer, ErrCodeConfig))
}

func TestConstructors_HTTPCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want int
	}{
		{"validation", NewValidationError("bad"), http.StatusBadRequest},
		{"not found", NewNotFoundError("document"), http.StatusNotFound},
		{"conversion", NewConversionError("a.bin", nil), http.StatusUnprocessableEntity},
		{"llm", NewLLMError("llm failed", nil), http.StatusBadGateway},
		{"schema", NewSchemaMismatchError("dim"), http.StatusInternalServerError},
		{"business not found", NewBusinessError(ErrCodeResourceNotFound, "x"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPCode)
		})
	}
}

func TestAppError_ErrorIncludesCause(t *testing.T) {
	err := NewLLMError("language model unavailable", fmt.Errorf("503"))
	assert.Equal(t, "language model unavailable: 503", err.Error())
	assert.EqualError(t, err.Unwrap(), "503")
}

func TestGetAppError_WrapsPlainErrors(t *testing.T) {
	appErr := GetAppError(fmt.Errorf("boom"))
	require.NotNil(t, appErr)
	assert.Equal(t, ErrCodeInternalServer, appErr.Code)
}

func TestTranslator_Translate(t *testing.T) {
	tr := NewErrorTranslator()

	assert.Nil(t, tr.Translate(nil))
	assert.Equal(t, ErrCodeTimeout, tr.Translate(context.DeadlineExceeded).Code)
	assert.Equal(t, ErrCodeResourceNotFound, tr.Translate(fmt.Errorf("open: %w", os.ErrNotExist)).Code)

	type request struct {
		Question string `validate:"required,min=1"`
		TopK     int    `validate:"gte=1,lte=20"`
	}
	err := validator.New().Struct(request{TopK: 50})
	require.Error(t, err)

	appErr := tr.Translate(err)
	assert.Equal(t, ErrCodeValidationFailed, appErr.Code)
	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, details["errors"], 2)
}
