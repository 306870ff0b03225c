package common_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Developersbbs/Rental-client-sub001/internal/common"
)

type line struct {
	Name string `json:"name" validate:"required"`
}

type sample struct {
	Method string `json:"payment_method" validate:"required"`
	Notes  string `json:"notes" validate:"max=5"`
	Lines  []line `json:"lines" validate:"dive"`
}

func TestValidationFailedUsesJSONNames(t *testing.T) {
	v := common.NewValidator()
	err := common.ValidationFailed(v.Struct(sample{Notes: "too long", Lines: []line{{}}}))

	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	details, ok := appErr.Details.([]common.FieldError)
	require.True(t, ok)
	require.ElementsMatch(t, []common.FieldError{
		{Field: "payment_method", Rule: "required"},
		{Field: "notes", Rule: "max", Param: "5"},
		{Field: "lines[0].name", Rule: "required"},
	}, details)
}

func TestValidationFailedPassesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	require.Same(t, boom, common.ValidationFailed(boom))
	require.NoError(t, common.NewValidator().Struct(sample{Method: "cash"}))
}
