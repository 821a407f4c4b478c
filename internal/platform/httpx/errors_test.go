package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kinbay/kinbay/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("product 1: %w", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("own product: %w", shared.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("sold: %w", shared.ErrConflict), http.StatusConflict},
		{fmt.Errorf("dates: %w", shared.ErrInvalidInput), http.StatusBadRequest},
		{shared.ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("password=hunter2"))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body.Detail)
	require.False(t, IsClientError(errors.New("x")))
	require.True(t, IsClientError(fmt.Errorf("x: %w", shared.ErrConflict)))
}
