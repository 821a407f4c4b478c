package transactions

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/kinbay/kinbay/internal/availability"
	"github.com/kinbay/kinbay/internal/domain"
	"github.com/kinbay/kinbay/internal/shared"
)

func headerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get("X-Test-User"), 10, 64)
		if err != nil || id <= 0 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(r.Context(), id)))
	})
}

func newTestRouter(repo *memoryRepo) http.Handler {
	svc, _ := newTestService(repo)
	h := NewHandler(nil, svc, headerIdentity)
	r := chi.NewRouter()
	r.Route("/products", h.MountAvailabilityRoutes)
	r.Route("/transactions", h.MountRoutes)
	return r
}

func send(router http.Handler, method, path, body string, userID int64, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set("X-Test-User", strconv.FormatInt(userID, 10))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRentThenComplete(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	router := newTestRouter(repo)

	rec := send(router, http.MethodPost, "/transactions/rent", `{"productId":"10","price":12.5,"startDate":"2024-01-01","endDate":"2024-01-05T00:00:00Z"}`, renter)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, domain.StatusPending, created.Status)
	require.Contains(t, rec.Body.String(), `"productId":"10"`)

	path := "/transactions/" + strconv.FormatInt(created.ID, 10) + "/complete"
	rec = send(router, http.MethodPost, path, "", renter)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(router, http.MethodPost, path, "", owner)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"COMPLETED"`)

	rec = send(router, http.MethodGet, "/products/10/availability?startDate=2024-01-05&endDate=2024-01-08", "", 0)
	require.Equal(t, http.StatusOK, rec.Code)
	var verdict availability.Verdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verdict))
	require.False(t, verdict.Available)
	require.Equal(t, availability.ReasonRented, verdict.Reason)
}

func TestHandlerCreateErrors(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	router := newTestRouter(repo)

	rec := send(router, http.MethodPost, "/transactions/buy", `{"productId":"10","price":5}`, 0)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(router, http.MethodPost, "/transactions/buy", `{"productId":"10","price":5}`, owner)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(router, http.MethodPost, "/transactions/buy", `{"productId":"nope","price":5}`, buyer)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(router, http.MethodPost, "/transactions/buy", `{"productId":"10"}`, buyer)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(router, http.MethodPost, "/transactions/rent", `{"productId":"10","price":5}`, buyer)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(router, http.MethodPost, "/transactions/rent", `{"productId":"77","price":5}`, buyer)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(router, http.MethodPost, "/transactions/buy", `{"productId":"10","price":5}`, buyer, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = send(router, http.MethodPost, "/transactions/buy", `{"productId":"10","price":5}`, buyer, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerListings(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	repo.addTransaction(domain.Transaction{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, Status: domain.StatusPending})
	router := newTestRouter(repo)

	rec := send(router, http.MethodGet, "/transactions/mine", "", buyer)
	require.Equal(t, http.StatusOK, rec.Code)
	var parts Partitions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parts))
	require.Len(t, parts.Bought, 1)
	require.Empty(t, parts.Lent)

	rec = send(router, http.MethodGet, "/transactions/pending", "", owner)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)

	rec = send(router, http.MethodGet, "/transactions/1", "", stranger)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
