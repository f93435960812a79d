package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	gin.SetMode(gin.TestMode)

	f := newFixture(t, 5)
	handler := NewHandler(f.engine)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)

	return r, f
}

func doJSON(router *gin.Engine, method, path string, payload interface{}) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlerCreateAndGetEscrow(t *testing.T) {
	router, f := setupTestRouter(t)
	f.mintAsset(t, "1")

	w := doJSON(router, "POST", "/v1/escrows", CreateEscrowRequest{
		AssetContract: nftContract,
		AssetTokenID:  "1",
		Seller:        sellerAddr,
		Buyer:         buyerAddr,
		Price:         "10",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var createResp struct {
		Escrow struct {
			ID     uint64 `json:"id"`
			Status string `json:"status"`
			Price  string `json:"price"`
		} `json:"escrow"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &createResp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if createResp.Escrow.Status != "pending" {
		t.Errorf("status = %s, want pending", createResp.Escrow.Status)
	}

	w = doJSON(router, "GET", fmt.Sprintf("/v1/escrows/%d", createResp.Escrow.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandlerCreateValidation(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name string
		req  CreateEscrowRequest
	}{
		{
			name: "bad seller address",
			req: CreateEscrowRequest{
				AssetContract: nftContract, AssetTokenID: "1",
				Seller: "not-an-address", Buyer: buyerAddr, Price: "1",
			},
		},
		{
			name: "bad token id",
			req: CreateEscrowRequest{
				AssetContract: nftContract, AssetTokenID: "abc",
				Seller: sellerAddr, Buyer: buyerAddr, Price: "1",
			},
		},
		{
			name: "negative price",
			req: CreateEscrowRequest{
				AssetContract: nftContract, AssetTokenID: "1",
				Seller: sellerAddr, Buyer: buyerAddr, Price: "-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, "POST", "/v1/escrows", tt.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestHandlerCompleteFlow(t *testing.T) {
	router, f := setupTestRouter(t)
	f.mintAsset(t, "1")
	f.fund(t, buyerAddr, 10)

	w := doJSON(router, "POST", "/v1/escrows", CreateEscrowRequest{
		AssetContract: nftContract, AssetTokenID: "1",
		Seller: sellerAddr, Buyer: buyerAddr, Price: "10",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d: %s", w.Code, w.Body.String())
	}

	// Wrong amount is a precondition failure
	w = doJSON(router, "POST", "/v1/escrows/1/complete", CompleteEscrowRequest{
		Buyer: buyerAddr, Amount: "9",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("mismatched amount: got %d, want 422", w.Code)
	}

	// Wrong caller is forbidden
	w = doJSON(router, "POST", "/v1/escrows/1/complete", CompleteEscrowRequest{
		Buyer: otherAddr, Amount: "10",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong caller: got %d, want 403", w.Code)
	}

	w = doJSON(router, "POST", "/v1/escrows/1/complete", CompleteEscrowRequest{
		Buyer: buyerAddr, Amount: "10",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("complete: got %d: %s", w.Code, w.Body.String())
	}

	// Second completion conflicts
	w = doJSON(router, "POST", "/v1/escrows/1/complete", CompleteEscrowRequest{
		Buyer: buyerAddr, Amount: "10",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("repeat completion: got %d, want 409", w.Code)
	}
}

func TestHandlerCompleteInsufficientFunds(t *testing.T) {
	router, f := setupTestRouter(t)
	f.mintAsset(t, "1")
	f.fund(t, buyerAddr, 1)

	w := doJSON(router, "POST", "/v1/escrows", CreateEscrowRequest{
		AssetContract: nftContract, AssetTokenID: "1",
		Seller: sellerAddr, Buyer: buyerAddr, Price: "10",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d", w.Code)
	}

	w = doJSON(router, "POST", "/v1/escrows/1/complete", CompleteEscrowRequest{
		Buyer: buyerAddr, Amount: "10",
	})
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("got %d, want 402: %s", w.Code, w.Body.String())
	}
}

func TestHandlerCancel(t *testing.T) {
	router, f := setupTestRouter(t)
	f.mintAsset(t, "1")

	w := doJSON(router, "POST", "/v1/escrows", CreateEscrowRequest{
		AssetContract: nftContract, AssetTokenID: "1",
		Seller: sellerAddr, Buyer: buyerAddr, Price: "10",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d", w.Code)
	}

	w = doJSON(router, "POST", "/v1/escrows/1/cancel", CancelEscrowRequest{Seller: buyerAddr})
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong caller: got %d, want 403", w.Code)
	}

	w = doJSON(router, "POST", "/v1/escrows/1/cancel", CancelEscrowRequest{Seller: sellerAddr})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: got %d: %s", w.Code, w.Body.String())
	}

	// Tombstone still retrievable
	w = doJSON(router, "GET", "/v1/escrows/1", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get tombstone: got %d, want 200", w.Code)
	}
}

func TestHandlerListEscrows(t *testing.T) {
	router, f := setupTestRouter(t)
	f.mintAsset(t, "1")
	ctx := context.Background()

	if _, err := f.engine.Create(ctx, CreateRequest{
		Asset:  f.mintAsset(t, "2"),
		Seller: sellerAddr,
		Buyer:  buyerAddr,
		Price:  units(1),
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := doJSON(router, "GET", "/v1/participants/"+sellerAddr+"/escrows?role=seller", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: got %d", w.Code)
	}

	var listResp struct {
		Escrows []json.RawMessage `json:"escrows"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(listResp.Escrows) != 1 {
		t.Errorf("escrows = %d, want 1", len(listResp.Escrows))
	}

	w = doJSON(router, "GET", "/v1/participants/"+sellerAddr+"/escrows?role=wrong", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad role: got %d, want 400", w.Code)
	}
}

func TestHandlerInvalidID(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(router, "GET", "/v1/escrows/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", w.Code)
	}

	w = doJSON(router, "GET", "/v1/escrows/404", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", w.Code)
	}
}
