package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestRequireFirebaseAuth_AllowsStaffToken(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]interface{}{
			"role":  []interface{}{"Staff", "staff"},
			"email": "ops@example.com",
		},
	}}
	authn := NewAuthenticator(verifier)

	called := false
	handler := authn.RequireFirebaseAuth(RoleStaff, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" || identity.Email != "ops@example.com" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if len(identity.Roles) != 1 || !identity.IsStaff() {
			t.Fatalf("expected deduplicated staff role, got %v", identity.Roles)
		}
		if !identity.CanAccess("someone-else") {
			t.Fatalf("staff should access any order")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called, status %d", rec.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("unexpected token passed to verifier: %q", verifier.received)
	}
}

func TestRequireFirebaseAuth_DefaultsToCustomer(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "cust-1", Claims: map[string]interface{}{}}}
	handler := NewAuthenticator(verifier).RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if !identity.HasRole(RoleCustomer) || identity.IsStaff() {
			t.Fatalf("expected customer role, got %v", identity.Roles)
		}
		if identity.CanAccess("cust-2") {
			t.Fatalf("customer must not access another user's order")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer t")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestRequireFirebaseAuth_Rejections(t *testing.T) {
	cases := map[string]struct {
		header   string
		verifier *stubTokenVerifier
		roles    []string
		status   int
		code     string
	}{
		"missing header": {
			verifier: &stubTokenVerifier{},
			status:   http.StatusUnauthorized,
			code:     "unauthenticated",
		},
		"wrong scheme": {
			header:   "Basic abc",
			verifier: &stubTokenVerifier{},
			status:   http.StatusUnauthorized,
			code:     "unauthenticated",
		},
		"invalid token": {
			header:   "Bearer bad",
			verifier: &stubTokenVerifier{err: errors.New("bad signature")},
			status:   http.StatusUnauthorized,
			code:     "invalid_token",
		},
		"customer on staff route": {
			header:   "Bearer ok",
			verifier: &stubTokenVerifier{token: &firebaseauth.Token{UID: "u", Claims: map[string]interface{}{"role": "customer"}}},
			roles:    []string{RoleStaff, RoleAdmin},
			status:   http.StatusForbidden,
			code:     "forbidden",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			handler := NewAuthenticator(tc.verifier).RequireFirebaseAuth(tc.roles...)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestRolesFromClaimMapForm(t *testing.T) {
	roles := rolesFromClaim(map[string]any{"admin": true, "staff": false})
	if len(roles) != 1 || roles[0] != RoleAdmin {
		t.Fatalf("unexpected roles %v", roles)
	}
}
