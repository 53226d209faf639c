package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func doRBAC(t *testing.T, userRoles []string, required ...string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(string(UserRolesKey), userRoles)

	h := RequireRole(required...)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return h(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	if err := doRBAC(t, []string{"billing"}, "billing"); err != nil {
		t.Errorf("billing role should pass billing check: %v", err)
	}
}

func TestRequireRole_AdminOverride(t *testing.T) {
	if err := doRBAC(t, []string{"admin"}, "billing"); err != nil {
		t.Errorf("admin should pass every check: %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	err := doRBAC(t, []string{"frontdesk"}, "billing")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	err := doRBAC(t, nil, "billing")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}
