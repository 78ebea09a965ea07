package access

import (
	"testing"

	"github.com/pliu/bizdir/internal/models"
)

type fakeSession struct {
	identity *models.Identity
	loading  bool
}

func (f fakeSession) Identity() (models.Identity, bool) {
	if f.identity == nil {
		return models.Identity{}, false
	}
	return *f.identity, true
}

func (f fakeSession) Loading() bool { return f.loading }

func as(role models.Role) fakeSession {
	return fakeSession{identity: &models.Identity{ID: "u1", Role: role}}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name         string
		view         View
		session      fakeSession
		wantAllow    bool
		wantRedirect string
	}{
		{"public always renders", ViewPublic, fakeSession{}, true, ""},
		{"chat without credential", ViewChat, fakeSession{}, false, RoutePublic},
		{"chat signed in", ViewChat, as(models.RoleUser), true, ""},
		{"admin without credential", ViewAdmin, fakeSession{}, false, RoutePublic},
		{"admin as administrator", ViewAdmin, as(models.RoleAdmin), true, ""},
		{"admin as user", ViewAdmin, as(models.RoleUser), false, RoutePublic},
		{"admin as business", ViewAdmin, as(models.RoleBusiness), false, RoutePublic},
		{"admin with unknown role", ViewAdmin, as(models.ParseRole("superuser")), false, RoutePublic},
		{"admin while loading", ViewAdmin, fakeSession{loading: true}, false, ""},
		{"business without credential", ViewBusiness, fakeSession{}, false, RoutePublic},
		{"business as owner", ViewBusiness, as(models.RoleBusiness), true, ""},
		{"business as user", ViewBusiness, as(models.RoleUser), false, RouteBusinessRegister},
		{"business as administrator", ViewBusiness, as(models.RoleAdmin), false, RouteBusinessRegister},
		{"business while loading without credential", ViewBusiness, fakeSession{loading: true}, false, RoutePublic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Check(tt.view, tt.session)
			if d.Allow != tt.wantAllow || d.Redirect != tt.wantRedirect {
				t.Errorf("Check(%s) = %+v, want allow=%v redirect=%q", tt.view, d, tt.wantAllow, tt.wantRedirect)
			}
		})
	}
}
