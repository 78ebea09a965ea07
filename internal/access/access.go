// Package access decides whether a view may render for the current session
// or where the visitor is sent instead. It is a convenience for the client,
// not a security boundary: the remote API authorizes every request itself.
package access

import "github.com/pliu/bizdir/internal/models"

const (
	RoutePublic           = "/"
	RouteChat             = "/chat"
	RouteBusiness         = "/business"
	RouteBusinessRegister = "/business/register"
	RouteAdmin            = "/admin"
)

type View int

const (
	ViewPublic View = iota
	ViewChat
	ViewBusiness
	ViewAdmin
)

func (v View) String() string {
	switch v {
	case ViewChat:
		return "chat"
	case ViewBusiness:
		return "business"
	case ViewAdmin:
		return "admin"
	}
	return "public"
}

// Session is what the gates need to know about the signed-in state.
type Session interface {
	Identity() (models.Identity, bool)
	Loading() bool
}

type Decision struct {
	Allow    bool
	Redirect string
}

func allow() Decision { return Decision{Allow: true} }

func redirect(to string) Decision { return Decision{Redirect: to} }

// Check runs the gate of view against s.
func Check(view View, s Session) Decision {
	id, ok := s.Identity()
	switch view {
	case ViewChat:
		if !ok {
			return redirect(RoutePublic)
		}
	case ViewAdmin:
		// No decision while the profile is still loading.
		if s.Loading() {
			return Decision{}
		}
		if !ok || id.Role != models.RoleAdmin {
			return redirect(RoutePublic)
		}
	case ViewBusiness:
		if !ok {
			return redirect(RoutePublic)
		}
		if id.Role != models.RoleBusiness {
			return redirect(RouteBusinessRegister)
		}
	}
	return allow()
}
