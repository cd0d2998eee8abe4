package guard

import "fmt"

// View is one of the forms a lock surface can show.
type View int

const (
	// ViewLock asks for the existing password.
	ViewLock View = iota
	// ViewCreate asks for a first password.
	ViewCreate
	// ViewReset asks for a replacement password after verification.
	ViewReset
)

func (v View) String() string {
	switch v {
	case ViewLock:
		return "lock"
	case ViewCreate:
		return "create"
	case ViewReset:
		return "reset"
	default:
		return fmt.Sprintf("view(%d)", int(v))
	}
}

// Surface is the lock overlay of one page context. Calls are made with the
// guard's lock held and must not call back into the Guard.
type Surface interface {
	// Render shows the surface with the given view.
	Render(view View)
	// SwitchView changes the view of a rendered surface in place.
	SwitchView(view View)
	// Remove takes the surface down.
	Remove()
	// ShowError displays a message on the surface.
	ShowError(msg string)
	// ClearInput empties the password field.
	ClearInput()
	// OfferBiometric shows the biometric unlock entry.
	OfferBiometric()
}
