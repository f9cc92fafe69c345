package login

// Route identifiers the controller navigates to.
const (
	RouteHome          = "home"
	RouteResetPassword = "reset-password"
)

// Navigator moves the user between screens. Replace swaps the current screen
// so the login screen does not stay on the back stack.
type Navigator interface {
	Push(route string)
	Replace(route string)
}

// Presenter mutates the login screen's visible state.
type Presenter interface {
	SetLoading(loading bool)
	ShowMessage(message string)
}
