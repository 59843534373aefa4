package ports

// Navigator moves the user back to the login entry point after the session
// became unrecoverable.
type Navigator interface {
	RedirectToLogin(reason string)
}

type NavigatorFunc func(reason string)

func (f NavigatorFunc) RedirectToLogin(reason string) {
	f(reason)
}
