package httpserver

// handlers bundles the dependencies shared by every route registered in
// NewRouter's protected group.
type handlers struct {
	deps Deps
}
