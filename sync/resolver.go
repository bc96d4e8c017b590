package sync

import "context"

// Choice is one option offered to a Resolver.
type Choice struct {
	Key   string
	Label string
}

// Resolver answers the engine's questions: conflict resolution, role
// mapping, scope selection. A batch run supplies a deterministic
// resolver; an interactive run supplies one backed by the terminal.
type Resolver interface {
	// Resolve picks one choice key. def is returned when the resolver
	// has no opinion.
	Resolve(ctx context.Context, prompt string, choices []Choice, def string) (string, error)
}

// StaticResolver always answers with its configured selection, falling
// back to the default when the selection is not among the choices.
type StaticResolver struct {
	Selection string
}

func (r StaticResolver) Resolve(_ context.Context, _ string, choices []Choice, def string) (string, error) {
	for _, c := range choices {
		if c.Key == r.Selection {
			return r.Selection, nil
		}
	}
	return def, nil
}

// Conflict resolution choice keys.
const (
	ResolveClient = "client"
	ResolveServer = "server"
	ResolveSkip   = "skip"
)

var conflictChoices = []Choice{
	{Key: ResolveClient, Label: "Use client data (update server)"},
	{Key: ResolveServer, Label: "Use server data (update client)"},
	{Key: ResolveSkip, Label: "Skip this user"},
}

// ScopeCatalogue is the fixed set of scopes offered during scope
// selection.
var ScopeCatalogue = []Choice{
	{Key: "read", Label: "Read access to user data"},
	{Key: "write", Label: "Write access to modify data"},
	{Key: "admin", Label: "Administrative privileges"},
	{Key: "profile", Label: "Access to user profile information"},
	{Key: "email", Label: "Access to user email"},
	{Key: "roles", Label: "Access to user roles and permissions"},
}
