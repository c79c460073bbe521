package cost

import (
	"regexp"
	"strings"
)

// BodyFlags carries the request-body switches that influence
// classification. The transport layer extracts them from the JSON body
// with a query-string fallback.
type BodyFlags struct {
	Persist        bool
	RegisterStatus bool
	HasDIDDocument bool
}

// rule maps a (method, path, flags) predicate to a cost category.
// First matching rule wins.
type rule struct {
	match    func(method, path string, f BodyFlags) bool
	category func(f BodyFlags) Category
}

// Classifier resolves requests to cost categories. Rules are compiled
// once at construction; Classify itself does no allocation.
type Classifier struct {
	rules []rule
}

var statusWithID = regexp.MustCompile(`^/credential/status/[^/]+$`)

// NewClassifier builds the route-to-category rule table.
func NewClassifier() *Classifier {
	fixed := func(c Category) func(BodyFlags) Category {
		return func(BodyFlags) Category { return c }
	}
	return &Classifier{rules: []rule{
		{
			match:    func(_, path string, _ BodyFlags) bool { return strings.Contains(path, "/did/create") },
			category: fixed(Category{Storage: KeyStorage}),
		},
		{
			match:    func(_, path string, _ BodyFlags) bool { return strings.Contains(path, "/did/register") },
			category: fixed(Category{Attestation: RegisterDID}),
		},
		{
			match: func(method, path string, f BodyFlags) bool {
				return strings.Contains(path, "/did") && method == "PATCH" && f.HasDIDDocument
			},
			category: fixed(Category{Attestation: UpdateDID}),
		},
		{
			match: func(method, path string, _ BodyFlags) bool {
				return strings.Contains(path, "/schema") && method == "POST"
			},
			category: fixed(Category{Attestation: RegisterSchema}),
		},
		{
			// Issue route pricing depends on the persist and
			// registerCredentialStatus flags. When both are false the
			// rule does not match and the request falls through to the
			// zero-cost default.
			match: func(_, path string, f BodyFlags) bool {
				return strings.Contains(path, "/credential/issue") && (f.Persist || f.RegisterStatus)
			},
			category: func(f BodyFlags) Category {
				var c Category
				if f.Persist {
					c.Storage = DataStorage
				}
				if f.RegisterStatus {
					c.Attestation = RegisterCredential
				}
				return c
			},
		},
		{
			match:    func(_, path string, _ BodyFlags) bool { return strings.Contains(path, "/credential/verify") },
			category: fixed(Category{}),
		},
		{
			match: func(_, path string, _ BodyFlags) bool {
				return strings.Contains(path, "/credential/status/register")
			},
			category: fixed(Category{Attestation: RegisterCredential}),
		},
		{
			match:    func(_, path string, _ BodyFlags) bool { return statusWithID.MatchString(path) },
			category: fixed(Category{Attestation: UpdateCredential}),
		},
	}}
}

// Classify maps a request to its cost category. Unmatched requests
// return the zero Category and cost only their API method price.
func (c *Classifier) Classify(method, path string, f BodyFlags) Category {
	// Strip the query string; flags arrive pre-parsed.
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, r := range c.rules {
		if r.match(method, path, f) {
			return r.category(f)
		}
	}
	return Category{}
}
