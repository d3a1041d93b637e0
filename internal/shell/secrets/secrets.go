// Package secrets resolves configuration values stored in Google Secret
// Manager.
//
// A value of the form sm://<secret> or
// sm://projects/<project>/secrets/<secret>/versions/<version> names a secret
// version. A #field suffix selects one top-level field of a JSON payload, so
// one credentials blob can feed several settings. Other values are returned
// unchanged.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Scheme prefixes values that must be resolved.
const Scheme = "sm://"

var (
	ErrInvalidReference = errors.New("invalid secret reference")
	ErrMissingProject   = errors.New("secret project is not configured")
	ErrMissingField     = errors.New("secret field not found")
)

// Accessor reads the payload of a fully qualified secret version.
type Accessor interface {
	Access(ctx context.Context, name string) ([]byte, error)
}

// IsReference reports whether a value must be resolved.
func IsReference(value string) bool {
	return strings.HasPrefix(value, Scheme)
}

// Reference is a parsed sm:// value.
type Reference struct {
	Name  string // projects/<p>/secrets/<s>/versions/<v>
	Field string
}

// ParseReference parses an sm:// value. Short names are qualified with
// project and the latest version.
func ParseReference(value, project string) (Reference, error) {
	rest, ok := strings.CutPrefix(value, Scheme)
	if !ok || rest == "" {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, value)
	}

	var ref Reference
	rest, ref.Field, _ = strings.Cut(rest, "#")

	if strings.HasPrefix(rest, "projects/") {
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 4 && parts[2] == "secrets":
			rest += "/versions/latest"
		case len(parts) == 6 && parts[2] == "secrets" && parts[4] == "versions":
		default:
			return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, value)
		}
		for _, p := range parts {
			if p == "" {
				return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, value)
			}
		}
		ref.Name = rest
		return ref, nil
	}

	if strings.Contains(rest, "/") {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, value)
	}
	if project == "" {
		return Reference{}, fmt.Errorf("%w: %q", ErrMissingProject, value)
	}
	ref.Name = fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, rest)
	return ref, nil
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver resolves sm:// values, reading each secret version once.
type Resolver struct {
	accessor Accessor
	project  string

	mu    sync.Mutex
	cache map[string][]byte
}

// NewResolver creates a resolver. project qualifies short secret names.
func NewResolver(accessor Accessor, project string) *Resolver {
	return &Resolver{
		accessor: accessor,
		project:  project,
		cache:    make(map[string][]byte),
	}
}

// Resolve returns value itself, or the secret it references.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}

	ref, err := ParseReference(value, r.project)
	if err != nil {
		return "", err
	}

	payload, err := r.payload(ctx, ref.Name)
	if err != nil {
		return "", err
	}

	if ref.Field == "" {
		return strings.TrimSpace(string(payload)), nil
	}
	return field(payload, ref)
}

// ResolveAll resolves each pointer in place.
func (r *Resolver) ResolveAll(ctx context.Context, values ...*string) error {
	for _, v := range values {
		resolved, err := r.Resolve(ctx, *v)
		if err != nil {
			return err
		}
		*v = resolved
	}
	return nil
}

func (r *Resolver) payload(ctx context.Context, name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[name]; ok {
		return p, nil
	}
	p, err := r.accessor.Access(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("access secret %q: %w", name, err)
	}
	r.cache[name] = p
	return p, nil
}

func field(payload []byte, ref Reference) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", fmt.Errorf("secret %q is not a JSON object: %w", ref.Name, err)
	}
	v, ok := fields[ref.Field]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %q in %q", ErrMissingField, ref.Field, ref.Name)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	// Numbers and booleans keep their JSON text, e.g. a port.
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// =============================================================================
// Secret Manager Accessor
// =============================================================================

// ManagerAccessor reads secrets through the Secret Manager API using
// application default credentials.
type ManagerAccessor struct {
	client *secretmanager.Client
}

// NewManagerAccessor creates a Secret Manager client.
func NewManagerAccessor(ctx context.Context) (*ManagerAccessor, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("new secret manager client: %w", err)
	}
	return &ManagerAccessor{client: client}, nil
}

// Access implements Accessor.
func (m *ManagerAccessor) Access(ctx context.Context, name string) ([]byte, error) {
	result, err := m.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return nil, err
	}
	return result.GetPayload().GetData(), nil
}

// Close closes the underlying client.
func (m *ManagerAccessor) Close() error {
	return m.client.Close()
}
