// Package identity loads persisted agent keypairs with role and capability
// tags, and answers address/role/capability lookups for the rest of the
// orchestrator (spec §3 "Agent identity", §4 Identity Registry).
//
// Identities are immutable once loaded: bootstrap() loads the set once and
// the rest of the process only reads it, matching spec §1's non-goal of
// generating cryptographic identities — they come from disk, never minted
// here.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
)

// Role is the identity's function in the marketplace (spec §3).
type Role string

const (
	RoleBusiness  Role = "business"
	RoleEmployer  Role = "employer"
	RoleAgent     Role = "agent"
	RoleValidator Role = "validator"
)

// Identity is one loaded agent/employer/business/validator keypair record.
type Identity struct {
	Address      ledger.Address
	Role         Role
	ENS          string
	Label        string
	Capabilities map[string]struct{}

	// PrivateKeyHex is opaque signing material loaded from disk. The
	// orchestrator never derives or persists key material itself.
	PrivateKeyHex string
}

// HasCapability reports whether the identity advertises category.
func (id Identity) HasCapability(category string) bool {
	_, ok := id.Capabilities[strings.ToLower(category)]
	return ok
}

// Subdomain returns the first label of the identity's ENS name if present,
// else its chosen label, else its address (spec §4.1 step 1).
func (id Identity) Subdomain() string {
	if id.ENS != "" {
		if dot := strings.IndexByte(id.ENS, '.'); dot >= 0 {
			return id.ENS[:dot]
		}
		return id.ENS
	}
	if id.Label != "" {
		return id.Label
	}
	return string(id.Address)
}

// record is the on-disk JSON shape of one identity file.
type record struct {
	Address      string   `json:"address"`
	Role         string   `json:"role"`
	ENS          string   `json:"ens,omitempty"`
	Label        string   `json:"label,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	PrivateKey   string   `json:"privateKey,omitempty"`
}

// Registry is the immutable set of identities loaded at bootstrap.
type Registry struct {
	byAddress map[ledger.Address]Identity
	byRole    map[Role][]Identity
	ordered   []Identity
}

// Load reads every *.json file in dir as an identity record. Returns an
// error if the directory cannot be read or if it contains zero valid
// identities (spec §7 "Identity-load-failure" is fatal to bootstrap).
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read identity dir %q: %w", dir, err)
	}

	reg := &Registry{
		byAddress: make(map[ledger.Address]Identity),
		byRole:    make(map[Role][]Identity),
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read identity file %q: %w", path, err)
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("parse identity file %q: %w", path, err)
		}
		id, err := fromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("identity file %q: %w", path, err)
		}
		reg.add(id)
	}

	if len(reg.ordered) == 0 {
		return nil, fmt.Errorf("identity dir %q contains no valid identities", dir)
	}
	return reg, nil
}

func fromRecord(rec record) (Identity, error) {
	if rec.Address == "" {
		return Identity{}, fmt.Errorf("missing address")
	}
	role := Role(strings.ToLower(rec.Role))
	switch role {
	case RoleBusiness, RoleEmployer, RoleAgent, RoleValidator:
	default:
		return Identity{}, fmt.Errorf("unknown role %q", rec.Role)
	}

	caps := make(map[string]struct{}, len(rec.Capabilities))
	for _, c := range rec.Capabilities {
		caps[strings.ToLower(c)] = struct{}{}
	}

	return Identity{
		Address:       ledger.Address(rec.Address),
		Role:          role,
		ENS:           rec.ENS,
		Label:         rec.Label,
		Capabilities:  caps,
		PrivateKeyHex: rec.PrivateKey,
	}, nil
}

func (r *Registry) add(id Identity) {
	r.byAddress[id.Address.Lower()] = id
	r.byRole[id.Role] = append(r.byRole[id.Role], id)
	r.ordered = append(r.ordered, id)
}

// Get looks up an identity by address, case-insensitively.
func (r *Registry) Get(addr ledger.Address) (Identity, bool) {
	id, ok := r.byAddress[addr.Lower()]
	return id, ok
}

// ByRole returns every loaded identity with the given role, in load order.
func (r *Registry) ByRole(role Role) []Identity {
	return append([]Identity(nil), r.byRole[role]...)
}

// All returns every loaded identity, in load order.
func (r *Registry) All() []Identity {
	return append([]Identity(nil), r.ordered...)
}

// OrchestratorIdentity picks the identity the controller acts as: the first
// role=business identity, else the first role=employer identity (spec §4.1
// bootstrap step 1).
func (r *Registry) OrchestratorIdentity() (Identity, bool) {
	if ids := r.byRole[RoleBusiness]; len(ids) > 0 {
		return ids[0], true
	}
	if ids := r.byRole[RoleEmployer]; len(ids) > 0 {
		return ids[0], true
	}
	return Identity{}, false
}

// WithCapability returns every agent-role identity advertising category.
func (r *Registry) WithCapability(category string) []Identity {
	var out []Identity
	for _, id := range r.byRole[RoleAgent] {
		if id.HasCapability(category) {
			out = append(out, id)
		}
	}
	return out
}
