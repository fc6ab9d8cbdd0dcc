package memory

import (
	"errors"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/permission"
)

// Seed is a fixture of tenants, roles and users, usually decoded from TOML:
//
//	[[tenants]]
//	id = "acme"
//	name = "Acme"
//
//	[[roles]]
//	id = "acme-admin"
//	tenant = "acme"
//	permissions = ["acme:users:read", "acme:users:write"]
//
//	[[users]]
//	email = "alice@acme.test"
//	password = "correct-horse"
//	roles = ["acme-admin"]
type Seed struct {
	Tenants []SeedTenant `toml:"tenants"`
	Roles   []SeedRole   `toml:"roles"`
	Users   []SeedUser   `toml:"users"`
}

// SeedTenant is one tenant in a Seed. Tenants are active unless Inactive is set.
type SeedTenant struct {
	ID       string         `toml:"id"`
	Name     string         `toml:"name"`
	Inactive bool           `toml:"inactive"`
	Settings map[string]any `toml:"settings"`
}

// SeedRole is one role in a Seed. Permissions use the wire form
// "resource:action" or "tenant:resource:action".
type SeedRole struct {
	ID          string   `toml:"id"`
	Name        string   `toml:"name"`
	Tenant      string   `toml:"tenant"`
	Permissions []string `toml:"permissions"`
	Protected   bool     `toml:"protected"`
	Superadmin  bool     `toml:"superadmin"`
}

// SeedUser is one user in a Seed.
type SeedUser struct {
	ID          string         `toml:"id"`
	Email       string         `toml:"email"`
	Password    string         `toml:"password"`
	DisplayName string         `toml:"display_name"`
	Disabled    bool           `toml:"disabled"`
	Roles       []string       `toml:"roles"`
	Metadata    map[string]any `toml:"metadata"`
}

// DecodeSeed reads a TOML seed.
func DecodeSeed(r io.Reader) (Seed, error) {
	var seed Seed
	md, err := toml.NewDecoder(r).Decode(&seed)
	if err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Seed{}, fmt.Errorf("decode seed: unknown key %q", undecoded[0].String())
	}
	return seed, nil
}

// LoadSeedFile decodes the TOML seed at path.
func LoadSeedFile(path string) (Seed, error) {
	var seed Seed
	md, err := toml.DecodeFile(path, &seed)
	if err != nil {
		return Seed{}, fmt.Errorf("decode seed %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Seed{}, fmt.Errorf("decode seed %s: unknown key %q", path, undecoded[0].String())
	}
	return seed, nil
}

// Apply registers the seed's tenants, then roles, then users with their grants.
func (p *Provider) Apply(seed Seed) error {
	for _, t := range seed.Tenants {
		if t.ID == "" {
			return errors.New("seed tenant without id")
		}
		p.AddTenant(goAuthCore.Tenant{ID: t.ID, Name: t.Name, Active: !t.Inactive, Settings: t.Settings})
	}

	for _, r := range seed.Roles {
		if r.ID == "" {
			return errors.New("seed role without id")
		}
		perms, err := permission.ParseAll(r.Permissions)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", r.ID, err)
		}
		name := r.Name
		if name == "" {
			name = r.ID
		}
		p.AddRole(goAuthCore.Role{
			ID:           r.ID,
			Name:         name,
			TenantID:     r.Tenant,
			Permissions:  perms,
			IsProtected:  r.Protected,
			IsSuperadmin: r.Superadmin,
		})
	}

	for _, su := range seed.Users {
		id, err := p.AddUser(NewUser{
			ID:          su.ID,
			Email:       su.Email,
			Password:    su.Password,
			DisplayName: su.DisplayName,
			Disabled:    su.Disabled,
			Metadata:    su.Metadata,
		})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", su.Email, err)
		}
		for _, roleID := range su.Roles {
			if err := p.Grant(id, roleID); err != nil {
				return fmt.Errorf("seed user %s role %s: %w", su.Email, roleID, err)
			}
		}
	}
	return nil
}
