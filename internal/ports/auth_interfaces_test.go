package ports_test

import (
	"testing"

	"github.com/merrymaker/scanner/internal/adapters/authroles"
	mmredis "github.com/merrymaker/scanner/internal/adapters/redis"
	"github.com/merrymaker/scanner/internal/ports"
)

// TestAdaptersImplementPorts verifies the concrete adapters satisfy the
// hexagonal ports at compile time.
func TestAdaptersImplementPorts(t *testing.T) {
	t.Helper()

	var _ ports.SessionStore = (*mmredis.SessionStore)(nil)
	var _ ports.RoleMapper = authroles.StaticRoleMapper{}
}
