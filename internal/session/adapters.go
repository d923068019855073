package session

import (
	"fmt"

	"github.com/roach88/driverbench/internal/driver"
	"github.com/roach88/driverbench/internal/driver/httpd1"
	"github.com/roach88/driverbench/internal/driver/postgres"
	"github.com/roach88/driverbench/internal/driver/sqlite"
)

// newManager selects the backend-specific adapter manager for a connection
// url. Pure mapping on the provider tag, no fallback.
func newManager(url string) (driver.Manager, error) {
	provider, err := driver.ParseProvider(url)
	if err != nil {
		return nil, err
	}
	switch provider {
	case driver.ProviderSQLite:
		return sqlite.NewManager(url)
	case driver.ProviderPostgres:
		return postgres.NewManager(url)
	case driver.ProviderD1:
		return httpd1.NewManager(url)
	default:
		return nil, fmt.Errorf("no adapter for provider %s", provider)
	}
}
