package platform

import (
	"context"

	"github.com/clodo/orchestrate/pkg/types"
)

// Account describes the platform account the token is scoped to
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WorkerScript is a deployable worker artifact
type WorkerScript struct {
	Name     string            `json:"name"`
	Content  []byte            `json:"-"`
	Revision string            `json:"revision"`
	Bindings map[string]string `json:"bindings,omitempty"`
}

// D1Database is a provisioned database instance
type D1Database struct {
	ID      string `json:"uuid"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// D1Result holds the rows affected by a database query
type D1Result struct {
	Success      bool  `json:"success"`
	RowsAffected int64 `json:"rows_affected"`
}

// DNSRecord is a zone DNS entry
type DNSRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
}

// Zone is a domain zone under the account
type Zone struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// API is the upstream platform client surface. The production
// implementation is the rate-limited HTTP client; tests inject fakes.
type API interface {
	// Token and account
	VerifyToken(ctx context.Context) (*types.TokenVerification, error)
	GetAccount(ctx context.Context) (*Account, error)

	// Workers
	UploadWorker(ctx context.Context, script *WorkerScript) error
	GetWorker(ctx context.Context, name string) (*WorkerScript, error)
	DeleteWorker(ctx context.Context, name string) error
	PutWorkerSecret(ctx context.Context, script, name, value string) error
	DeleteWorkerSecret(ctx context.Context, script, name string) error

	// D1 databases
	CreateDatabase(ctx context.Context, name string) (*D1Database, error)
	ListDatabases(ctx context.Context) ([]*D1Database, error)
	DeleteDatabase(ctx context.Context, id string) error
	QueryDatabase(ctx context.Context, id, sql string) (*D1Result, error)

	// Zones and DNS
	ListZones(ctx context.Context) ([]*Zone, error)
	VerifyZoneOwnership(ctx context.Context, domain string) (bool, error)
	ListDNSRecords(ctx context.Context, domain string) ([]*DNSRecord, error)
	CreateDNSRecord(ctx context.Context, domain string, record *DNSRecord) (*DNSRecord, error)
	DeleteDNSRecord(ctx context.Context, domain, recordID string) error
}
