package assess

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/clodo/orchestrate/pkg/types"
)

// DeployManifest is the subset of wrangler.toml the assessor reads
type DeployManifest struct {
	Name        string            `toml:"name"`
	Main        string            `toml:"main"`
	Route       string            `toml:"route"`
	Routes      []string          `toml:"routes"`
	Vars        map[string]string `toml:"vars"`
	D1Databases []struct {
		Binding      string `toml:"binding"`
		DatabaseName string `toml:"database_name"`
		DatabaseID   string `toml:"database_id"`
	} `toml:"d1_databases"`
	KVNamespaces []struct {
		Binding string `toml:"binding"`
		ID      string `toml:"id"`
	} `toml:"kv_namespaces"`
	R2Buckets []struct {
		Binding    string `toml:"binding"`
		BucketName string `toml:"bucket_name"`
	} `toml:"r2_buckets"`
}

// packageManifest is the subset of package.json the assessor reads
type packageManifest struct {
	Name         string            `json:"name"`
	Dependencies map[string]string `json:"dependencies"`
}

// Discovery holds everything found in the service source directory
type Discovery struct {
	ServicePath    string
	DeployManifest *DeployManifest
	PackageName    string
	Dependencies   []string
	HasMigrations  bool
	MigrationsDir  string
	// Capabilities maps each discovered capability to its configuration
	// state (fully or partially configured)
	Capabilities map[types.Capability]types.GapState
	InferredType string
}

// Discover inspects servicePath for deploy config, package manifest,
// migrations, and routing. It never fails on a gap: missing artifacts
// simply narrow the discovered capability set.
func Discover(servicePath string) (*Discovery, error) {
	d := &Discovery{
		ServicePath:  servicePath,
		Capabilities: make(map[types.Capability]types.GapState),
	}

	if manifest := readDeployManifest(filepath.Join(servicePath, "wrangler.toml")); manifest != nil {
		d.DeployManifest = manifest
		d.Capabilities[types.CapDeployment] = types.GapFullyConfigured
		// wrangler manages worker secrets wherever a manifest exists
		d.Capabilities[types.CapSecrets] = types.GapPartiallyConfigured

		if manifest.Route != "" || len(manifest.Routes) > 0 {
			d.Capabilities[types.CapRouting] = types.GapFullyConfigured
		} else {
			d.Capabilities[types.CapRouting] = types.GapPartiallyConfigured
		}
		if len(manifest.D1Databases) > 0 {
			d.Capabilities[types.CapDatabase] = types.GapFullyConfigured
		}
		if len(manifest.KVNamespaces) > 0 {
			d.Capabilities[types.CapKVStorage] = types.GapFullyConfigured
		}
		if len(manifest.R2Buckets) > 0 {
			d.Capabilities[types.CapObjectStorage] = types.GapFullyConfigured
		}
	}

	if pkg := readPackageManifest(filepath.Join(servicePath, "package.json")); pkg != nil {
		d.PackageName = pkg.Name
		for dep := range pkg.Dependencies {
			d.Dependencies = append(d.Dependencies, dep)
		}
	}

	migrationsDir := filepath.Join(servicePath, "migrations")
	if info, err := os.Stat(migrationsDir); err == nil && info.IsDir() {
		d.HasMigrations = true
		d.MigrationsDir = migrationsDir
		if d.Capabilities[types.CapDatabase] != types.GapFullyConfigured {
			d.Capabilities[types.CapDatabase] = types.GapPartiallyConfigured
		}
	}

	d.InferredType = inferServiceType(d)
	return d, nil
}

func readDeployManifest(path string) *DeployManifest {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var manifest DeployManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil
	}
	return &manifest
}

func readPackageManifest(path string) *packageManifest {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var pkg packageManifest
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	return &pkg
}

// inferServiceType picks a type from the discovered artifacts when the
// user declared none. Auth dependencies win over storage shape; the
// platform's primary archetype (data-service) is the fallback for any
// service with a deploy manifest.
func inferServiceType(d *Discovery) string {
	for _, dep := range d.Dependencies {
		switch dep {
		case "jsonwebtoken", "jose", "oauth4webapi", "@clodo/auth":
			return "auth-service"
		}
	}
	if d.DeployManifest != nil {
		if len(d.DeployManifest.R2Buckets) > 0 && len(d.DeployManifest.D1Databases) == 0 {
			return "content-service"
		}
		if len(d.DeployManifest.Routes) > 1 {
			return "api-gateway"
		}
		return "data-service"
	}
	return "generic"
}
