package testutil

import (
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type CouchDBContainer struct {
	DSN       string
	Terminate func()
}

// Start container with couchdb for audit store tests
// Should be stopped when tests stopped
func StartCouchDBContainer(t *testing.T) CouchDBContainer {
	t.Helper()

	cmd := exec.Command("docker", "info", "--format", "{{.ServerVersion}}")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("test failed: docker rootless not available or not running. Err:%s", out)
	}

	container, err := testcontainers.GenericContainer(t.Context(), testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "couchdb:3",
			Env: map[string]string{
				"COUCHDB_USER":     "admin",
				"COUCHDB_PASSWORD": "pwd",
			},
			ExposedPorts: []string{"5984/tcp"},
			WaitingFor:   wait.ForHTTP("/_up").WithPort("5984/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "Error happened when starting container with couchdb")

	host, err := container.Host(t.Context())
	require.NoError(t, err)
	port, err := container.MappedPort(t.Context(), "5984")
	require.NoError(t, err)

	dsn := fmt.Sprintf("http://admin:pwd@%s:%s/", host, port.Port())
	t.Logf("Container with couchdb started, DSN=%v", dsn)

	return CouchDBContainer{
		DSN: dsn,
		Terminate: func() {
			testcontainers.CleanupContainer(t, container)
		},
	}
}
