package valkey

import (
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tollgatehq/tollgate/internal"
	"github.com/tollgatehq/tollgate/lib/challenge/store/storetest"
)

func init() {
	internal.UnbreakDocker()
}

func TestImpl(t *testing.T) {
	if os.Getenv("DONT_USE_NETWORK") != "" {
		t.Skip("test requires network egress")
		return
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	req := testcontainers.ContainerRequest{
		Image:      "valkey/valkey:8",
		WaitingFor: wait.ForLog("Ready to accept connections"),
	}
	valkeyC, err := testcontainers.GenericContainer(t.Context(), testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	testcontainers.CleanupContainer(t, valkeyC)
	if err != nil {
		t.Fatal(err)
	}

	containerIP, err := valkeyC.ContainerIP(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	storetest.Common(t, Factory{}, json.RawMessage(fmt.Sprintf(`{"url": "redis://%s:6379/0"}`, containerIP)))
}

func TestConfigValid(t *testing.T) {
	for _, tt := range []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "no url",
			config:  Config{},
			wantErr: true,
		},
		{
			name:    "bad url",
			config:  Config{URL: "://not-a-url"},
			wantErr: true,
		},
		{
			name:    "good url",
			config:  Config{URL: "redis://localhost:6379/0"},
			wantErr: false,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Valid()
			if tt.wantErr && err == nil {
				t.Error("wanted a validation error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("wanted config to validate but got: %v", err)
			}
		})
	}
}
