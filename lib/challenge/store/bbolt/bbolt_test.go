package bbolt

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/tollgatehq/tollgate/lib/challenge/store/storetest"
)

func TestImpl(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tollgate.db")

	storetest.Common(t, Factory{}, json.RawMessage(fmt.Sprintf(`{"path": %q}`, path)))
}

func TestConfigValid(t *testing.T) {
	for _, tt := range []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "missing path",
			config:  Config{},
			wantErr: true,
		},
		{
			name:    "unwritable path",
			config:  Config{Path: "/nonexistent/dir/tollgate.db"},
			wantErr: true,
		},
		{
			name:    "writable path",
			config:  Config{Path: filepath.Join(t.TempDir(), "tollgate.db")},
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
