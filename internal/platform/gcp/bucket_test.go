package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

// jsonAPI answers bucket metadata and insert calls the way the GCS JSON API
// does for names held by another project.
func jsonAPI(t *testing.T, attrsStatus, createStatus int) *gcsStore {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var status int
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/storage/v1/b/"):
			status = attrsStatus
		case r.Method == http.MethodPost && r.URL.Path == "/storage/v1/b":
			status = createStatus
		default:
			status = http.StatusNotImplemented
		}
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"kind":"storage#bucket","name":"nb-ns-x"}`))
			return
		}
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, status, http.StatusText(status))
	}))
	t.Cleanup(srv.Close)
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("storage.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	cfg := ObjectStorageConfig{Mode: ObjectStorageModeGCS, ProjectID: "proj-1", BucketPrefix: DefaultBucketPrefix, Location: DefaultBucketLocation}
	return newGateway(logger.Nop(), client, cfg, StoreOptions{MaxRetries: 2})
}

func TestNamespaceExistsForbiddenIsForeign(t *testing.T) {
	s := jsonAPI(t, http.StatusForbidden, http.StatusNotImplemented)
	exists, err := s.NamespaceExists(context.Background(), "nb-ns-x")
	if !errors.Is(err, ErrNamespaceForeign) {
		t.Fatalf("NamespaceExists: want ErrNamespaceForeign got %v", err)
	}
	if exists {
		t.Fatal("NamespaceExists: want=false got=true")
	}
}

func TestCreateNamespaceConflict(t *testing.T) {
	cases := []struct {
		name        string
		attrsStatus int
		want        error
	}{
		{"ours", http.StatusOK, ErrNamespaceExists},
		{"another project", http.StatusForbidden, ErrNamespaceForeign},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := jsonAPI(t, tc.attrsStatus, http.StatusConflict)
			if err := s.CreateNamespace(context.Background(), "nb-ns-x"); !errors.Is(err, tc.want) {
				t.Fatalf("CreateNamespace: want %v got %v", tc.want, err)
			}
		})
	}
}
