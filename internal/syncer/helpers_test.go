package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/TGOO-Worldwide/siliviat-app/internal/client"

	"go.uber.org/zap"
)

// clientError produces the error the real API client returns for a status
// and error code, so classification runs through production code.
func clientError(status int, code string) error {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":"rejected","code":%q}`, code)
	}))
	defer srv.Close()

	c := client.NewAPIClient(srv.URL, "", time.Second, zap.NewNop())
	_, err := c.CreateCompany(context.Background(), json.RawMessage(`{}`))
	return err
}
