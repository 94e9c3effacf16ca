package task

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTrigger(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
		auth  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	trigger := NewHTTPTrigger(srv.URL+"/", " internal-secret-value \n", time.Second, discardLogger())

	id := uuid.New()
	require.NoError(t, trigger.Dispatch(id))
	trigger.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"POST /internal/conversions/" + id.String() + "/generate"}, paths)
	assert.Equal(t, []string{"Bearer internal-secret-value"}, auth)
}

func TestHTTPTrigger_ServerDownDoesNotFailDispatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	trigger := NewHTTPTrigger(url, "secret", time.Second, discardLogger())
	assert.NoError(t, trigger.Dispatch(uuid.New()))
	trigger.Wait()
}
