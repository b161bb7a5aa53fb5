package http

import (
	"context"
	"encoding/json"
	"fmt"
	"multiroom/internal/models"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDevServer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewDevServer(l.Addr().String(), []string{"ABC123"})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()

	check := func(code string) bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/api/rooms/%s/validate", l.Addr(), code))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var v models.ValidationResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
		return v.Valid
	}

	require.True(t, check("ABC123"))
	require.False(t, check("OTHER"))

	validateCalls, _ := srv.Stub().Calls()
	require.Equal(t, 2, validateCalls)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-errCh)
}
