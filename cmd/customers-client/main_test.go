package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/customer-orders/internal/apiclient"
	"github.com/mmeshcher/customer-orders/internal/config"
	"github.com/mmeshcher/customer-orders/internal/model"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name      string
		customers string
		want      string
	}{
		{
			name:      "customers",
			customers: `[{"customerId":1,"name":"JOHN DOE","orders":[]},{"customerId":2,"name":null,"orders":null}]`,
			want:      "Customer: JOHN DOE (ID: 1)\nCustomer:  (ID: 2)\n",
		},
		{
			name:      "null list",
			customers: `null`,
			want:      "No customers found.\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/api/token":
					_, _ = io.WriteString(w, `{"token":"abc","expiration":"2030-01-01T00:00:00Z"}`)
				case "/api/customers":
					if r.Header.Get("Authorization") != "Bearer abc" {
						w.WriteHeader(http.StatusUnauthorized)
						return
					}
					_, _ = io.WriteString(w, tt.customers)
				default:
					w.WriteHeader(http.StatusNotFound)
				}
			}))
			defer srv.Close()

			client := apiclient.NewClient(srv.URL, apiclient.WithRetryUnit(time.Millisecond))
			cfg := &config.ClientConfig{APIUsername: "admin", APIPassword: "secret"}

			var out bytes.Buffer
			require.NoError(t, run(context.Background(), client, cfg, &out))
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestRun_TokenFailureStops(t *testing.T) {
	fetched := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/customers" {
			fetched = true
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := apiclient.NewClient(srv.URL, apiclient.WithRetryUnit(time.Millisecond))

	var out bytes.Buffer
	err := run(context.Background(), client, &config.ClientConfig{}, &out)
	require.Error(t, err)
	assert.False(t, fetched)
	assert.Empty(t, out.String())
}

func TestPrintCustomers(t *testing.T) {
	var out bytes.Buffer
	printCustomers(&out, []model.Customer{{CustomerID: 3, Name: model.StringPtr("JANE")}})
	assert.Equal(t, "Customer: JANE (ID: 3)\n", out.String())
}
