package config

import (
	"fmt"
	"testing"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
)

func embedded(v string) commoncfg.SourceRef {
	return commoncfg.SourceRef{Source: "embedded", Value: v}
}

func TestMakeConnStr(t *testing.T) {
	tests := []struct {
		name        string
		conf        Database
		wantConnStr string
		assertErr   assert.ErrorAssertionFunc
	}{
		{
			name: "Make connection string",
			conf: Database{
				Host:     embedded("db.example.supabase.co"),
				User:     embedded("postgres"),
				Password: embedded("s3cret"),
				Name:     "postgres",
				Port:     "5432",
			},
			wantConnStr: "host=db.example.supabase.co user=postgres password=s3cret dbname=postgres port=5432",
			assertErr:   assert.NoError,
		},
		{
			name: "With sslmode",
			conf: Database{
				Host:     embedded("localhost"),
				User:     embedded("postgres"),
				Password: embedded("secret"),
				Name:     "authsync",
				Port:     "5432",
				SSLMode:  "disable",
			},
			wantConnStr: "host=localhost user=postgres password=secret dbname=authsync port=5432 sslmode=disable",
			assertErr:   assert.NoError,
		},
		{
			name: "Error - invalid host source",
			conf: Database{
				Host:     commoncfg.SourceRef{Source: "invalid-source", Value: "my_host"},
				User:     embedded("my_user"),
				Password: embedded("my_password"),
			},
			assertErr: assert.Error,
		},
		{
			name: "Error - invalid user source",
			conf: Database{
				Host:     embedded("my_host"),
				User:     commoncfg.SourceRef{Source: "invalid-source", Value: "my_user"},
				Password: embedded("my_password"),
			},
			assertErr: assert.Error,
		},
		{
			name: "Error - invalid password source",
			conf: Database{
				Host:     embedded("my_host"),
				User:     embedded("my_user"),
				Password: commoncfg.SourceRef{Source: "invalid-source", Value: "my_password"},
			},
			assertErr: assert.Error,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connStr, err := MakeConnStr(tt.conf)
			if !tt.assertErr(t, err, fmt.Sprintf("MakeConnStr() error = %v", err)) || err != nil {
				return
			}

			assert.Equal(t, tt.wantConnStr, connStr, "MakeConnStr() = %v", connStr)
		})
	}
}
