package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactDSN(t *testing.T) {
	require.Equal(t, "postgres://***@db:5432/wpmcp", redactDSN("postgres://wpmcp:s3cret@db:5432/wpmcp"))
	require.Equal(t, "postgres://***@db/x", redactDSN("postgres://u:p@ss@db/x"))
	require.Equal(t, "host=db dbname=x", redactDSN("host=db dbname=x"))
}
